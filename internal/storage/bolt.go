package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kenneth/chunkvault/internal/vaulterr"
)

var chunkBucket = []byte("chunks")

// Bolt stores objects in a single bucket of an embedded BBolt database.
type Bolt struct {
	db *bbolt.DB
}

var (
	_ Backend      = (*Bolt)(nil)
	_ BatchDeleter = (*Bolt)(nil)
)

// NewBolt returns a backend over an already opened database.
func NewBolt(db *bbolt.DB) (*Bolt, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chunkBucket)
		return err
	})
	if err != nil {
		return nil, vaulterr.Storage("init bucket", string(chunkBucket), err)
	}
	return &Bolt{db: db}, nil
}

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, vaulterr.Storage("open", path, fmt.Errorf("opening bbolt db: %w", err))
	}
	b, err := NewBolt(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Close closes the underlying database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Put stores data under key.
func (b *Bolt) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return vaulterr.Storage("put", key, err)
	}
	k, err := cleanKey(key)
	if err != nil {
		return vaulterr.Storage("put", key, err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(chunkBucket).Put([]byte(k), data)
	})
	if err != nil {
		return vaulterr.Storage("put", key, err)
	}
	return nil
}

// Get returns a copy of the value stored under key.
func (b *Bolt) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, vaulterr.Storage("get", key, err)
	}
	k, err := cleanKey(key)
	if err != nil {
		return nil, vaulterr.Storage("get", key, err)
	}
	var data []byte
	err = b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(chunkBucket).Get([]byte(k))
		if v == nil {
			return ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		data = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, vaulterr.Storage("get", key, err)
	}
	return data, nil
}

// Delete removes key. A missing key is not an error.
func (b *Bolt) Delete(ctx context.Context, key string) error {
	return b.DeleteMany(ctx, []string{key})
}

// DeleteMany removes all keys in one transaction.
func (b *Bolt) DeleteMany(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return vaulterr.Storage("delete", "", err)
	}
	cleaned := make([][]byte, 0, len(keys))
	for _, key := range keys {
		k, err := cleanKey(key)
		if err != nil {
			return vaulterr.Storage("delete", key, err)
		}
		cleaned = append(cleaned, []byte(k))
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(chunkBucket)
		for _, k := range cleaned {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return vaulterr.Storage("delete", "", err)
	}
	return nil
}

// List returns all keys starting with prefix in byte order.
func (b *Bolt) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, vaulterr.Storage("list", prefix, err)
	}
	keys := []string{}
	p := []byte(prefix)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(chunkBucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, vaulterr.Storage("list", prefix, err)
	}
	return keys, nil
}
