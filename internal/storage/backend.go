// Package storage provides the key/value object stores that hold encrypted
// chunks and keystore documents.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a key does not exist in the backend.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that are empty or escape the
	// backend's namespace.
	ErrInvalidKey = errors.New("invalid object key")
)

// Backend is a flat key/value object store. Keys are slash-separated.
//
// Implementations must be safe for concurrent use. Deleting an absent key
// succeeds, and listing a prefix without matches returns an empty slice.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// LocationRemover is implemented by backends that materialize locations,
// such as directories, that must be removed once emptied.
type LocationRemover interface {
	RemoveLocation(ctx context.Context, location string) error
}

// BatchDeleter is implemented by backends that can delete many keys in a
// single call.
type BatchDeleter interface {
	DeleteMany(ctx context.Context, keys []string) error
}

// DeleteAll removes every key, using the backend's batch delete when it
// has one.
func DeleteAll(ctx context.Context, b Backend, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if bd, ok := b.(BatchDeleter); ok {
		return bd.DeleteMany(ctx, keys)
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// cleanKey validates and canonicalizes an object key.
func cleanKey(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, 0) {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(strings.ReplaceAll(key, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "." || cleaned == "" || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
