package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kenneth/chunkvault/internal/vaulterr"
)

const tempPrefix = ".chunkvault-"

// Local stores objects as files below a base directory.
type Local struct {
	baseDir string
}

var (
	_ Backend         = (*Local)(nil)
	_ LocationRemover = (*Local)(nil)
)

// NewLocal returns a backend rooted at baseDir, creating it if needed.
func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		baseDir = "."
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, vaulterr.IO("resolve base dir", baseDir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, vaulterr.IO("create base dir", abs, err)
	}
	return &Local{baseDir: abs}, nil
}

// BaseDir returns the absolute root of the backend.
func (l *Local) BaseDir() string {
	return l.baseDir
}

func (l *Local) pathFor(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", fmt.Errorf("%q: %w", key, err)
	}
	return filepath.Join(l.baseDir, filepath.FromSlash(cleaned)), nil
}

// Put writes data to the file for key, replacing any previous content.
func (l *Local) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return vaulterr.Storage("put", key, err)
	}
	p, err := l.pathFor(key)
	if err != nil {
		return vaulterr.Storage("put", key, err)
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return vaulterr.Storage("put", key, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return vaulterr.Storage("put", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return vaulterr.Storage("put", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return vaulterr.Storage("put", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return vaulterr.Storage("put", key, err)
	}
	return nil
}

// Get reads the file for key.
func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, vaulterr.Storage("get", key, err)
	}
	p, err := l.pathFor(key)
	if err != nil {
		return nil, vaulterr.Storage("get", key, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, vaulterr.Storage("get", key, ErrNotFound)
		}
		return nil, vaulterr.Storage("get", key, err)
	}
	return data, nil
}

// Delete removes the file for key. A missing file is not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return vaulterr.Storage("delete", key, err)
	}
	p, err := l.pathFor(key)
	if err != nil {
		return vaulterr.Storage("delete", key, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return vaulterr.Storage("delete", key, err)
	}
	return nil
}

// List returns the keys of all files whose slash-separated relative path
// starts with prefix, sorted lexically.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, vaulterr.Storage("list", prefix, err)
	}
	prefix = strings.TrimPrefix(strings.ReplaceAll(prefix, "\\", "/"), "/")

	root := l.baseDir
	if dir := prefixDir(prefix); dir != "" {
		if _, err := cleanKey(dir); err != nil {
			return nil, vaulterr.Storage("list", prefix, err)
		}
		root = filepath.Join(l.baseDir, filepath.FromSlash(dir))
	}

	keys := []string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(l.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, vaulterr.Storage("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// RemoveLocation removes the directory for location if it is empty. A
// missing directory is not an error.
func (l *Local) RemoveLocation(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return vaulterr.Storage("remove location", location, err)
	}
	p, err := l.pathFor(location)
	if err != nil {
		return vaulterr.Storage("remove location", location, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return vaulterr.Storage("remove location", location, err)
	}
	return nil
}

// prefixDir returns the deepest directory that contains every key
// matching prefix.
func prefixDir(prefix string) string {
	if prefix == "" {
		return ""
	}
	if strings.HasSuffix(prefix, "/") {
		return strings.TrimSuffix(prefix, "/")
	}
	if dir := path.Dir(prefix); dir != "." {
		return dir
	}
	return ""
}
