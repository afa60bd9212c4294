package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_WritesUnderBaseDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewLocal(dir)
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "enc/sub/0_a.bin", []byte("chunk")))

	data, err := os.ReadFile(filepath.Join(dir, "enc", "sub", "0_a.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk"), data)

	entries, err := os.ReadDir(filepath.Join(dir, "enc", "sub"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestLocal_CreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "root")
	b, err := NewLocal(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, b.BaseDir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocal_RemoveLocation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewLocal(dir)
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "enc/0_a.bin", []byte("x")))
	assert.Error(t, b.RemoveLocation(ctx, "enc"), "non-empty location stays")

	require.NoError(t, b.Delete(ctx, "enc/0_a.bin"))
	require.NoError(t, b.RemoveLocation(ctx, "enc"))

	_, err = os.Stat(filepath.Join(dir, "enc"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, b.RemoveLocation(ctx, "enc"), "missing location is fine")
}

func TestLocal_ListWithoutTrailingSlash(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "enc/0_a.bin", []byte("x")))
	require.NoError(t, b.Put(ctx, "enc/10_b.bin", []byte("x")))
	require.NoError(t, b.Put(ctx, "enc/2_c.bin", []byte("x")))

	keys, err := b.List(ctx, "enc/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"enc/10_b.bin"}, keys)

	all, err := b.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"enc/0_a.bin", "enc/10_b.bin", "enc/2_c.bin"}, all)
}

func TestLocal_CancelledContext(t *testing.T) {
	b, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, b.Put(ctx, "k", []byte("x")), context.Canceled)
}
