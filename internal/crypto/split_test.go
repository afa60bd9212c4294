package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/chunkvault/internal/vaulterr"
)

func TestSplit_HelloWorld(t *testing.T) {
	chunks, err := Split([]byte("Hello, World!"), 5)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hello", string(chunks[0]))
	assert.Equal(t, ", Wor", string(chunks[1]))
	assert.Equal(t, "ld!", string(chunks[2]))
}

func TestSplit_ChunkCount(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 1000)

	tests := []struct {
		size     int
		expected int
	}{
		{1, 1000},
		{3, 334},
		{10, 100},
		{999, 2},
		{1000, 1},
		{5000, 1},
	}

	for _, tt := range tests {
		chunks, err := Split(data, tt.size)
		require.NoError(t, err)
		assert.Len(t, chunks, tt.expected, "chunk size %d", tt.size)
		assert.Equal(t, data, bytes.Join(chunks, nil), "chunk size %d", tt.size)
	}
}

func TestSplit_Empty(t *testing.T) {
	chunks, err := Split(nil, 4)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = Split([]byte{}, 1)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_InvalidChunkSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := Split([]byte("abc"), size)
		assert.True(t, errors.Is(err, vaulterr.ErrConfig), "size %d: got %v", size, err)
	}
}

func TestSplit_BinarySafe(t *testing.T) {
	// "é" is two bytes in UTF-8; splitting at one byte must not alter data.
	data := []byte("é\x00\xff")
	chunks, err := Split(data, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.Equal(t, []byte{0xc3}, chunks[0])
	assert.Equal(t, []byte{0xa9}, chunks[1])
}

func TestSplit_ChunksDoNotOverlapOnAppend(t *testing.T) {
	data := []byte("abcdef")
	chunks, err := Split(data, 2)
	require.NoError(t, err)

	_ = append(chunks[0], 'X')
	assert.Equal(t, "abcdef", string(data))
}
