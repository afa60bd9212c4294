package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/chunkvault/internal/vaulterr"
)

func nonceOf(size int, fill byte) []byte {
	n := make([]byte, size)
	for i := range n {
		n[i] = fill
	}
	return n
}

func TestNewKeyStore(t *testing.T) {
	ks, err := NewKeyStore("./medium_sized_file.txt", "enc", "")
	require.NoError(t, err)

	assert.Equal(t, "./medium_sized_file.txt", ks.SourceIdentity)
	assert.Equal(t, "enc", ks.StorageLocation)
	assert.Equal(t, DefaultAlgorithm, ks.Algorithm)
	assert.Len(t, ks.MasterKey, KeySize)
	assert.Equal(t, 0, ks.Len())

	other, err := NewKeyStore("./medium_sized_file.txt", "enc", "")
	require.NoError(t, err)
	assert.NotEqual(t, ks.MasterKey, other.MasterKey, "master keys must not repeat across sessions")
}

func TestNewKeyStore_UnsupportedAlgorithm(t *testing.T) {
	_, err := NewKeyStore("f", "enc", "ROT13")
	assert.True(t, errors.Is(err, vaulterr.ErrCrypto))
}

func TestKeyStore_RecordDuplicateName(t *testing.T) {
	ks, err := NewKeyStore("f", "enc", AlgorithmChaCha20Poly1305)
	require.NoError(t, err)

	require.NoError(t, ks.Record("enc/0_a.bin", nonceOf(12, 1)))
	err = ks.Record("enc/0_a.bin", nonceOf(12, 2))
	assert.True(t, errors.Is(err, vaulterr.ErrConfig), "got %v", err)
	assert.Equal(t, 1, ks.Len())
}

func TestKeyStore_RecordRejectsNonceReuse(t *testing.T) {
	ks, err := NewKeyStore("f", "enc", AlgorithmChaCha20Poly1305)
	require.NoError(t, err)

	require.NoError(t, ks.Record("enc/0_a.bin", nonceOf(12, 7)))
	err = ks.Record("enc/1_b.bin", nonceOf(12, 7))
	assert.True(t, errors.Is(err, vaulterr.ErrCrypto), "got %v", err)
}

func TestKeyStore_RecordRejectsWrongNonceSize(t *testing.T) {
	ks, err := NewKeyStore("f", "enc", AlgorithmXChaCha20Poly1305)
	require.NoError(t, err)

	err = ks.Record("enc/0_a.bin", nonceOf(12, 1))
	assert.True(t, errors.Is(err, vaulterr.ErrCrypto), "got %v", err)
	require.NoError(t, ks.Record("enc/0_a.bin", nonceOf(24, 1)))
}

func TestKeyStore_RecordCopiesNonce(t *testing.T) {
	ks, err := NewKeyStore("f", "enc", "")
	require.NoError(t, err)

	nonce := nonceOf(12, 3)
	require.NoError(t, ks.Record("enc/0_a.bin", nonce))
	nonce[0] = 0xFF

	stored, ok := ks.Nonce("enc/0_a.bin")
	require.True(t, ok)
	assert.Equal(t, byte(3), stored[0])
}

func TestKeyStore_OrderedChunkNames(t *testing.T) {
	ks, err := NewKeyStore("f", "enc", "")
	require.NoError(t, err)

	for i, name := range []string{"0_a", "1_b", "10_c", "2_d", "11_e"} {
		require.NoError(t, ks.Record(name, nonceOf(12, byte(i+1))))
	}

	assert.Equal(t, []string{"0_a", "1_b", "2_d", "10_c", "11_e"}, ks.OrderedChunkNames())
}

func TestKeyStore_OrderedChunkNamesWithLocation(t *testing.T) {
	ks, err := NewKeyStore("f", "run-7", "")
	require.NoError(t, err)

	var names []string
	for i := 0; i < 25; i++ {
		names = append(names, ChunkName("run-7", i))
	}
	// Record in reverse so insertion order cannot mask a bad sort.
	for i := len(names) - 1; i >= 0; i-- {
		require.NoError(t, ks.Record(names[i], nonceOf(12, byte(i+1))))
	}

	assert.Equal(t, names, ks.OrderedChunkNames())
}

func TestKeyStore_DocumentRoundTrip(t *testing.T) {
	ks, err := NewKeyStore("notes.txt", "enc", AlgorithmXChaCha20Poly1305)
	require.NoError(t, err)
	require.NoError(t, ks.Record("enc/0_a.bin", nonceOf(24, 1)))
	require.NoError(t, ks.Record("enc/1_b.bin", nonceOf(24, 2)))

	doc, err := ks.MarshalDocument()
	require.NoError(t, err)

	parsed, err := ParseDocument(doc)
	require.NoError(t, err)

	assert.Equal(t, ks.SourceIdentity, parsed.SourceIdentity)
	assert.Equal(t, ks.StorageLocation, parsed.StorageLocation)
	assert.Equal(t, ks.Algorithm, parsed.Algorithm)
	assert.Equal(t, ks.MasterKey, parsed.MasterKey)
	assert.Equal(t, ks.OrderedChunkNames(), parsed.OrderedChunkNames())
	for _, name := range ks.OrderedChunkNames() {
		want, _ := ks.Nonce(name)
		got, ok := parsed.Nonce(name)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestKeyStore_DocumentFieldNames(t *testing.T) {
	ks, err := NewKeyStore("notes.txt", "enc", "")
	require.NoError(t, err)

	doc, err := ks.MarshalDocument()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc, &raw))
	for _, field := range []string{"source_identity", "master_key", "chunk_records", "storage_location"} {
		assert.Contains(t, raw, field)
	}
	// An empty session still serializes an object, not null.
	assert.Equal(t, "{}", string(raw["chunk_records"]))
}

func TestParseDocument_DefaultsAlgorithm(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(nonceOf(32, 9))
	doc := `{"source_identity":"f","master_key":"` + key + `","chunk_records":{},"storage_location":"enc"}`

	ks, err := ParseDocument([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, AlgorithmChaCha20Poly1305, ks.Algorithm)
}

func TestParseDocument_Malformed(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(nonceOf(32, 9))
	shortKey := base64.StdEncoding.EncodeToString(nonceOf(16, 9))
	nonce := base64.StdEncoding.EncodeToString(nonceOf(12, 1))
	shortNonce := base64.StdEncoding.EncodeToString(nonceOf(8, 1))

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"source_identity":`},
		{"missing source", `{"master_key":"` + key + `","chunk_records":{},"storage_location":"enc"}`},
		{"missing key", `{"source_identity":"f","chunk_records":{},"storage_location":"enc"}`},
		{"missing records", `{"source_identity":"f","master_key":"` + key + `","storage_location":"enc"}`},
		{"missing location", `{"source_identity":"f","master_key":"` + key + `","chunk_records":{}}`},
		{"key not base64", `{"source_identity":"f","master_key":"!!","chunk_records":{},"storage_location":"enc"}`},
		{"short key", `{"source_identity":"f","master_key":"` + shortKey + `","chunk_records":{},"storage_location":"enc"}`},
		{"short nonce", `{"source_identity":"f","master_key":"` + key + `","chunk_records":{"enc/0_a.bin":"` + shortNonce + `"},"storage_location":"enc"}`},
		{"reused nonce", `{"source_identity":"f","master_key":"` + key + `","chunk_records":{"enc/0_a.bin":"` + nonce + `","enc/1_b.bin":"` + nonce + `"},"storage_location":"enc"}`},
		{"unknown algorithm", `{"source_identity":"f","algorithm":"DES","master_key":"` + key + `","chunk_records":{},"storage_location":"enc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.doc))
			assert.True(t, errors.Is(err, vaulterr.ErrSerialization), "got %v", err)
		})
	}
}

func TestChunkName(t *testing.T) {
	a := ChunkName("enc", 3)
	b := ChunkName("enc", 3)

	assert.True(t, strings.HasPrefix(a, "enc/3_"), a)
	assert.True(t, strings.HasSuffix(a, ".bin"), a)
	assert.NotEqual(t, a, b, "random suffix must make names unique")
}

func TestDocumentKeyOutsideChunkPrefix(t *testing.T) {
	assert.Equal(t, "keystore-enc.json", DocumentKey("enc"))
	assert.Equal(t, "keystore-a%2Fb.json", DocumentKey("a/b"))
	assert.False(t, strings.HasPrefix(DocumentKey("enc"), ChunkPrefix("enc")))
	assert.Equal(t, "enc/", ChunkPrefix("enc"))
}

func TestDocumentKeyDistinctPerLocation(t *testing.T) {
	locations := []string{"a/b", "a_b", "a%2Fb", "a-b", "a b", "a/b/c", "a/b_c", "a_b/c"}
	seen := make(map[string]string)
	for _, loc := range locations {
		key := DocumentKey(loc)
		if prev, ok := seen[key]; ok {
			t.Fatalf("DocumentKey(%q) == DocumentKey(%q) == %q", loc, prev, key)
		}
		seen[key] = loc
		assert.False(t, strings.HasPrefix(key, ChunkPrefix(loc)), "document of %q inside its chunk prefix", loc)
	}
}

func TestNormalizeLocation(t *testing.T) {
	assert.Equal(t, "enc", NormalizeLocation("./enc/"))
	assert.Equal(t, "a/b", NormalizeLocation("/a//b"))
	assert.Equal(t, "", NormalizeLocation(""))
	assert.Equal(t, "", NormalizeLocation("/"))
}
