package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kenneth/chunkvault/internal/vaulterr"
)

// KeyStore binds a master key and the per-chunk nonces to the storage
// location holding the encrypted chunks of one source.
//
// A KeyStore is filled by a single goroutine during encryption and is
// read-only once loaded for decryption.
type KeyStore struct {
	SourceIdentity  string
	Algorithm       string
	MasterKey       []byte
	StorageLocation string

	records map[string][]byte
	nonces  map[string]struct{}
}

// keyStoreDocument is the persisted JSON form of a KeyStore.
type keyStoreDocument struct {
	SourceIdentity  *string           `json:"source_identity"`
	Algorithm       string            `json:"algorithm,omitempty"`
	MasterKey       string            `json:"master_key"`
	ChunkRecords    map[string]string `json:"chunk_records"`
	StorageLocation *string           `json:"storage_location"`
}

// NewKeyStore creates an empty KeyStore with a freshly generated master key.
func NewKeyStore(sourceIdentity, storageLocation, algorithm string) (*KeyStore, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	if !IsSupportedAlgorithm(algorithm) {
		return nil, vaulterr.Crypto("new keystore", algorithm, ErrUnsupportedAlgorithm)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, vaulterr.Crypto("new keystore", storageLocation, fmt.Errorf("failed to generate master key: %w", err))
	}

	return &KeyStore{
		SourceIdentity:  sourceIdentity,
		Algorithm:       algorithm,
		MasterKey:       key,
		StorageLocation: storageLocation,
		records:         make(map[string][]byte),
		nonces:          make(map[string]struct{}),
	}, nil
}

// Record adds the nonce used for chunkName.
func (ks *KeyStore) Record(chunkName string, nonce []byte) error {
	if _, exists := ks.records[chunkName]; exists {
		return vaulterr.Config("record chunk", "duplicate chunk name %q", chunkName)
	}

	size, err := NonceSizeFor(ks.Algorithm)
	if err != nil {
		return vaulterr.Crypto("record chunk", chunkName, err)
	}
	if len(nonce) != size {
		return vaulterr.Crypto("record chunk", chunkName,
			fmt.Errorf("invalid nonce size: expected %d bytes, got %d", size, len(nonce)))
	}
	if _, reused := ks.nonces[string(nonce)]; reused {
		return vaulterr.Crypto("record chunk", chunkName, fmt.Errorf("nonce already used in this keystore"))
	}

	stored := make([]byte, len(nonce))
	copy(stored, nonce)
	ks.records[chunkName] = stored
	ks.nonces[string(stored)] = struct{}{}
	return nil
}

// Nonce returns the nonce recorded for chunkName.
func (ks *KeyStore) Nonce(chunkName string) ([]byte, bool) {
	nonce, ok := ks.records[chunkName]
	return nonce, ok
}

// Len returns the number of recorded chunks.
func (ks *KeyStore) Len() int {
	return len(ks.records)
}

// OrderedChunkNames returns the chunk names in natural order, which is the
// order their plaintexts must be concatenated in.
func (ks *KeyStore) OrderedChunkNames() []string {
	names := make([]string, 0, len(ks.records))
	for name := range ks.records {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return CompareNatural(names[i], names[j]) < 0
	})
	return names
}

// MarshalDocument serializes the KeyStore to its JSON document.
func (ks *KeyStore) MarshalDocument() ([]byte, error) {
	records := make(map[string]string, len(ks.records))
	for name, nonce := range ks.records {
		records[name] = base64.StdEncoding.EncodeToString(nonce)
	}

	source := ks.SourceIdentity
	location := ks.StorageLocation
	doc := keyStoreDocument{
		SourceIdentity:  &source,
		Algorithm:       ks.Algorithm,
		MasterKey:       base64.StdEncoding.EncodeToString(ks.MasterKey),
		ChunkRecords:    records,
		StorageLocation: &location,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, vaulterr.Serialization("marshal keystore", "%v", err)
	}
	return data, nil
}

// ParseDocument reads a KeyStore from its JSON document.
func ParseDocument(data []byte) (*KeyStore, error) {
	const op = "parse keystore"

	var doc keyStoreDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, vaulterr.Serialization(op, "invalid JSON: %v", err)
	}

	switch {
	case doc.SourceIdentity == nil:
		return nil, vaulterr.Serialization(op, "missing source_identity")
	case doc.StorageLocation == nil || *doc.StorageLocation == "":
		return nil, vaulterr.Serialization(op, "missing storage_location")
	case doc.MasterKey == "":
		return nil, vaulterr.Serialization(op, "missing master_key")
	case doc.ChunkRecords == nil:
		return nil, vaulterr.Serialization(op, "missing chunk_records")
	}

	algorithm := doc.Algorithm
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	nonceSize, err := NonceSizeFor(algorithm)
	if err != nil {
		return nil, vaulterr.Serialization(op, "%v", err)
	}

	key, err := base64.StdEncoding.DecodeString(doc.MasterKey)
	if err != nil {
		return nil, vaulterr.Serialization(op, "master_key is not valid base64: %v", err)
	}
	if len(key) != KeySize {
		return nil, vaulterr.Serialization(op, "master_key must be %d bytes, got %d", KeySize, len(key))
	}

	ks := &KeyStore{
		SourceIdentity:  *doc.SourceIdentity,
		Algorithm:       algorithm,
		MasterKey:       key,
		StorageLocation: *doc.StorageLocation,
		records:         make(map[string][]byte, len(doc.ChunkRecords)),
		nonces:          make(map[string]struct{}, len(doc.ChunkRecords)),
	}

	for name, encoded := range doc.ChunkRecords {
		nonce, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, vaulterr.Serialization(op, "nonce for %q is not valid base64: %v", name, err)
		}
		if len(nonce) != nonceSize {
			return nil, vaulterr.Serialization(op, "nonce for %q must be %d bytes, got %d", name, nonceSize, len(nonce))
		}
		if _, reused := ks.nonces[string(nonce)]; reused {
			return nil, vaulterr.Serialization(op, "nonce for %q is reused", name)
		}
		ks.records[name] = nonce
		ks.nonces[string(nonce)] = struct{}{}
	}

	return ks, nil
}

// ChunkName derives the storage key of the chunk at index. The index
// prefix of the base name restores chunk order; the UUID suffix keeps
// names unique independent of content.
func ChunkName(storageLocation string, index int) string {
	return path.Join(storageLocation, fmt.Sprintf("%d_%s.bin", index, uuid.NewString()))
}

// NormalizeLocation cleans a storage location into slash-separated form
// without leading or trailing slashes. It returns "" for an empty or
// root-only location.
func NormalizeLocation(storageLocation string) string {
	cleaned := strings.Trim(path.Clean(strings.ReplaceAll(storageLocation, "\\", "/")), "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// ChunkPrefix returns the listing prefix covering every chunk of a location.
func ChunkPrefix(storageLocation string) string {
	return strings.TrimSuffix(storageLocation, "/") + "/"
}

// DocumentKey returns the storage key of the keystore document for a
// location. It sits outside the chunk prefix so that listing a location
// yields chunks only. The location is path-escaped, so distinct locations
// never share a document key.
func DocumentKey(storageLocation string) string {
	return "keystore-" + url.PathEscape(strings.Trim(storageLocation, "/")) + ".json"
}
