package crypto

import (
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

// Split divides data into consecutive chunks of chunkSize bytes. The last
// chunk may be shorter. Chunks alias data; nothing is copied.
func Split(data []byte, chunkSize int) ([][]byte, error) {
	if chunkSize < 1 {
		return nil, vaulterr.Config("split", "chunk size must be at least 1, got %d", chunkSize)
	}

	count := (len(data) + chunkSize - 1) / chunkSize
	chunks := make([][]byte, 0, count)
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end:end])
	}

	return chunks, nil
}
