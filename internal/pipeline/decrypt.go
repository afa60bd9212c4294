package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kenneth/chunkvault/internal/audit"
	"github.com/kenneth/chunkvault/internal/crypto"
	"github.com/kenneth/chunkvault/internal/storage"
	"github.com/kenneth/chunkvault/internal/tracing"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

// DecryptOptions controls an individual decryption session.
type DecryptOptions struct {
	// DeleteAfter removes the document and every chunk of the location
	// once the output has been written.
	DeleteAfter bool
}

// CleanupError reports that the output was written but the location could
// not be fully removed afterwards. It unwraps to a StorageError.
type CleanupError struct {
	Location string
	Err      error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("output written but cleanup of %s failed: %v", e.Location, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// Decryptor restores plaintext from a keystore document and its stored
// chunks.
type Decryptor struct {
	backend storage.Backend
	options
}

// NewDecryptor returns a Decryptor reading from backend.
func NewDecryptor(backend storage.Backend, opts ...Option) *Decryptor {
	return &Decryptor{backend: backend, options: newOptions(opts)}
}

// LoadDocument fetches the keystore document stored for location.
func (d *Decryptor) LoadDocument(ctx context.Context, location string) ([]byte, error) {
	loc := crypto.NormalizeLocation(location)
	if loc == "" {
		return nil, vaulterr.Config("load document", "storage location must not be empty")
	}
	doc, err := d.backend.Get(ctx, crypto.DocumentKey(loc))
	if err != nil {
		return nil, vaulterr.Storage("get", crypto.DocumentKey(loc), err)
	}
	return doc, nil
}

// Decrypt parses document, restores the plaintext and writes it to
// outputPath, which must not exist. With opts.DeleteAfter the location is
// cleared afterwards; a failure there is returned as *CleanupError and the
// output is kept.
func (d *Decryptor) Decrypt(ctx context.Context, document []byte, outputPath string, opts DecryptOptions) (err error) {
	start := time.Now()
	ctx, span := tracing.Tracer().Start(ctx, "decrypt")

	session := audit.Session{}
	logger := d.logger.WithField("output", outputPath)
	defer func() {
		tracing.End(span, err)
		session.Err = err
		session.Duration = time.Since(start)
		d.finish(logger, session)
	}()

	ks, err := crypto.ParseDocument(document)
	if err != nil {
		return err
	}
	session.Location = ks.StorageLocation
	session.Source = ks.SourceIdentity
	session.Algorithm = ks.Algorithm
	session.Chunks = ks.Len()
	logger = logger.WithFields(logrus.Fields{"location": ks.StorageLocation, "source": ks.SourceIdentity})
	span.SetAttributes(
		attribute.String("chunkvault.location", ks.StorageLocation),
		attribute.Int("chunkvault.chunks", ks.Len()),
	)

	// Refuse before fetching anything.
	if _, statErr := os.Lstat(outputPath); statErr == nil {
		return vaulterr.IO("create output", outputPath, fs.ErrExist)
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return vaulterr.IO("create output", outputPath, statErr)
	}

	plaintext, err := d.Reassemble(ctx, ks)
	if err != nil {
		return err
	}
	session.Bytes = int64(len(plaintext))

	if err := writeNewFile(outputPath, plaintext); err != nil {
		return err
	}

	if opts.DeleteAfter {
		if err := d.Clear(ctx, ks.StorageLocation); err != nil {
			return &CleanupError{Location: ks.StorageLocation, Err: err}
		}
	}
	return nil
}

// Reassemble fetches and decrypts every chunk of ks and concatenates the
// plaintext in natural chunk-name order.
func (d *Decryptor) Reassemble(ctx context.Context, ks *crypto.KeyStore) ([]byte, error) {
	if err := d.policy.Validate(); err != nil {
		return nil, err
	}
	cipher, err := crypto.NewCipher(ks.Algorithm, ks.MasterKey)
	if err != nil {
		return nil, err
	}

	names := ks.OrderedChunkNames()
	parts := make([][]byte, len(names))
	downloads := d.policy.newLimiter()
	err = d.policy.forEach(ctx, len(names), func(ctx context.Context, i int) error {
		pt, err := d.openChunk(ctx, cipher, downloads, ks, i, names[i])
		if err != nil {
			return err
		}
		parts[i] = pt
		return nil
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	plaintext := make([]byte, 0, total)
	for _, p := range parts {
		plaintext = append(plaintext, p...)
	}
	return plaintext, nil
}

func (d *Decryptor) openChunk(ctx context.Context, cipher *crypto.Cipher, downloads *limiter, ks *crypto.KeyStore, index int, name string) (plaintext []byte, err error) {
	start := time.Now()
	ctx, span := tracing.Tracer().Start(ctx, "decrypt.chunk", trace.WithAttributes(
		attribute.Int("chunkvault.chunk_index", index),
		attribute.String("chunkvault.chunk", name),
	))
	defer func() {
		tracing.End(span, err)
		if d.metrics == nil {
			return
		}
		if err != nil {
			d.metrics.RecordChunkError("decrypt", err)
		} else {
			d.metrics.RecordChunkOperation("decrypt", time.Since(start), len(plaintext))
		}
	}()

	var ciphertext []byte
	err = downloads.do(ctx, func() error {
		var gerr error
		ciphertext, gerr = d.backend.Get(ctx, name)
		return gerr
	})
	if err != nil {
		return nil, vaulterr.Storage("get", name, err)
	}

	nonce, ok := ks.Nonce(name)
	if !ok {
		return nil, vaulterr.Serialization("decrypt chunk", "no nonce recorded for %q", name)
	}
	plaintext, err = cipher.Decrypt(ciphertext, nonce)
	if err != nil {
		return nil, reclassify(err, "decrypt chunk", name)
	}

	d.logger.WithFields(logrus.Fields{
		"chunk": name,
		"index": index,
		"bytes": len(plaintext),
	}).Debug("Decrypted chunk")
	return plaintext, nil
}

// Clear deletes the keystore document and every object under location,
// then removes the location itself where the backend has one.
func (d *Decryptor) Clear(ctx context.Context, location string) (err error) {
	start := time.Now()
	loc := crypto.NormalizeLocation(location)
	ctx, span := tracing.Tracer().Start(ctx, "cleanup", trace.WithAttributes(
		attribute.String("chunkvault.location", loc),
	))

	removed := 0
	defer func() {
		tracing.End(span, err)
		s := audit.Session{Location: loc, Chunks: removed, Err: err, Duration: time.Since(start)}
		if d.metrics != nil {
			d.metrics.RecordSession("cleanup", s.Duration, err)
		}
		if d.audit != nil {
			d.audit.LogCleanup(s)
		}
		logger := d.logger.WithFields(logrus.Fields{"location": loc, "objects": removed})
		if err != nil {
			logger.WithError(err).Warn("Cleanup failed")
			return
		}
		logger.Info("Location cleared")
	}()

	removed, err = clearLocation(ctx, d.backend, loc)
	return err
}

func clearLocation(ctx context.Context, backend storage.Backend, loc string) (int, error) {
	if loc == "" {
		return 0, vaulterr.Config("clear", "storage location must not be empty")
	}

	if err := backend.Delete(ctx, crypto.DocumentKey(loc)); err != nil {
		return 0, vaulterr.Storage("delete", crypto.DocumentKey(loc), err)
	}
	keys, err := backend.List(ctx, crypto.ChunkPrefix(loc))
	if err != nil {
		return 0, vaulterr.Storage("list", crypto.ChunkPrefix(loc), err)
	}
	if err := storage.DeleteAll(ctx, backend, keys); err != nil {
		return 0, vaulterr.Storage("delete", crypto.ChunkPrefix(loc), err)
	}
	if lr, ok := backend.(storage.LocationRemover); ok {
		if err := lr.RemoveLocation(ctx, loc); err != nil {
			return len(keys), vaulterr.Storage("remove location", loc, err)
		}
	}
	return len(keys), nil
}

// writeNewFile creates path exclusively and writes data. A partially
// written file is removed.
func writeNewFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return vaulterr.IO("create output", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return vaulterr.IO("write output", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return vaulterr.IO("write output", path, err)
	}
	return nil
}

func (d *Decryptor) finish(logger logrus.FieldLogger, s audit.Session) {
	if d.metrics != nil {
		d.metrics.RecordSession("decrypt", s.Duration, s.Err)
	}
	if d.audit != nil {
		d.audit.LogDecrypt(s)
	}
	fields := logrus.Fields{
		"chunks":      s.Chunks,
		"bytes":       s.Bytes,
		"duration_ms": s.Duration.Milliseconds(),
	}
	var cleanupErr *CleanupError
	switch {
	case errors.As(s.Err, &cleanupErr):
		logger.WithFields(fields).WithError(s.Err).Warn("Decryption complete, cleanup failed")
	case s.Err != nil:
		logger.WithFields(fields).WithError(s.Err).Error("Decryption session failed")
	default:
		logger.WithFields(fields).Info("Decryption session complete")
	}
}
