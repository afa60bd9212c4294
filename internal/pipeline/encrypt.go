package pipeline

import (
	"context"
	"errors"
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

// Encryptor splits plaintext into chunks, encrypts each under a fresh
// session key and stores them together with the keystore document.
type Encryptor struct {
	backend storage.Backend
	options
}

// NewEncryptor returns an Encryptor writing to backend.
func NewEncryptor(backend storage.Backend, opts ...Option) *Encryptor {
	return &Encryptor{backend: backend, options: newOptions(opts)}
}

type sealedChunk struct {
	name   string
	nonce  []byte
	stored bool
}

// Encrypt runs one encryption session and returns the populated KeyStore.
//
// The location must be unused: no keystore document and no objects under
// its chunk prefix. The keystore document is written last, at
// crypto.DocumentKey(location).
// If any chunk fails no document is written and the chunks already stored
// by this session are deleted on a best-effort basis.
func (e *Encryptor) Encrypt(ctx context.Context, plaintext []byte, chunkSize int, sourceIdentity, storageLocation string) (ks *crypto.KeyStore, err error) {
	start := time.Now()
	location := crypto.NormalizeLocation(storageLocation)
	logger := e.logger.WithFields(logrus.Fields{"location": location, "source": sourceIdentity})

	ctx, span := tracing.Tracer().Start(ctx, "encrypt", trace.WithAttributes(
		attribute.String("chunkvault.location", location),
		attribute.Int("chunkvault.chunk_size", chunkSize),
		attribute.Int("chunkvault.bytes", len(plaintext)),
	))
	var chunks int
	defer func() {
		tracing.End(span, err)
		e.finish(logger, audit.Session{
			Location:  location,
			Source:    sourceIdentity,
			Algorithm: e.algorithm,
			Chunks:    chunks,
			Bytes:     int64(len(plaintext)),
			Err:       err,
			Duration:  time.Since(start),
		})
	}()

	if chunkSize < 1 {
		return nil, vaulterr.Config("encrypt", "chunk size must be at least 1, got %d", chunkSize)
	}
	if location == "" {
		return nil, vaulterr.Config("encrypt", "storage location must not be empty")
	}
	if err := e.policy.Validate(); err != nil {
		return nil, err
	}
	if err := e.ensureVacant(ctx, location); err != nil {
		return nil, err
	}

	ks, err = crypto.NewKeyStore(sourceIdentity, location, e.algorithm)
	if err != nil {
		return nil, err
	}
	cipher, err := crypto.NewCipher(ks.Algorithm, ks.MasterKey)
	if err != nil {
		return nil, err
	}
	nonces, err := crypto.NewNonceSource(e.noncePolicy, cipher.NonceSize())
	if err != nil {
		return nil, vaulterr.Config("encrypt", "%v", err)
	}
	pieces, err := crypto.Split(plaintext, chunkSize)
	if err != nil {
		return nil, err
	}
	chunks = len(pieces)

	sealed := make([]sealedChunk, len(pieces))
	uploads := e.policy.newLimiter()
	err = e.policy.forEach(ctx, len(pieces), func(ctx context.Context, i int) error {
		return e.sealChunk(ctx, logger, cipher, nonces, uploads, location, i, pieces[i], &sealed[i])
	})
	if err != nil {
		e.discard(ctx, logger, sealed)
		return nil, err
	}

	// Records are added on this goroutine only, in index order.
	for _, c := range sealed {
		if err := ks.Record(c.name, c.nonce); err != nil {
			e.discard(ctx, logger, sealed)
			return nil, err
		}
	}

	doc, err := ks.MarshalDocument()
	if err != nil {
		e.discard(ctx, logger, sealed)
		return nil, err
	}
	if err := e.backend.Put(ctx, crypto.DocumentKey(location), doc); err != nil {
		e.discard(ctx, logger, sealed)
		return nil, vaulterr.Storage("put", crypto.DocumentKey(location), err)
	}

	return ks, nil
}

// ensureVacant fails when location already holds a keystore document or
// any object under its chunk prefix.
func (e *Encryptor) ensureVacant(ctx context.Context, location string) error {
	docKey := crypto.DocumentKey(location)
	if _, err := e.backend.Get(ctx, docKey); err == nil {
		return vaulterr.Config("encrypt", "storage location %q already holds a keystore document (%s)", location, docKey)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return vaulterr.Storage("get", docKey, err)
	}

	prefix := crypto.ChunkPrefix(location)
	keys, err := e.backend.List(ctx, prefix)
	if err != nil {
		return vaulterr.Storage("list", prefix, err)
	}
	if len(keys) > 0 {
		return vaulterr.Config("encrypt", "storage location %q is not empty: %d objects under %s", location, len(keys), prefix)
	}
	return nil
}

func (e *Encryptor) sealChunk(ctx context.Context, logger logrus.FieldLogger, cipher *crypto.Cipher, nonces crypto.NonceSource, uploads *limiter, location string, index int, piece []byte, out *sealedChunk) (err error) {
	start := time.Now()
	name := crypto.ChunkName(location, index)

	ctx, span := tracing.Tracer().Start(ctx, "encrypt.chunk", trace.WithAttributes(
		attribute.Int("chunkvault.chunk_index", index),
		attribute.String("chunkvault.chunk", name),
	))
	defer func() {
		tracing.End(span, err)
		if e.metrics == nil {
			return
		}
		if err != nil {
			e.metrics.RecordChunkError("encrypt", err)
		} else {
			e.metrics.RecordChunkOperation("encrypt", time.Since(start), len(piece))
		}
	}()

	nonce, err := nonces.Next()
	if err != nil {
		return vaulterr.Crypto("encrypt chunk", name, err)
	}
	ciphertext, err := cipher.Encrypt(piece, nonce)
	if err != nil {
		return reclassify(err, "encrypt chunk", name)
	}

	out.name = name
	out.nonce = nonce
	if err := uploads.do(ctx, func() error { return e.backend.Put(ctx, name, ciphertext) }); err != nil {
		return vaulterr.Storage("put", name, err)
	}
	out.stored = true

	logger.WithFields(logrus.Fields{
		"chunk": name,
		"index": index,
		"bytes": len(piece),
	}).Debug("Stored encrypted chunk")
	return nil
}

// discard removes the chunks this session already stored. It runs even
// when ctx has been cancelled.
func (e *Encryptor) discard(ctx context.Context, logger logrus.FieldLogger, sealed []sealedChunk) {
	var keys []string
	for _, c := range sealed {
		if c.stored {
			keys = append(keys, c.name)
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := storage.DeleteAll(context.WithoutCancel(ctx), e.backend, keys); err != nil {
		logger.WithError(err).WithField("chunks", len(keys)).Warn("Failed to remove chunks of aborted session")
		return
	}
	logger.WithField("chunks", len(keys)).Debug("Removed chunks of aborted session")
}

func (e *Encryptor) finish(logger logrus.FieldLogger, s audit.Session) {
	if e.metrics != nil {
		e.metrics.RecordSession("encrypt", s.Duration, s.Err)
	}
	if e.audit != nil {
		e.audit.LogEncrypt(s)
	}
	fields := logrus.Fields{
		"chunks":      s.Chunks,
		"bytes":       s.Bytes,
		"duration_ms": s.Duration.Milliseconds(),
	}
	if s.Err != nil {
		logger.WithFields(fields).WithError(s.Err).Error("Encryption session failed")
		return
	}
	logger.WithFields(fields).Info("Encryption session complete")
}
