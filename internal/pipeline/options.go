// Package pipeline implements the chunked encrypt and decrypt sessions on
// top of a storage backend.
package pipeline

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/chunkvault/internal/audit"
	"github.com/kenneth/chunkvault/internal/crypto"
	"github.com/kenneth/chunkvault/internal/metrics"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

// Option configures an Encryptor or a Decryptor.
type Option func(*options)

type options struct {
	logger      logrus.FieldLogger
	metrics     *metrics.Metrics
	audit       audit.Logger
	policy      ConcurrencyPolicy
	algorithm   string
	noncePolicy string
}

func newOptions(opts []Option) options {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	o := options{
		logger:      discard,
		policy:      DefaultPolicy(),
		algorithm:   crypto.DefaultAlgorithm,
		noncePolicy: crypto.NoncePolicyRandom,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for session and per-chunk events.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records chunk and session metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAuditLogger emits one audit event per finished session.
func WithAuditLogger(l audit.Logger) Option {
	return func(o *options) { o.audit = l }
}

// WithConcurrency sets the fan-out policy.
func WithConcurrency(p ConcurrencyPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithAlgorithm selects the AEAD used for new sessions. Decryption always
// uses the algorithm named by the document.
func WithAlgorithm(name string) Option {
	return func(o *options) {
		if name != "" {
			o.algorithm = name
		}
	}
}

// WithNoncePolicy selects how nonces are drawn for new sessions.
func WithNoncePolicy(policy string) Option {
	return func(o *options) {
		if policy != "" {
			o.noncePolicy = policy
		}
	}
}

// reclassify moves a classified error onto the chunk that caused it.
func reclassify(err error, op, resource string) error {
	var e *vaulterr.Error
	if errors.As(err, &e) {
		return vaulterr.New(e.Kind, op, resource, e.Err)
	}
	return err
}
