// Package vaulterr defines the error taxonomy shared by the chunked
// encryption store: every failure surfaced by the crypto, storage and
// pipeline packages carries one of the kinds declared here.
package vaulterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// KindConfig marks invalid parameters such as a chunk size below one
	// or a duplicate chunk name.
	KindConfig Kind = "ConfigError"
	// KindIO marks local file failures, including an output path that
	// already exists.
	KindIO Kind = "IOError"
	// KindCrypto marks encryption precondition violations and decryption
	// authentication failures.
	KindCrypto Kind = "CryptoError"
	// KindSerialization marks malformed or incomplete keystore documents.
	KindSerialization Kind = "SerializationError"
	// KindStorage marks backend put/get/delete/list failures.
	KindStorage Kind = "StorageError"
)

// Sentinels usable with errors.Is. Any *Error of the same kind matches.
var (
	ErrConfig        = &Error{Kind: KindConfig}
	ErrIO            = &Error{Kind: KindIO}
	ErrCrypto        = &Error{Kind: KindCrypto}
	ErrSerialization = &Error{Kind: KindSerialization}
	ErrStorage       = &Error{Kind: KindStorage}
)

// Error is a classified failure with the operation and resource that
// produced it.
type Error struct {
	Kind     Kind
	Op       string // e.g. "put", "decrypt chunk"
	Resource string // chunk name, object key or file path
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Resource != "" {
		msg += " " + e.Resource
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Resource == "" && t.Err == nil && t.Kind == e.Kind
}

// New creates a classified error.
func New(kind Kind, op, resource string, err error) *Error {
	return &Error{Kind: kind, Op: op, Resource: resource, Err: err}
}

// Config returns a ConfigError with a formatted cause.
func Config(op, format string, args ...interface{}) *Error {
	return New(KindConfig, op, "", fmt.Errorf(format, args...))
}

// IO wraps err as an IOError for path.
func IO(op, path string, err error) *Error {
	return New(KindIO, op, path, err)
}

// Crypto wraps err as a CryptoError for resource.
func Crypto(op, resource string, err error) *Error {
	return New(KindCrypto, op, resource, err)
}

// Serialization returns a SerializationError with a formatted cause.
func Serialization(op, format string, args ...interface{}) *Error {
	return New(KindSerialization, op, "", fmt.Errorf(format, args...))
}

// Storage wraps err as a StorageError for key. Errors that already carry a
// StorageError kind are returned unchanged.
func Storage(op, key string, err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return New(KindStorage, op, key, err)
}

// KindOf returns the kind of the first classified error in err's chain,
// or the empty kind when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
