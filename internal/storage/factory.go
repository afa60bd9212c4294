package storage

import (
	"context"
	"fmt"

	"github.com/kenneth/chunkvault/internal/config"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

// Open builds the backend selected by cfg.Type. The returned close
// function releases backend resources and is never nil.
func Open(ctx context.Context, cfg config.BackendConfig) (Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Type {
	case config.BackendLocal, "":
		b, err := NewLocal(cfg.BaseDir)
		if err != nil {
			return nil, noop, err
		}
		return b, noop, nil
	case config.BackendBolt:
		b, err := OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, noop, err
		}
		return b, b.Close, nil
	case config.BackendS3:
		b, err := NewS3(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		return b, noop, nil
	default:
		return nil, noop, vaulterr.New(vaulterr.KindConfig, "open backend", cfg.Type, fmt.Errorf("unknown backend type"))
	}
}
