package pipeline

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kenneth/chunkvault/internal/config"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

// DefaultMaxInFlightUploads bounds concurrent backend calls in network mode
// when no explicit bound is configured.
const DefaultMaxInFlightUploads = 4

// ConcurrencyPolicy selects how chunk work is fanned out.
//
// Sequential processes one chunk at a time. Parallel runs Workers chunks
// at once (one per CPU when zero) and lets each issue its backend call.
// Network runs the same compute fan-out but holds at most
// MaxInFlightUploads backend calls open at any moment.
type ConcurrencyPolicy struct {
	Mode               string
	Workers            int
	MaxInFlightUploads int
}

// DefaultPolicy is the parallel policy with one worker per CPU.
func DefaultPolicy() ConcurrencyPolicy {
	return ConcurrencyPolicy{Mode: config.ModeParallel}
}

// PolicyFromConfig converts the concurrency configuration section.
func PolicyFromConfig(cfg config.ConcurrencyConfig) ConcurrencyPolicy {
	return ConcurrencyPolicy{
		Mode:               cfg.Mode,
		Workers:            cfg.Workers,
		MaxInFlightUploads: cfg.MaxInFlightUploads,
	}
}

// Validate reports an unknown mode or negative bounds.
func (p ConcurrencyPolicy) Validate() error {
	switch p.Mode {
	case config.ModeSequential, config.ModeParallel, config.ModeNetwork, "":
	default:
		return vaulterr.Config("concurrency policy", "unknown mode %q", p.Mode)
	}
	if p.Workers < 0 || p.MaxInFlightUploads < 0 {
		return vaulterr.Config("concurrency policy", "workers and max in-flight uploads must not be negative")
	}
	return nil
}

func (p ConcurrencyPolicy) workers() int {
	if p.Mode == config.ModeSequential {
		return 1
	}
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}

func (p ConcurrencyPolicy) inFlight() int64 {
	switch p.Mode {
	case config.ModeSequential:
		return 1
	case config.ModeNetwork:
		n := p.MaxInFlightUploads
		if n <= 0 {
			n = DefaultMaxInFlightUploads
		}
		if w := p.workers(); n > w {
			n = w
		}
		return int64(n)
	default:
		return int64(p.workers())
	}
}

// limiter bounds concurrent backend calls for one session.
type limiter struct {
	sem *semaphore.Weighted
}

func (p ConcurrencyPolicy) newLimiter() *limiter {
	return &limiter{sem: semaphore.NewWeighted(p.inFlight())}
}

// do runs fn while holding one in-flight slot.
func (l *limiter) do(ctx context.Context, fn func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}

// forEach calls fn for every index in [0, n) under the worker limit. The
// first error cancels the context passed to the remaining calls and is
// returned once all started calls have finished.
func (p ConcurrencyPolicy) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
