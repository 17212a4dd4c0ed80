// Package supervisor keeps an ingestion loop running across sensor
// disconnects by re-running discovery.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"

	"github.com/VishwanathaRgitgit/DeepAir/internal/ingest"
	"github.com/VishwanathaRgitgit/DeepAir/internal/monitoring"
	"github.com/VishwanathaRgitgit/DeepAir/internal/negotiator"
)

const (
	DefaultRediscoverAttempts = 5
	DefaultRediscoverDelay    = time.Second
)

// Discoverer is satisfied by *negotiator.Negotiator.
type Discoverer interface {
	Discover(ctx context.Context, candidates []string, timeout time.Duration) (*negotiator.Connection, error)
}

type Config struct {
	Candidates       []string
	HandshakeTimeout time.Duration
	// RediscoverAttempts and RediscoverDelay bound the search after a
	// disconnect. The delay doubles after each failed attempt.
	RediscoverAttempts uint
	RediscoverDelay    time.Duration
	Ingest             ingest.Config
}

type Supervisor struct {
	disc Discoverer
	deps ingest.Deps
	cfg  Config

	loop     atomic.Pointer[ingest.Loop]
	sessions atomic.Uint64
}

func New(disc Discoverer, deps ingest.Deps, cfg Config) *Supervisor {
	if cfg.RediscoverAttempts == 0 {
		cfg.RediscoverAttempts = DefaultRediscoverAttempts
	}
	if cfg.RediscoverDelay <= 0 {
		cfg.RediscoverDelay = DefaultRediscoverDelay
	}
	return &Supervisor{disc: disc, deps: deps, cfg: cfg}
}

// Stats reports the counters of the current (or last) ingestion loop.
func (s *Supervisor) Stats() (ingest.Stats, bool) {
	l := s.loop.Load()
	if l == nil {
		return ingest.Stats{}, false
	}
	return l.Stats(), true
}

// Connections returns how many sensor connections have been run.
func (s *Supervisor) Connections() uint64 { return s.sessions.Load() }

// Run discovers the sensor and ingests from it until ctx is cancelled. A
// failed initial discovery is returned as is (wrapping
// negotiator.ErrNoSensorFound). After a disconnect discovery is retried;
// if that also fails Run returns the last discovery error.
func (s *Supervisor) Run(ctx context.Context) error {
	conn, err := s.disc.Discover(ctx, s.cfg.Candidates, s.cfg.HandshakeTimeout)
	if err != nil {
		return err
	}

	for {
		loop := ingest.New(conn, s.deps, s.cfg.Ingest)
		s.loop.Store(loop)
		s.sessions.Add(1)
		monitoring.Logf("supervisor: ingesting from %s", conn.Path)

		err := loop.Run(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(err, ingest.ErrSensorDisconnected) {
			return err
		}
		monitoring.Logf("supervisor: %v; searching for the sensor again", err)
		s.deps.Metrics.ObserveReconnect()

		if conn, err = s.rediscover(ctx, conn.Path); err != nil {
			return err
		}
	}
}

func (s *Supervisor) rediscover(ctx context.Context, lastPath string) (*negotiator.Connection, error) {
	candidates := preferPath(s.cfg.Candidates, lastPath)

	var conn *negotiator.Connection
	var lastErr error
	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := s.disc.Discover(ctx, candidates, s.cfg.HandshakeTimeout)
			if err != nil {
				lastErr = err
				return err
			}
			conn = c
			return nil
		},
		retry.Attempts(s.cfg.RediscoverAttempts),
		retry.Delay(s.cfg.RediscoverDelay),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			monitoring.Logf("supervisor: rediscovery attempt %d failed: %v", n+1, err)
		}),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, fmt.Errorf("rediscovery gave up after %d attempts: %w", s.cfg.RediscoverAttempts, lastErr)
	}
	return conn, nil
}

// preferPath moves last to the front of candidates. With auto-detect
// (no candidates) the list is left empty so ports are enumerated again.
func preferPath(candidates []string, last string) []string {
	if len(candidates) == 0 || last == "" {
		return candidates
	}
	out := []string{last}
	for _, c := range candidates {
		if c != last {
			out = append(out, c)
		}
	}
	return out
}
