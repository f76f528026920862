// Package sweeper prunes sessions that have not been used for a while.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raine/reellytics-gateway/internal/metrics"
	"github.com/raine/reellytics-gateway/internal/storage"
)

const (
	// DefaultInterval is the time between sweeps.
	DefaultInterval = time.Hour

	// DefaultMaxAge is how long an untouched session is kept.
	DefaultMaxAge = 30 * 24 * time.Hour
)

// Sweeper periodically deletes stale sessions from a session store.
type Sweeper struct {
	store    storage.SessionStore
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// New creates a sweeper. Non-positive durations use the defaults.
func New(store storage.SessionStore, interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Sweeper{store: store, interval: interval, maxAge: maxAge, now: time.Now}
}

// Run sweeps once immediately and then on every tick. It blocks until the
// context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.interval).Dur("maxAge", s.maxAge).Msg("starting session sweeper")

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pruning pass and returns the number of removed sessions.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune stale sessions")
		return 0
	}
	if n > 0 {
		metrics.SessionsPruned.Add(float64(n))
		log.Info().Int64("count", n).Time("cutoff", cutoff).Msg("pruned stale sessions")
	}
	return n
}
