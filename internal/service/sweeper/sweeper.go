package sweeper

import (
	"context"
	"time"

	"github.com/mkotelnikov/ephemera/internal/logger"
	"github.com/mkotelnikov/ephemera/internal/repository"
)

const (
	defaultInterval = 1 * time.Hour
	// Expired sessions are kept for a while before deletion; they fail
	// validation either way, removal is housekeeping only
	defaultRetentionGrace = 30 * 24 * time.Hour
)

type Config struct {
	// How often to run the sweep
	// If not set than default is used
	Interval time.Duration

	// How long expired sessions are retained before deletion
	// If not set than default is used
	RetentionGrace time.Duration
}

// Sweeper deletes session rows long past their expiry.
type Sweeper struct {
	interval time.Duration
	grace    time.Duration
	sessions repository.SessionRepo
	logger   logger.Logger
}

func New(cfg Config, sessions repository.SessionRepo, logger logger.Logger) *Sweeper {
	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.Interval, defaultInterval)
	setDefaultDuration(&cfg.RetentionGrace, defaultRetentionGrace)

	return &Sweeper{
		interval: cfg.Interval,
		grace:    cfg.RetentionGrace,
		sessions: sessions,
		logger:   logger,
	}
}

// Run sweeps on a ticker until the context is cancelled.
// The returned channel closes when the loop has stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting session sweeper", "interval", s.interval, "grace", s.grace)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()

	return idleStopped
}

// Sweep runs a single deletion pass
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.grace)

	deleted, err := s.sessions.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to delete expired sessions", "error", err)
		return
	}

	if deleted > 0 {
		s.logger.Info("Deleted expired sessions", "count", deleted, "cutoff", cutoff)
	}
}
