package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultSweepInterval  = 2 * time.Minute
	DefaultStaleAfter     = time.Minute
	DefaultSweepBatchSize = 200
	sweepLockKey          = "ingest:sweeper:lock"
)

type StaleLister interface {
	ListStaleQueued(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, documentID uuid.UUID) error
}

// Locker is an optional cross-process mutex so that one worker sweeps per tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type SweeperOptions struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// Sweeper re-enqueues documents that have sat in queued for too long, which
// happens when the enqueue after creation was lost.
type Sweeper struct {
	lister   StaleLister
	enqueuer Enqueuer
	locker   Locker
	opts     SweeperOptions
	now      func() time.Time
	logger   *slog.Logger
}

func NewSweeper(lister StaleLister, enqueuer Enqueuer, locker Locker, opts SweeperOptions, logger *slog.Logger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultSweepBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		lister:   lister,
		enqueuer: enqueuer,
		locker:   locker,
		opts:     opts,
		now:      time.Now,
		logger:   logger.With("component", "sweeper"),
	}
}

// SweepOnce enqueues every stale queued document once and returns how many
// jobs were published.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, sweepLockKey, s.opts.Interval/2)
		if err != nil {
			s.logger.Warn("sweeper lock unavailable, sweeping anyway", "error", err)
		} else if !ok {
			return 0, nil
		}
	}

	cutoff := s.now().Add(-s.opts.StaleAfter)
	ids, err := s.lister.ListStaleQueued(ctx, cutoff, s.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale documents failed: %w", err)
	}

	enqueued := 0
	for _, id := range ids {
		if err := s.enqueuer.Enqueue(ctx, id); err != nil {
			s.logger.Error("re-enqueue failed", "document_id", id, "error", err)
			continue
		}
		enqueued++
	}
	if len(ids) > 0 {
		s.logger.Info("re-enqueued stale documents", "found", len(ids), "enqueued", enqueued)
	}
	return enqueued, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
