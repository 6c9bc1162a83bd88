// Package cleanup runs the background sweep that reclaims reservations whose
// payment window lapsed. The sweep is a safety net: expiry is also enforced
// at read time (lapsed holds never count as active) and at reserve time (the
// ledger reclaims a dead row in the reserving transaction), so a delayed
// sweep never blocks customers.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/mfrederiksen/tutorbase/libs/db"
	"github.com/mfrederiksen/tutorbase/services/booking-service/internal/engine"
)

type Sweeper struct {
	pool        *db.Pool
	engine      *engine.Engine
	logger      *slog.Logger
	batchSize   int
	advisoryKey int64
}

type Config struct {
	Interval        time.Duration
	BatchSize       int
	AdvisoryLockKey int64
}

func NewSweeper(pool *db.Pool, eng *engine.Engine, logger *slog.Logger, cfg Config) *Sweeper {
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		// Stable-ish default; override via env if you run multiple booking instances.
		lockKey = 7301001
	}
	return &Sweeper{
		pool:        pool,
		engine:      eng,
		logger:      logger,
		batchSize:   bs,
		advisoryKey: lockKey,
	}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	// Best-effort leader election for multi-instance deployments.
	// Only the instance holding the advisory lock will sweep.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := s.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, s.advisoryKey).Scan(&locked); err != nil {
			s.logger.Error("cleanup sweep: failed to acquire advisory lock", "err", err)
			sleepCtx(ctx, 5*time.Second)
			continue
		}
		if !locked {
			s.logger.Info("cleanup sweep: advisory lock held by another instance", "lock_key", s.advisoryKey)
			sleepCtx(ctx, 30*time.Second)
			continue
		}
		s.logger.Info("cleanup sweep: advisory lock acquired", "lock_key", s.advisoryKey)
		defer func() {
			_, _ = s.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, s.advisoryKey)
		}()
		break
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to reclaim holds that lapsed during downtime.
	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	// Drain in batches so a backlog after downtime clears in one pass
	// instead of one batch per tick.
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := s.engine.SweepExpired(ctx, s.batchSize)
		if err != nil {
			s.logger.Error("cleanup sweep failed", "err", err)
			return
		}
		if n > 0 {
			s.logger.Info("cleanup sweep reclaimed reservations", "count", n)
		}
		if n < s.batchSize {
			return
		}
	}
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
