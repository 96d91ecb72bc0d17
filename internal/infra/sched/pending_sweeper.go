package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/infra/metrics"
)

// PendingCleaner drops pending joins older than the configured TTL.
type PendingCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// PendingSweeper periodically expires pending joins via the use case.
type PendingSweeper struct {
	interval time.Duration
	cleaner  PendingCleaner
	log      *zerolog.Logger
	now      func() time.Time
}

func NewPendingSweeper(interval time.Duration, cleaner PendingCleaner, logger *zerolog.Logger) *PendingSweeper {
	l := logger.With().Str("component", "PendingSweeper").Logger()
	return &PendingSweeper{interval: interval, cleaner: cleaner, log: &l, now: time.Now}
}

func (w *PendingSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting pending sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping pending sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *PendingSweeper) sweep(ctx context.Context) {
	n, err := w.cleaner.CleanupExpired(ctx, w.now())
	if err != nil {
		metrics.IncJob("pending_sweep", "error")
		w.log.Error().Err(err).Msg("pending sweep failed")
		return
	}
	metrics.IncJob("pending_sweep", "ok")
	if n > 0 {
		w.log.Info().Int("count", n).Msg("expired pending joins removed")
	}
}
