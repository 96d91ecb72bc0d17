package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/infra/metrics"
)

type Backuper interface {
	Backup(ctx context.Context) (string, error)
}

// BackupWorker writes a backup every interval and once more on shutdown.
type BackupWorker struct {
	interval time.Duration
	backuper Backuper
	log      *zerolog.Logger
}

func NewBackupWorker(interval time.Duration, backuper Backuper, logger *zerolog.Logger) *BackupWorker {
	l := logger.With().Str("component", "BackupWorker").Logger()
	return &BackupWorker{interval: interval, backuper: backuper, log: &l}
}

func (w *BackupWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting backup worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; the final backup gets its own deadline.
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			w.backup(final)
			cancel()
			w.log.Info().Msg("Stopping backup worker")
			return ctx.Err()
		case <-ticker.C:
			w.backup(ctx)
		}
	}
}

func (w *BackupWorker) backup(ctx context.Context) {
	if _, err := w.backuper.Backup(ctx); err != nil {
		metrics.IncJob("backup", "error")
		w.log.Error().Err(err).Msg("backup failed")
		return
	}
	metrics.IncJob("backup", "ok")
}
