package jsonstore

import (
	"time"

	"telegram-referral-bot/internal/infra/metrics"
)

func observeWrite(table string, ok bool, d time.Duration) {
	metrics.ObserveStorageWrite(table, ok, d)
}
