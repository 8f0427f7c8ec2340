package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/wolfganghq/centurion/internal/store"
)

const (
	stuckAfter         = 2 * time.Minute
	watchdogBatchSize  = 50
)

// Watchdog recovers conversations abandoned mid-processing by a crashed
// worker: ones with pending messages go back to waiting for immediate
// redispatch, empty ones return to idle.
type Watchdog struct {
	conversations store.ConversationStore
	interval      time.Duration
	logger        *slog.Logger
}

func NewWatchdog(conversations store.ConversationStore, interval time.Duration, logger *slog.Logger) *Watchdog {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watchdog{conversations: conversations, interval: interval, logger: logger}
}

// Run blocks until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			waiting, idled, err := w.conversations.RecoverStuck(ctx, stuckAfter, watchdogBatchSize)
			if err != nil {
				w.logger.Error("watchdog.recover_failed", "error", err)
				continue
			}
			if waiting > 0 {
				w.logger.Warn("watchdog.recovered_to_waiting", "count", waiting)
			}
			if idled > 0 {
				w.logger.Warn("watchdog.recovered_to_idle", "count", idled)
			}
		}
	}
}
