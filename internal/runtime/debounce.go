package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/wolfganghq/centurion/internal/locks"
	"github.com/wolfganghq/centurion/internal/store"
)

const (
	debounceBatchSize = 20
	dispatchLockTTL   = 60 * time.Second
)

// DebounceWorker polls for conversations whose quiet window elapsed and
// dispatches each one under a distributed lock. The DB poll is authoritative;
// debounce.timer events only advise.
type DebounceWorker struct {
	conversations store.ConversationStore
	locks         *locks.Manager
	dispatcher    *Dispatcher
	interval      time.Duration
	logger        *slog.Logger
}

func NewDebounceWorker(conversations store.ConversationStore, lockManager *locks.Manager, dispatcher *Dispatcher, interval time.Duration, logger *slog.Logger) *DebounceWorker {
	if interval <= 0 {
		interval = time.Second
	}
	return &DebounceWorker{
		conversations: conversations,
		locks:         lockManager,
		dispatcher:    dispatcher,
		interval:      interval,
		logger:        logger,
	}
}

// Run blocks until ctx is canceled.
func (w *DebounceWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *DebounceWorker) tick(ctx context.Context) {
	due, err := w.conversations.FindDue(ctx, debounceBatchSize)
	if err != nil {
		w.logger.Error("debounce.find_due_failed", "error", err)
		return
	}

	for _, conv := range due {
		if ctx.Err() != nil {
			return
		}
		w.dispatchOne(ctx, conv)
	}
}

func (w *DebounceWorker) dispatchOne(ctx context.Context, conv *store.Conversation) {
	acquired, err := w.locks.Hold(ctx, conv.ID.String(), dispatchLockTTL, func(ctx context.Context) error {
		// Re-read inside the lock: another replica may have already drained
		// this window.
		fresh, err := w.conversations.Get(ctx, conv.ID)
		if err != nil {
			return err
		}
		if fresh.DebounceState != store.DebounceWaiting {
			return nil
		}
		if fresh.DebounceUntil != nil && fresh.DebounceUntil.After(time.Now()) {
			return nil
		}
		return w.dispatcher.Dispatch(ctx, fresh)
	})
	if err != nil {
		w.logger.Error("debounce.dispatch_failed", "conversation_id", conv.ID, "error", err)
		return
	}
	if !acquired {
		w.logger.Debug("debounce.lock_busy", "conversation_id", conv.ID)
	}
}
