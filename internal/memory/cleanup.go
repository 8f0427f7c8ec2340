package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/wolfganghq/centurion/internal/store"
)

// Retention windows.
const (
	archiveAfter     = 30 * 24 * time.Hour
	pruneBlobsAfter  = 90 * 24 * time.Hour
	pruneMemoryAfter = 180 * 24 * time.Hour
)

// IdempotencySweeper is the slice of the idempotency store cleanup needs.
type IdempotencySweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Cleanup runs the retention passes on a timer, optionally gated by a cron
// expression so heavy sweeps land off-peak.
type Cleanup struct {
	memories store.MemoryStore
	sweeper  IdempotencySweeper
	interval time.Duration
	cron     string
	logger   *slog.Logger
}

func NewCleanup(memories store.MemoryStore, sweeper IdempotencySweeper, interval time.Duration, cron string, logger *slog.Logger) *Cleanup {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Cleanup{
		memories: memories,
		sweeper:  sweeper,
		interval: interval,
		cron:     cron,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled.
func (c *Cleanup) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	gron := gronx.New()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.cron != "" {
				due, err := gron.IsDue(c.cron, time.Now())
				if err != nil {
					c.logger.Warn("cleanup.bad_cron", "cron", c.cron, "error", err)
				} else if !due {
					continue
				}
			}
			c.RunOnce(ctx)
		}
	}
}

// RunOnce executes every retention pass; each failure is logged and the rest
// still run.
func (c *Cleanup) RunOnce(ctx context.Context) {
	start := time.Now()

	archived, err := c.memories.ArchiveStaleMessages(ctx, archiveAfter)
	if err != nil {
		c.logger.Error("cleanup.archive_failed", "error", err)
	}
	blobs, err := c.memories.PruneSessionBlobs(ctx, pruneBlobsAfter)
	if err != nil {
		c.logger.Error("cleanup.prune_blobs_failed", "error", err)
	}
	memories, err := c.memories.PruneMemories(ctx, pruneMemoryAfter)
	if err != nil {
		c.logger.Error("cleanup.prune_memories_failed", "error", err)
	}

	swept := 0
	if c.sweeper != nil {
		swept, err = c.sweeper.SweepExpired(ctx, 1000)
		if err != nil {
			c.logger.Error("cleanup.idempotency_sweep_failed", "error", err)
		}
	}

	c.logger.Info("cleanup.completed",
		"archived_messages", archived,
		"pruned_session_blobs", blobs,
		"pruned_memories", memories,
		"swept_idempotency_keys", swept,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
