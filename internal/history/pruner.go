package history

import (
	"context"
	"time"
)

// Logger is the subset of logging.Logger the pruner uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Pruner deletes old history. *SQLiteRepository satisfies it.
type Pruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RunPruner prunes once immediately and then every interval until ctx is
// cancelled. Failures are logged and retried on the next tick.
func RunPruner(ctx context.Context, p Pruner, retention, interval time.Duration, logger Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}

	prune := func() {
		n, err := p.PruneHistory(ctx, retention)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				logger.Warn("history prune failed", "error", err)
			}
		case n > 0:
			logger.Info("history pruned", "rows", n, "retention", retention.String())
		}
	}

	prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
