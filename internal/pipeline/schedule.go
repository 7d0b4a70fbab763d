package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Schedule runs a pass over the newest partition right away and then once
// per interval until ctx is cancelled. Failed passes are logged and the
// schedule continues.
func (p *Pipeline) Schedule(ctx context.Context, interval time.Duration, opts Options) error {
	if interval <= 0 {
		return errors.New("rank interval must be positive")
	}

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.scheduledPass(ctx, opts)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

func (p *Pipeline) scheduledPass(ctx context.Context, opts Options) {
	r := p.Run(ctx, "", opts)
	err := r.Err()
	switch {
	case err == nil:
		p.logger.Info("scheduled ranking pass complete",
			zap.String("partition", r.Partition),
			zap.Int("items", len(r.Feed)),
			zap.Int64("snapshot", r.SnapshotID))
	case errors.Is(err, ErrNoItems):
		p.logger.Info("scheduled ranking pass skipped, no items stored")
	default:
		p.logger.Error("scheduled ranking pass failed", zap.Error(err))
	}
}
