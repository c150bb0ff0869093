package notify

import (
	"context"
	"fmt"
	"time"

	logx "taskdue/pkg/logx"
)

// Sweep removes terminal notification records older than the retention
// age and prunes expired dedup keys. Returns how many records were purged.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	cfg, _ := s.snapshot()

	cutoff := now.Add(-cfg.RetentionAge)
	removed, err := s.store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge terminal notifications: %w", err)
	}

	if pruned, err := s.store.PruneDedup(ctx, now); err != nil {
		// Dedup keys carry their own expiry; a failed prune only delays
		// reclaiming space.
		s.log.Warn("dedup prune failed", logx.Err(err))
	} else if pruned > 0 {
		s.log.Debug("dedup keys pruned", logx.Int("count", pruned))
	}

	if removed > 0 {
		s.log.Info("retention sweep done",
			logx.Int("removed", removed),
			logx.Time("cutoff", cutoff))
	}
	return removed, nil
}
