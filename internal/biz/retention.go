package biz

import (
	"context"
	"time"

	"ReplyLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// staleBreachAge is how long an unresolved breach may dangle before the
// retention pass force-resolves it. Covers breaches left open by a crash.
const staleBreachAge = 24 * time.Hour

// RetentionTask prunes aged SLA samples and resolves dangling breach events.
// Scheduled by the cron runner in cmd.
type RetentionTask struct {
	retention time.Duration
	repo      SLARepo
	logger    *log.Helper
}

// NewRetentionTask creates the retention task from the SLA config.
func NewRetentionTask(c *conf.SLA, repo SLARepo, logger log.Logger) *RetentionTask {
	days := c.RetentionDays
	if days <= 0 {
		days = 30
	}

	return &RetentionTask{
		retention: time.Duration(days) * 24 * time.Hour,
		repo:      repo,
		logger:    log.NewHelper(logger),
	}
}

// Run executes one retention pass.
func (t *RetentionTask) Run(ctx context.Context) {
	now := time.Now()

	pruned, err := t.repo.PruneSamplesBefore(ctx, now.Add(-t.retention))
	if err != nil {
		t.logger.Errorw("failed to prune SLA samples", "error", err)
	} else if pruned > 0 {
		t.logger.Infow("pruned aged SLA samples",
			"count", pruned,
			"retention", t.retention)
	}

	resolved, err := t.repo.ResolveStaleBreaches(ctx, now.Add(-staleBreachAge))
	if err != nil {
		t.logger.Errorw("failed to resolve stale breaches", "error", err)
	} else if resolved > 0 {
		t.logger.Warnw("force-resolved stale breach events", "count", resolved)
	}
}
