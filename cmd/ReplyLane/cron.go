package main

import (
	"context"
	"time"

	"ReplyLane/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// retentionTimeout bounds one retention pass.
const retentionTimeout = 10 * time.Minute

// RetentionCron runs the SLA retention task hourly. It implements the Kratos
// transport.Server interface so its lifecycle follows the application's.
type RetentionCron struct {
	cron   *cron.Cron
	task   *biz.RetentionTask
	helper *log.Helper
}

// newRetentionCron creates the cron runner for the retention task.
func newRetentionCron(task *biz.RetentionTask, logger log.Logger) *RetentionCron {
	return &RetentionCron{
		cron:   cron.New(cron.WithSeconds()),
		task:   task,
		helper: log.NewHelper(logger),
	}
}

// Start registers the hourly schedule and runs one pass immediately so
// breaches left dangling by a previous crash get resolved right away.
func (r *RetentionCron) Start(ctx context.Context) error {
	// At the top of every hour
	_, err := r.cron.AddFunc("0 0 * * * *", func() {
		runCtx, cancel := context.WithTimeout(context.Background(), retentionTimeout)
		defer cancel()
		r.task.Run(runCtx)
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	r.helper.Info("SLA retention cron started: runs hourly")

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), retentionTimeout)
		defer cancel()
		r.task.Run(runCtx)
	}()

	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *RetentionCron) Stop(ctx context.Context) error {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	r.helper.Info("SLA retention cron stopped")
	return nil
}
