// Package digest runs the scheduled coursework digest: on a cron schedule
// it asks the agent for a summary of upcoming work and appends the answer
// to the digest log.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/canvasmate/canvasmate/internal/config"
)

// AskFunc runs one query through a fresh agent session and returns the
// final answer.
type AskFunc func(ctx context.Context, query string) (string, error)

// Runner executes the digest on its cron schedule.
type Runner struct {
	cfg      config.DigestConfig
	ask      AskFunc
	schedule cron.Schedule
	logger   *slog.Logger

	nextRun time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New validates the schedule and builds a runner.
func New(cfg config.DigestConfig, ask AskFunc, logger *slog.Logger) (*Runner, error) {
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("digest: invalid cron expression %q: %w", cfg.Schedule, err)
	}
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	return &Runner{
		cfg:      cfg,
		ask:      ask,
		schedule: schedule,
		logger:   logger.With("component", "digest"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Query returns the canned digest prompt.
func (r *Runner) Query() string {
	return fmt.Sprintf(
		"Give me a short digest of my coursework for the next %d days: assignments due, upcoming quizzes, and any recent announcements. Keep it brief.",
		r.cfg.Days)
}

// Start runs the schedule loop until the context is cancelled or Stop is
// called. Check granularity is one minute, matching the cron resolution.
func (r *Runner) Start(ctx context.Context) {
	defer close(r.doneCh)

	r.nextRun = r.schedule.Next(time.Now())
	r.logger.Info("digest scheduled", "schedule", r.cfg.Schedule, "next_run", r.nextRun.Format(time.RFC3339))

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("digest runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Info("digest runner stopped")
			return
		case now := <-ticker.C:
			if now.Before(r.nextRun) {
				continue
			}
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("digest run failed", "error", err)
			}
			r.nextRun = r.schedule.Next(time.Now())
			r.logger.Debug("next digest scheduled", "next_run", r.nextRun.Format(time.RFC3339))
		}
	}
}

// Stop stops the schedule loop.
func (r *Runner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// RunOnce asks the agent for the digest and appends it to the output file.
func (r *Runner) RunOnce(ctx context.Context) error {
	started := time.Now()
	answer, err := r.ask(ctx, r.Query())
	if err != nil {
		return fmt.Errorf("digest query: %w", err)
	}

	entry := fmt.Sprintf("=== Digest %s ===\n%s\n\n", started.UTC().Format(time.RFC3339), answer)

	file, err := os.OpenFile(r.cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("open digest log: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(entry); err != nil {
		return fmt.Errorf("write digest log: %w", err)
	}

	r.logger.Info("digest written", "elapsed", time.Since(started))
	return nil
}
