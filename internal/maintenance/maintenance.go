// Package maintenance runs claude-mem's periodic background reaper: it
// resets pending-messages stuck in "processing" past a stale threshold
// back to pending (a crashed session holder must not wedge a message
// forever) and deletes project aliases older than a retention window.
// Neither operation is named directly by spec.md, but both are implied
// by the store's own fields (pending_messages.started_processing_at_epoch,
// project_aliases.created_at_epoch) and are exactly the kind of periodic
// tidy-up internal/sessions/write_lock.go's cleanupLoop performs for
// in-memory lock state.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Store is the subset of store.Store the reaper needs.
type Store interface {
	ResetStaleProcessing(ctx context.Context, staleBeforeEpoch int64, nowEpoch int64) (int, error)
	CleanupAliases(ctx context.Context, olderThanEpoch int64) (int, error)
}

// MetricsSink receives an outcome label ("ok" or "error") for each
// maintenance pass; satisfied by *observability.Metrics.RecordMaintenanceRun.
type MetricsSink interface {
	RecordMaintenanceRun(outcome string)
}

// Config tunes the reaper, mirroring config.MaintenanceConfig one-for-one.
type Config struct {
	IntervalSeconds     int
	StaleProcessingSecs int
	AliasMaxAgeDays     int
}

// Runner periodically invokes RunOnce on a robfig/cron schedule.
type Runner struct {
	store   Store
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
	metrics MetricsSink

	cron *cron.Cron
}

// New builds a Runner. now defaults to time.Now; logger defaults to
// slog.Default(); metrics may be nil.
func New(store Store, cfg Config, now func() time.Time, logger *slog.Logger, metrics MetricsSink) *Runner {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 300
	}
	if cfg.StaleProcessingSecs <= 0 {
		cfg.StaleProcessingSecs = 600
	}
	if cfg.AliasMaxAgeDays <= 0 {
		cfg.AliasMaxAgeDays = 365
	}
	return &Runner{store: store, cfg: cfg, now: now, logger: logger, metrics: metrics}
}

// Start schedules RunOnce every cfg.IntervalSeconds using robfig/cron's
// "@every" descriptor and returns immediately; call Stop to end it.
func (r *Runner) Start(ctx context.Context) {
	r.cron = cron.New()
	spec := "@every " + time.Duration(r.cfg.IntervalSeconds*int(time.Second)).String()
	_, _ = r.cron.AddFunc(spec, func() { r.RunOnce(ctx) })
	r.cron.Start()
}

// Stop halts the schedule and waits for any in-flight run to finish.
func (r *Runner) Stop() {
	if r.cron == nil {
		return
	}
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

// RunOnce resets stale pending-messages and prunes old aliases, logging
// and recording a metrics outcome for the pass.
func (r *Runner) RunOnce(ctx context.Context) {
	now := r.now()
	staleBefore := now.Add(-time.Duration(r.cfg.StaleProcessingSecs) * time.Second).Unix()
	aliasOlderThan := now.AddDate(0, 0, -r.cfg.AliasMaxAgeDays).Unix()

	reset, err := r.store.ResetStaleProcessing(ctx, staleBefore, now.Unix())
	if err != nil {
		r.logger.Error("maintenance: reset stale processing failed", "error", err)
		r.recordOutcome("error")
		return
	}
	if reset > 0 {
		r.logger.Warn("maintenance: reset stale processing messages", "count", reset)
	}

	removed, err := r.store.CleanupAliases(ctx, aliasOlderThan)
	if err != nil {
		r.logger.Error("maintenance: cleanup aliases failed", "error", err)
		r.recordOutcome("error")
		return
	}
	if removed > 0 {
		r.logger.Info("maintenance: pruned stale aliases", "count", removed)
	}

	r.recordOutcome("ok")
}

func (r *Runner) recordOutcome(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordMaintenanceRun(outcome)
	}
}
