package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/interfaces"
)

// maintenanceTimeout bounds one scheduled maintenance run.
const maintenanceTimeout = 30 * time.Minute

// cronLogger adapts common.Logger to cron.Logger.
type cronLogger struct {
	logger *common.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("Scheduler: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("Scheduler: " + msg)
}

// newMaintenanceScheduler registers the retention and reindex jobs.
// Retention runs only when retention_days > 0; reindex only when indexing is on.
// onPruned, if set, runs after a retention pass that changed files.
// The returned cron has not been started.
func newMaintenanceScheduler(config *common.Config, store interfaces.MarketStore, onPruned func(), logger *common.Logger) (*cron.Cron, error) {
	logger = logger.WithComponent("scheduler")
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	m := config.Maintenance
	if m.RetentionDays > 0 && m.RetentionSchedule != "" {
		if _, err := c.AddFunc(m.RetentionSchedule, func() { runRetention(store, m.RetentionDays, onPruned, logger) }); err != nil {
			return nil, fmt.Errorf("register retention job %q: %w", m.RetentionSchedule, err)
		}
	}
	if config.Storage.Indexing && m.ReindexSchedule != "" {
		if _, err := c.AddFunc(m.ReindexSchedule, func() { runReindex(store, logger) }); err != nil {
			return nil, fmt.Errorf("register reindex job %q: %w", m.ReindexSchedule, err)
		}
	}
	return c, nil
}

func runRetention(store interfaces.MarketStore, days int, onPruned func(), logger *common.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	start := time.Now()
	result, err := store.RetentionCleanup(ctx, days)
	if err != nil {
		logger.Warn().Err(err).Int("retention_days", days).Msg("Retention cleanup failed")
		return
	}
	logger.Info().
		Int("retention_days", days).
		Int("files", result.Files).
		Int("removed", result.Removed).
		Dur("elapsed", time.Since(start)).
		Msg("Retention cleanup: complete")

	if onPruned != nil && result.Files+result.Removed > 0 {
		onPruned()
	}
}

func runReindex(store interfaces.MarketStore, logger *common.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	start := time.Now()
	n, err := store.RebuildIndex(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Index rebuild failed")
		return
	}
	logger.Info().Int("entries", n).Dur("elapsed", time.Since(start)).Msg("Index rebuild: complete")
}

// StartScheduler launches the maintenance cron jobs.
func (a *App) StartScheduler() error {
	if a.scheduler != nil {
		return nil
	}
	c, err := newMaintenanceScheduler(a.Config, a.Store, a.clearCache, a.Logger)
	if err != nil {
		return err
	}
	c.Start()
	a.scheduler = c
	a.Logger.Info().Int("jobs", len(c.Entries())).Msg("Maintenance scheduler started")
	return nil
}

// clearCache drops cached windows so none outlive rows pruned from the store.
func (a *App) clearCache() {
	n := a.Cache.Len()
	a.Cache.Clear()
	a.Logger.Debug().Int("entries", n).Msg("Series cache cleared after retention")
}

// StopScheduler stops the cron and waits for running jobs to finish.
func (a *App) StopScheduler() {
	if a.scheduler == nil {
		return
	}
	<-a.scheduler.Stop().Done()
	a.scheduler = nil
	a.Logger.Info().Msg("Maintenance scheduler stopped")
}
