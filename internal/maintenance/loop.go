// Package maintenance runs the periodic background tick of §4.O: one
// robfig/cron job per process driving phase advancement, auto-execution,
// reconciliation, custody/retry/notification/session processing, and a
// per-principal metrics ring — grounded in the teacher's
// infrastructure/service/base.go BaseService.AddTickerWorker composition,
// generalized from several independent ad hoc tickers to a single
// cron-scheduled tick that does bounded work per category.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/civkeep/estateguardian/internal/guardian"
	"github.com/civkeep/estateguardian/internal/logging"
	"github.com/civkeep/estateguardian/internal/metricsx"
)

// Loop drives Guardian.PerformMaintenance across every known principal on
// a cron schedule.
type Loop struct {
	g      *guardian.Guardian
	logger *logging.Logger
	metrics *metricsx.Metrics

	cron    *cron.Cron
	entryID cron.EntryID

	ringsMu sync.Mutex
	rings   map[string]*metricsx.Ring
}

// New builds a Loop; it does not start the cron scheduler.
func New(g *guardian.Guardian, logger *logging.Logger, metrics *metricsx.Metrics) *Loop {
	return &Loop{
		g:       g,
		logger:  logger,
		metrics: metrics,
		cron:    cron.New(),
		rings:   make(map[string]*metricsx.Ring),
	}
}

// Start schedules the tick on the configured cron spec and starts the
// scheduler. The returned error is a parse failure of the configured spec.
func (l *Loop) Start(ctx context.Context) error {
	spec := l.g.MaintenanceConfig().CronSpec
	if spec == "" {
		spec = "@every 1h"
	}
	id, err := l.cron.AddFunc(spec, func() { l.tick(ctx) })
	if err != nil {
		return err
	}
	l.entryID = id
	l.cron.Start()
	return nil
}

// Stop cancels the scheduler and waits for any in-flight tick to finish.
func (l *Loop) Stop() {
	stopCtx := l.cron.Stop()
	<-stopCtx.Done()
}

// RunOnce runs a single tick immediately, outside the cron schedule — used
// by tests and by operators who want to force a tick via an admin surface.
func (l *Loop) RunOnce(ctx context.Context) {
	l.tick(ctx)
}

// ringFor returns (creating if needed) the metrics-frame ring for principal.
func (l *Loop) ringFor(principal string) *metricsx.Ring {
	l.ringsMu.Lock()
	defer l.ringsMu.Unlock()
	r, ok := l.rings[principal]
	if !ok {
		r = metricsx.NewRing()
		l.rings[principal] = r
	}
	return r
}

// RingSnapshot returns the retained metrics frames for principal, oldest
// first.
func (l *Loop) RingSnapshot(principal string) []metricsx.Frame {
	return l.ringFor(principal).Snapshot()
}

func (l *Loop) tick(ctx context.Context) {
	start := time.Now()
	principals := l.g.Store.Principals()
	for _, principal := range principals {
		report, err := l.g.PerformMaintenance(ctx, principal)
		if err != nil {
			l.logger.Error(ctx, "maintenance tick failed", err, map[string]interface{}{
				"principal": principal,
			})
			continue
		}
		l.ringFor(principal).Push(report.MetricsFrame)
	}
	if l.metrics != nil {
		l.metrics.MaintenanceTicksTotal.Inc()
	}
	l.logger.LogPerformance(ctx, "maintenance_tick", map[string]interface{}{
		"principals": len(principals),
		"duration":   logging.FormatDuration(time.Since(start)),
	})
}
