package guardian

import (
	"context"
	"errors"

	"github.com/civkeep/estateguardian/internal/custody"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/errs"
	"github.com/civkeep/estateguardian/internal/estate"
	"github.com/civkeep/estateguardian/internal/execution"
	"github.com/civkeep/estateguardian/internal/metricsx"
	"github.com/civkeep/estateguardian/internal/reconcile"
	"github.com/civkeep/estateguardian/internal/retry"
)

// MaintenanceReport summarizes one PerformMaintenance tick for one
// principal, returned so internal/maintenance can log/count without
// re-deriving it.
type MaintenanceReport struct {
	PhaseAdvanced        bool
	AutoExecuted         bool
	RetryPasses          int
	SessionsPurged       int
	ReconcileRan         bool
	NotificationsSent    int
	NotificationsFailed  int
	MetricsFrame         metricsx.Frame
}

// PerformMaintenance runs one full per-user tick of the background loop
// (§4.O): phase advancement and auto-execute, reconciliation, custody/NFT
// release attempts, retry queue draining, session purge, and metrics frame
// capture — all under a single hold of the principal's lock, since these
// steps call the narrower packages directly rather than through Guardian's
// other exported methods (which would re-lock the same principal and
// deadlock against storage.entry's non-reentrant mutex).
func (g *Guardian) PerformMaintenance(ctx context.Context, principal string) (MaintenanceReport, error) {
	var report MaintenanceReport
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		nowSecs := g.now()

		phaseBefore := u.Phase
		estate.AdvancePhase(u, nowSecs, g.tunables)
		report.PhaseAdvanced = u.Phase != phaseBefore

		if u.Phase == domain.PhaseLocked {
			_, err := execution.Execute(ctx, u, g.execEngine, nowSecs, true)
			switch {
			case err == nil:
				report.AutoExecuted = true
			case isWrongPhaseOrInProgress(err):
				// another run is in progress or the phase moved on; try again
				// next tick. Preflight refusals are not matched here and
				// return through the default case.
			default:
				return err
			}
		}

		if reconcile.NeedsReconciliation(u, nowSecs) {
			g.reconcileEngine.ReconcileCustody(ctx, u, nowSecs)
			g.reconcileEngine.ReconcileEscrow(ctx, u, nowSecs)
			reconcile.AutoManage(u, nowSecs)
			report.ReconcileRan = true
		}

		custody.AttemptFungibleReleases(ctx, u, g.custodyEngine, nowSecs)
		custody.AttemptNftReleases(ctx, u, g.custodyEngine, nowSecs)

		maxRetryPasses := g.maint.MaxRetryPassesPerTick
		if maxRetryPasses <= 0 {
			maxRetryPasses = 8
		}
		for pass := 0; pass < maxRetryPasses; pass++ {
			due := retry.DueItems(u, nowSecs, g.retryMax)
			if len(due) == 0 {
				break
			}
			for _, item := range due {
				derr := g.dispatchRetryItem(ctx, u, nowSecs, item)
				if rerr := retry.Resolve(u, g.RNG, nowSecs, item, g.retryMax, derr); rerr != nil {
					return rerr
				}
			}
			report.RetryPasses++
		}
		retry.Prune(u, nowSecs)

		maxSessionPurge := g.maint.MaxSessionPurgePerTick
		if maxSessionPurge <= 0 {
			maxSessionPurge = 64
		}
		purged := 0
		for id, sess := range u.Sessions {
			if purged >= maxSessionPurge {
				break
			}
			if sess.Expired(nowSecs) {
				delete(u.Sessions, id)
				purged++
			}
		}
		report.SessionsPurged = purged

		maxNotifications := g.maint.MaxNotificationsPerTick
		if maxNotifications <= 0 {
			maxNotifications = 10
		}
		sent, failed := dispatchNotifications(ctx, u, nowSecs, maxNotifications)
		report.NotificationsSent, report.NotificationsFailed = sent, failed

		if g.Metrics != nil {
			g.Metrics.CaptureUser(u)
		}
		report.MetricsFrame = metricsx.CaptureFrame(u, nowSecs)

		return nil
	})
	return report, err
}

func isWrongPhaseOrInProgress(err error) bool {
	var gerr *errs.GuardianError
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == errs.CodeWrongPhase || gerr.Code == errs.CodeEstateLocked
}
