package guardian

import (
	"context"

	"github.com/civkeep/estateguardian/internal/auditlog"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/metricsx"
)

// ListAuditLog returns the full audit event stream.
func (g *Guardian) ListAuditLog(principal string) ([]*domain.AuditEvent, error) {
	var out []*domain.AuditEvent
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = auditlog.List(u)
		return nil
	})
	return out, err
}

// ListAuditLogPaged is list_audit_log with offset/limit.
func (g *Guardian) ListAuditLogPaged(principal string, offset, limit int) ([]*domain.AuditEvent, error) {
	var out []*domain.AuditEvent
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = auditlog.Page(u, offset, limit)
		return nil
	})
	return out, err
}

// ListAuditLogFiltered is list_audit_log restricted to an optional asset
// and/or heir.
func (g *Guardian) ListAuditLogFiltered(principal string, offset, limit int, assetID, heirID *uint64) ([]*domain.AuditEvent, error) {
	var out []*domain.AuditEvent
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = auditlog.Filtered(u, offset, limit, assetID, heirID)
		return nil
	})
	return out, err
}

// ListNotifications returns the queued best-effort notifications.
func (g *Guardian) ListNotifications(principal string) ([]*domain.Notification, error) {
	var out []*domain.Notification
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = make([]*domain.Notification, 0, len(u.Notifications))
		for _, n := range u.Notifications {
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

// GetCustodyReconciliation returns the last reconciliation snapshot.
func (g *Guardian) GetCustodyReconciliation(principal string) (map[string]*domain.ReconciliationEntry, error) {
	var out map[string]*domain.ReconciliationEntry
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = u.Reconciliation
		return nil
	})
	return out, err
}

// ReconcileCustody runs an on-demand custody+escrow reconciliation pass
// (§4.N). It does not run the auto top-up/reclaim step; that runs only in
// PerformMaintenance.
func (g *Guardian) ReconcileCustody(ctx context.Context, principal string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		nowSecs := g.now()
		g.reconcileEngine.ReconcileCustody(ctx, u, nowSecs)
		g.reconcileEngine.ReconcileEscrow(ctx, u, nowSecs)
		return nil
	})
}

// MetricsSnapshot captures the current Prometheus gauge values for principal
// and returns a frame freshly captured from the aggregate; it does not read
// the maintenance loop's metrics ring.
func (g *Guardian) MetricsSnapshot(principal string) (*metricsx.Frame, error) {
	var frame *metricsx.Frame
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		if g.Metrics != nil {
			g.Metrics.CaptureUser(u)
		}
		f := metricsx.CaptureFrame(u, g.now())
		frame = &f
		return nil
	})
	return frame, err
}
