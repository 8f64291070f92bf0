// Package auditlog appends and prunes the per-user audit event stream.
package auditlog

import "github.com/civkeep/estateguardian/internal/domain"

const (
	// MaxAuditEvents is the soft cap; excess is drained FIFO.
	MaxAuditEvents = 10000
	// MaxPageLimit bounds a single paginated read.
	MaxPageLimit = 500
	// MaxAgeSecs bounds how long an event is retained regardless of count.
	MaxAgeSecs = 24 * 3600
)

// Append records a new event, assigning the next monotone per-user id.
func Append(u *domain.User, nowSecs uint64, kind domain.AuditEventKind, assetID, heirID *uint64, payload map[string]interface{}) {
	ev := &domain.AuditEvent{
		ID:        u.NextAuditID,
		Timestamp: nowSecs,
		Kind:      kind,
		AssetID:   assetID,
		HeirID:    heirID,
		Payload:   payload,
	}
	u.NextAuditID++
	u.AuditLog = append(u.AuditLog, ev)
	Prune(u, nowSecs)
}

// Prune enforces the count and age caps. A re-entrancy flag prevents a
// prune triggered from inside another prune (e.g. via a nested Append)
// from running twice over the same slice.
func Prune(u *domain.User, nowSecs uint64) {
	if u.AuditPruneInProgress {
		return
	}
	u.AuditPruneInProgress = true
	defer func() { u.AuditPruneInProgress = false }()

	if len(u.AuditLog) > MaxAuditEvents {
		excess := len(u.AuditLog) - MaxAuditEvents
		u.AuditLog = append([]*domain.AuditEvent{}, u.AuditLog[excess:]...)
	}

	cutoff := uint64(0)
	if nowSecs > MaxAgeSecs {
		cutoff = nowSecs - MaxAgeSecs
	}
	if cutoff == 0 {
		return
	}
	kept := u.AuditLog[:0:0]
	for _, ev := range u.AuditLog {
		if ev.Timestamp >= cutoff {
			kept = append(kept, ev)
		}
	}
	u.AuditLog = kept
}

// List returns every event, most recent last (insertion order).
func List(u *domain.User) []*domain.AuditEvent {
	return u.AuditLog
}

// Page returns a bounded offset/limit slice, newest-last order preserved.
func Page(u *domain.User, offset, limit int) []*domain.AuditEvent {
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 || offset >= len(u.AuditLog) {
		return nil
	}
	end := offset + limit
	if end > len(u.AuditLog) {
		end = len(u.AuditLog)
	}
	return u.AuditLog[offset:end]
}

// Filtered returns a bounded page further restricted to events matching
// the optional asset/heir filters.
func Filtered(u *domain.User, offset, limit int, assetID, heirID *uint64) []*domain.AuditEvent {
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	var matched []*domain.AuditEvent
	for _, ev := range u.AuditLog {
		if assetID != nil && (ev.AssetID == nil || *ev.AssetID != *assetID) {
			continue
		}
		if heirID != nil && (ev.HeirID == nil || *ev.HeirID != *heirID) {
			continue
		}
		matched = append(matched, ev)
	}
	if offset < 0 || offset >= len(matched) {
		return nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end]
}

// RecentCount returns how many of the last n audit events matched kind,
// used by reconciliation's cooldown check.
func RecentCount(u *domain.User, n int, kind domain.AuditEventKind) int {
	start := len(u.AuditLog) - n
	if start < 0 {
		start = 0
	}
	count := 0
	for _, ev := range u.AuditLog[start:] {
		if ev.Kind == kind {
			count++
		}
	}
	return count
}

// LastEventAt returns the timestamp of the most recent event of kind
// matching assetID, or 0 if none exists in the retained window.
func LastEventAt(u *domain.User, kind domain.AuditEventKind, assetID uint64) uint64 {
	for i := len(u.AuditLog) - 1; i >= 0; i-- {
		ev := u.AuditLog[i]
		if ev.Kind == kind && ev.AssetID != nil && *ev.AssetID == assetID {
			return ev.Timestamp
		}
	}
	return 0
}
