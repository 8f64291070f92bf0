// Package estate implements the lifecycle state machine: phase transitions,
// the inactivity timer, and cached readiness evaluation.
package estate

import (
	"fmt"

	"github.com/civkeep/estateguardian/internal/auditlog"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/errs"
)

const (
	// DefaultInactivityPeriodSecs is the default dead-man-switch duration.
	DefaultInactivityPeriodSecs = 30 * 24 * 3600
	// DefaultWarningWindowSecs is how far ahead of expiry Warning begins.
	DefaultWarningWindowSecs = 7 * 24 * 3600
	// ReadinessCacheTTLSecs bounds how long a cached readiness report is reused.
	ReadinessCacheTTLSecs = 30
)

// Tunables lets the maintenance loop and tests override the defaults.
type Tunables struct {
	InactivityPeriodSecs uint64
	WarningWindowSecs    uint64
}

// DefaultTunables returns the spec's default periods.
func DefaultTunables() Tunables {
	return Tunables{
		InactivityPeriodSecs: DefaultInactivityPeriodSecs,
		WarningWindowSecs:    DefaultWarningWindowSecs,
	}
}

// touchTimer arms the inactivity timer the first time distributions become
// non-empty, per §4.G.
func touchTimer(u *domain.User, nowSecs uint64, t Tunables) {
	if u.TimerExpiry == 0 && len(u.Distributions) > 0 {
		u.TimerExpiry = nowSecs + t.InactivityPeriodSecs
	}
}

// ResetTimer moves the inactivity timer forward and clears the distributed
// flag, as the owner "I'm still here" check-in operation.
func ResetTimer(u *domain.User, nowSecs uint64, t Tunables) {
	u.TimerExpiry = nowSecs + t.InactivityPeriodSecs
	u.Distributed = false
}

func requireMutable(u *domain.User) error {
	if u.Phase == domain.PhaseLocked || u.Phase == domain.PhaseExecuted {
		return errs.EstateLocked(u.Phase.String())
	}
	return nil
}

// RequireMutable exposes the Draft/Warning mutation guard (invariant 2) to
// other components that mutate assets/heirs/distributions/approvals/escrow.
func RequireMutable(u *domain.User) error { return requireMutable(u) }

// AdvancePhase evaluates the current phase against now and the inactivity
// timer, applying Draft→Warning and Warning→Locked transitions when due.
// Manual transitions (explicit owner request) are handled by StartWarning
// and LockEstate; this is the automatic path the maintenance loop drives.
func AdvancePhase(u *domain.User, nowSecs uint64, t Tunables) {
	touchTimer(u, nowSecs, t)
	switch u.Phase {
	case domain.PhaseDraft:
		if u.TimerExpiry != 0 && u.TimerExpiry-nowSecs <= t.WarningWindowSecs {
			transition(u, nowSecs, domain.PhaseWarning)
			u.WarningStartedAt = nowSecs
		}
	case domain.PhaseWarning:
		if u.TimerExpiry != 0 && nowSecs >= u.TimerExpiry {
			transition(u, nowSecs, domain.PhaseLocked)
			u.LockedAt = nowSecs
		}
	}
}

func transition(u *domain.User, nowSecs uint64, to domain.Phase) {
	from := u.Phase
	u.Phase = to
	asset0 := uint64(0)
	_ = asset0
	auditlog.Append(u, nowSecs, domain.EventPhaseChanged, nil, nil, map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	})
}

// StartWarning is the explicit owner request to enter Warning early.
func StartWarning(u *domain.User, nowSecs uint64) error {
	if err := requireMutable(u); err != nil {
		return err
	}
	if u.Phase != domain.PhaseDraft {
		return errs.WrongPhase(u.Phase.String(), domain.PhaseDraft.String())
	}
	transition(u, nowSecs, domain.PhaseWarning)
	u.WarningStartedAt = nowSecs
	return nil
}

// LockEstate is the explicit owner request to lock early; readiness must
// hold first (§4.G: "before locking manually, readiness must be true").
func LockEstate(u *domain.User, nowSecs uint64) error {
	if u.Phase == domain.PhaseLocked || u.Phase == domain.PhaseExecuted {
		return errs.EstateLocked(u.Phase.String())
	}
	report := Readiness(u, nowSecs, true)
	if !report.Ready {
		return errs.ReadinessFailed(report.Issues[0])
	}
	transition(u, nowSecs, domain.PhaseLocked)
	u.LockedAt = nowSecs
	return nil
}

// Readiness evaluates (or returns the cached) readiness report. force
// bypasses the 30s cache, matching check_integrity's "force a fresh check"
// requirement.
func Readiness(u *domain.User, nowSecs uint64, force bool) *domain.ReadinessReport {
	if !force && u.ReadinessCached != nil && nowSecs-u.ReadinessCachedAt < ReadinessCacheTTLSecs {
		return u.ReadinessCached
	}
	report := evaluateReadiness(u)
	u.ReadinessCached = report
	u.ReadinessCachedAt = nowSecs
	return report
}

// CheckIntegrity is check_integrity: a read-only re-scan of invariants
// 3/6/8/9 against current state, independent of the readiness cache, so a
// caller always gets a fresh answer.
func CheckIntegrity(u *domain.User, nowSecs uint64) *domain.IntegrityReport {
	var violations []string

	// Invariant 3: for every locked asset, distribution percentages sum to
	// exactly 100. "Locked" here means the asset already carries at least
	// one distribution share; an asset with zero shares has nothing to
	// violate yet.
	totals := make(map[uint64]int)
	for _, d := range u.Distributions {
		totals[d.AssetID] += int(d.Percentage)
	}
	for assetID, total := range totals {
		if total != 100 {
			violations = append(violations, fmt.Sprintf("asset %d distribution totals %d, not 100", assetID, total))
		}
	}

	// Invariant 6: once a heir's secret is Verified, its attempt counter is
	// reset to zero.
	for heirID, h := range u.Heirs {
		if h.Secret.Status == domain.SecretVerified && h.Secret.Attempts != 0 {
			violations = append(violations, fmt.Sprintf("heir %d verified secret with nonzero attempts", heirID))
		}
	}

	// Invariant 8: escrow-mode assets must hold on-chain balance >= the
	// total payout their distribution shares require.
	for assetID, asset := range u.Assets {
		if asset.HoldingMode != domain.HoldingEscrow {
			continue
		}
		required := asset.Value * uint64(totals[assetID]) / 100
		rec, ok := u.EscrowRecords[assetID]
		if !ok || rec.Remaining < required {
			violations = append(violations, fmt.Sprintf("asset %d escrow remaining below required payout", assetID))
		}
	}

	// Invariant 9: custody subaccount derivation is injective over heir_id
	// — no two heirs may resolve to the same subaccount bytes.
	seen := make(map[string]uint64)
	for heirID, cs := range u.CustodySubaccounts {
		key := string(cs.Subaccount)
		if other, exists := seen[key]; exists && other != heirID {
			violations = append(violations, fmt.Sprintf("heirs %d and %d share a custody subaccount", other, heirID))
		}
		seen[key] = heirID
	}

	return &domain.IntegrityReport{
		Sound:      len(violations) == 0,
		Violations: violations,
		CheckedAt:  nowSecs,
	}
}

func evaluateReadiness(u *domain.User) *domain.ReadinessReport {
	var issues []string
	ready := true

	totals := make(map[uint64]int)
	for _, d := range u.Distributions {
		totals[d.AssetID] += int(d.Percentage)
		if _, ok := u.Heirs[d.HeirID]; !ok {
			issues = append(issues, "distribution references missing heir")
			ready = false
		}
	}
	for assetID, total := range totals {
		if total != 100 {
			issues = append(issues, "asset distribution percentages do not sum to 100")
			ready = false
		}
		_ = assetID
	}

	for _, a := range u.Assets {
		if (a.Kind == domain.AssetFungible || a.Kind == domain.AssetChainWrapped) && a.Decimals == 0 {
			issues = append(issues, "asset missing decimals")
		}
	}
	for _, d := range u.Distributions {
		h, ok := u.Heirs[d.HeirID]
		if !ok {
			continue
		}
		if (d.Preference == domain.PreferenceToPrincipal || d.Preference == domain.PreferenceCkWithdraw) && h.Principal == "" {
			issues = append(issues, "heir missing principal for preference requiring one")
		}
	}

	return &domain.ReadinessReport{Ready: ready, Issues: issues}
}
