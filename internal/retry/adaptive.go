package retry

import "github.com/civkeep/estateguardian/internal/domain"

const (
	// minObservations is the total success+failure count before the
	// adaptive factor starts influencing delays; below it the factor
	// stays at its neutral 10000 (1.0x).
	minObservations = 5

	// belowFactor is a constant, not a scaled expression: the original
	// implementation's below-50%-failure branch computes
	// 8000 + failure_ratio_bps*(2000/5000) under integer division, where
	// 2000/5000 truncates to 0, so the branch always yields 8000
	// regardless of the actual ratio. Preserved as observed rather than
	// "fixed" (see DESIGN.md).
	belowFactor = 8000

	minFactorBps = 5000
	maxFactorBps = 25000
	neutralBps   = 10000
)

func statsFor(u *domain.User, kind domain.RetryKind) *domain.AdaptiveStats {
	key := kind.String()
	s, ok := u.AdaptiveStats[key]
	if !ok {
		s = &domain.AdaptiveStats{DynamicFactorBps: neutralBps}
		u.AdaptiveStats[key] = s
	}
	return s
}

// RecordSuccess updates the rolling stats for kind after a successful
// attempt and recomputes its dynamic factor.
func RecordSuccess(u *domain.User, kind domain.RetryKind, nowSecs uint64) {
	s := statsFor(u, kind)
	s.Successes++
	s.LastUpdate = nowSecs
	recompute(s)
}

// RecordFailure updates the rolling stats for kind after a failed attempt
// and recomputes its dynamic factor.
func RecordFailure(u *domain.User, kind domain.RetryKind, nowSecs uint64) {
	s := statsFor(u, kind)
	s.Failures++
	s.LastUpdate = nowSecs
	recompute(s)
}

// recompute derives dynamic_factor_bps from the rolling failure ratio.
func recompute(s *domain.AdaptiveStats) {
	total := s.Successes + s.Failures
	if total < minObservations {
		s.DynamicFactorBps = neutralBps
		return
	}
	failureRatioBps := s.Failures * 10000 / total

	var factor int
	if failureRatioBps < 5000 {
		factor = belowFactor
	} else {
		over := failureRatioBps - 5000
		factor = 10000 + over*2
	}
	if factor < minFactorBps {
		factor = minFactorBps
	}
	if factor > maxFactorBps {
		factor = maxFactorBps
	}
	s.DynamicFactorBps = factor
}

// FactorBps returns the current dynamic factor for kind, or the neutral
// 10000 if no stats exist yet.
func FactorBps(u *domain.User, kind domain.RetryKind) int {
	s, ok := u.AdaptiveStats[kind.String()]
	if !ok {
		return neutralBps
	}
	return s.DynamicFactorBps
}
