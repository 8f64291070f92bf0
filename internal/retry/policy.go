// Package retry implements the per-user typed retry queue: policy-driven
// backoff, an adaptive failure-ratio factor, and pruning.
package retry

import "github.com/civkeep/estateguardian/internal/domain"

// Growth is the backoff growth shape for a retry kind.
type Growth int

const (
	GrowthExponential Growth = iota
	GrowthLinear
)

// KindPolicy is the fixed backoff policy for one retry kind.
type KindPolicy struct {
	BaseSecs uint64
	MaxSecs  uint64
	Growth   Growth
}

// Policies is the closed per-kind policy table, matching the original
// implementation's exact constants (see DESIGN.md's numeric-discrepancy
// note on the NFT custody release base).
var Policies = map[domain.RetryKind]KindPolicy{
	domain.RetryFungibleCustodyRelease: {BaseSecs: 60, MaxSecs: 1800, Growth: GrowthExponential},
	domain.RetryNftCustodyRelease:      {BaseSecs: 120, MaxSecs: 7200, Growth: GrowthExponential},
	domain.RetryBridgeSubmit:           {BaseSecs: 5, MaxSecs: 300, Growth: GrowthExponential},
	domain.RetryBridgePoll:             {BaseSecs: 5, MaxSecs: 600, Growth: GrowthExponential},
	domain.RetryEscrowRelease:          {BaseSecs: 60, MaxSecs: 1800, Growth: GrowthExponential},
}

// baseDelay computes the unjittered backoff for the given attempt count
// (1-indexed: the delay before the *next* attempt after `attempts` failures).
func baseDelay(p KindPolicy, attempts int) uint64 {
	if attempts < 1 {
		attempts = 1
	}
	var d uint64
	switch p.Growth {
	case GrowthLinear:
		d = p.BaseSecs * uint64(attempts)
	default:
		shift := attempts - 1
		if shift > 32 {
			shift = 32 // guard against overflow; policy max caps well below this
		}
		d = p.BaseSecs << uint(shift)
	}
	if d > p.MaxSecs {
		d = p.MaxSecs
	}
	return d
}
