package retry

import (
	"github.com/civkeep/estateguardian/internal/auditlog"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/rng"
)

const (
	// PruneMaxNonTerminal caps the live (non-terminal) queue depth; the
	// oldest excess items are dropped.
	PruneMaxNonTerminal = 200
	// PruneTerminalAgeSecs drops terminal items older than this.
	PruneTerminalAgeSecs = 24 * 3600
	// PruneSuccessfulTerminalAgeSecs drops successful terminal items
	// sooner, since they carry no diagnostic value once the run settles.
	PruneSuccessfulTerminalAgeSecs = 10 * 60
	// PruneMaxTerminalPerKind keeps only the most recent N terminal items
	// per kind once the above age cutoffs have run.
	PruneMaxTerminalPerKind = 5
)

// Enqueue appends a new non-terminal retry item and returns it.
func Enqueue(u *domain.User, nowSecs uint64, kind domain.RetryKind, assetID, heirID uint64, tokenID *uint64) *domain.RetryItem {
	item := &domain.RetryItem{
		ID:               u.NextRetryID,
		Kind:             kind,
		AssetID:          assetID,
		HeirID:           heirID,
		TokenID:          tokenID,
		CreatedAt:        nowSecs,
		NextAttemptAfter: nowSecs,
	}
	u.NextRetryID++
	u.RetryQueue = append(u.RetryQueue, item)
	return item
}

// nextDelay computes the jittered, adaptive-scaled backoff before the next
// attempt after `attempts` failures so far.
func nextDelay(u *domain.User, src *rng.Source, kind domain.RetryKind, attempts int) (uint64, error) {
	p := Policies[kind]
	d := baseDelay(p, attempts)

	factor := FactorBps(u, kind)
	d = d * uint64(factor) / 10000

	if src != nil {
		// +/-20% jitter: draw a value in [0, 40] and shift it to [-20, 20].
		jitterPct, err := src.TryUint64(41)
		if err != nil {
			return d, err
		}
		delta := int64(jitterPct) - 20
		adjusted := int64(d) + int64(d)*delta/100
		if adjusted < 0 {
			adjusted = 0
		}
		d = uint64(adjusted)
	}
	return d, nil
}

// DueItems returns the non-terminal items whose next_attempt_after has
// elapsed, incrementing their attempts and emitting RetryAttempt — the
// "snapshot under a serialized borrow" step of the processor.
func DueItems(u *domain.User, nowSecs uint64, maxAttempts int) []*domain.RetryItem {
	var due []*domain.RetryItem
	for _, item := range u.RetryQueue {
		if item.Terminal || item.NextAttemptAfter > nowSecs {
			continue
		}
		item.Attempts++
		auditlog.Append(u, nowSecs, domain.EventRetryAttempt, &item.AssetID, &item.HeirID, map[string]interface{}{
			"kind":     item.Kind.String(),
			"attempts": item.Attempts,
		})
		due = append(due, item)
		_ = maxAttempts
	}
	return due
}

// Resolve applies the outcome of one attempt: success marks the item
// terminal and records an adaptive success; an error either exhausts
// max_attempts (terminal, RetryTerminal) or reschedules with a fresh delay.
func Resolve(u *domain.User, src *rng.Source, nowSecs uint64, item *domain.RetryItem, maxAttempts int, attemptErr error) error {
	if attemptErr == nil {
		item.Terminal = true
		item.Succeeded = true
		RecordSuccess(u, item.Kind, nowSecs)
		auditlog.Append(u, nowSecs, domain.EventRetrySucceeded, &item.AssetID, &item.HeirID, map[string]interface{}{
			"kind": item.Kind.String(),
		})
		return nil
	}

	item.LastError = attemptErr.Error()
	RecordFailure(u, item.Kind, nowSecs)

	if item.Attempts >= maxAttempts {
		item.Terminal = true
		auditlog.Append(u, nowSecs, domain.EventRetryTerminal, &item.AssetID, &item.HeirID, map[string]interface{}{
			"kind":  item.Kind.String(),
			"error": item.LastError,
		})
		return nil
	}

	delay, err := nextDelay(u, src, item.Kind, item.Attempts)
	if err != nil {
		return err
	}
	item.NextAttemptAfter = nowSecs + delay
	return nil
}

// ForceRetry sets one item's next_attempt_after to now, bypassing backoff.
func ForceRetry(u *domain.User, nowSecs uint64, id uint64) bool {
	for _, item := range u.RetryQueue {
		if item.ID == id && !item.Terminal {
			item.NextAttemptAfter = nowSecs
			return true
		}
	}
	return false
}

// ForceAllDue sets every non-terminal item's next_attempt_after to now.
func ForceAllDue(u *domain.User, nowSecs uint64) int {
	count := 0
	for _, item := range u.RetryQueue {
		if !item.Terminal {
			item.NextAttemptAfter = nowSecs
			count++
		}
	}
	return count
}

// Prune enforces the queue's size and age caps, in order: drop the oldest
// non-terminal items beyond the depth cap, drop terminal items past the
// general age cutoff, drop successful terminal items past the shorter
// cutoff, then keep at most PruneMaxTerminalPerKind terminal items per kind.
func Prune(u *domain.User, nowSecs uint64) {
	nonTerminalCount := 0
	for _, item := range u.RetryQueue {
		if !item.Terminal {
			nonTerminalCount++
		}
	}
	if excess := nonTerminalCount - PruneMaxNonTerminal; excess > 0 {
		kept := u.RetryQueue[:0:0]
		dropped := 0
		for _, item := range u.RetryQueue {
			if !item.Terminal && dropped < excess {
				dropped++
				continue
			}
			kept = append(kept, item)
		}
		u.RetryQueue = kept
	}

	kept := u.RetryQueue[:0:0]
	for _, item := range u.RetryQueue {
		if !item.Terminal {
			kept = append(kept, item)
			continue
		}
		age := nowSecs - item.CreatedAt
		if age > PruneTerminalAgeSecs {
			continue
		}
		if item.Succeeded && age > PruneSuccessfulTerminalAgeSecs {
			continue
		}
		kept = append(kept, item)
	}
	u.RetryQueue = kept

	perKindTerminal := make(map[domain.RetryKind][]*domain.RetryItem)
	var nonTerminal []*domain.RetryItem
	for _, item := range u.RetryQueue {
		if item.Terminal {
			perKindTerminal[item.Kind] = append(perKindTerminal[item.Kind], item)
		} else {
			nonTerminal = append(nonTerminal, item)
		}
	}
	final := nonTerminal
	for _, items := range perKindTerminal {
		if len(items) > PruneMaxTerminalPerKind {
			items = items[len(items)-PruneMaxTerminalPerKind:]
		}
		final = append(final, items...)
	}
	u.RetryQueue = final
}
