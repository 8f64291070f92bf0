package guardian

import (
	"context"

	"github.com/civkeep/estateguardian/internal/bridge"
	"github.com/civkeep/estateguardian/internal/custody"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/escrow"
	"github.com/civkeep/estateguardian/internal/retry"
)

// dispatchRetryItem routes one due retry item to its kind-specific handler
// and returns the error Resolve should record against it.
//
// The fungible/NFT custody release kinds carry no independent backoff state
// of their own — a FungibleCustodyRecord/NFTCustodyRecord's own
// ReleasableRecord already tracks attempts and NextAttemptAfter (§4.I). A
// queued RetryFungibleCustodyRelease/RetryNftCustodyRelease item is just the
// wake-up ticket claim.BindPrincipal posts when a heir's principal becomes
// known; dispatching it runs the real custody release pass and always
// resolves the ticket itself as successful.
func (g *Guardian) dispatchRetryItem(ctx context.Context, u *domain.User, nowSecs uint64, item *domain.RetryItem) error {
	switch item.Kind {
	case domain.RetryEscrowRelease:
		return escrow.AttemptRelease(ctx, u, g.escrowEngine, nowSecs, item.AssetID, item.HeirID)
	case domain.RetryBridgePoll:
		return g.bridgeEngine.Poll(ctx, u, nowSecs, bridge.RetryContextSessionID, item.AssetID, item.HeirID)
	case domain.RetryFungibleCustodyRelease:
		custody.AttemptFungibleReleases(ctx, u, g.custodyEngine, nowSecs)
		return nil
	case domain.RetryNftCustodyRelease:
		custody.AttemptNftReleases(ctx, u, g.custodyEngine, nowSecs)
		return nil
	default:
		return nil
	}
}

// ProcessRetryQueue drains up to maxPasses rounds of due retry items for
// principal, each round re-collecting whatever is due after the previous
// round's backoff updates (§4.L, §4.O step 5).
func (g *Guardian) ProcessRetryQueue(ctx context.Context, principal string, maxPasses int) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		if maxPasses <= 0 {
			maxPasses = 1
		}
		for pass := 0; pass < maxPasses; pass++ {
			nowSecs := g.now()
			due := retry.DueItems(u, nowSecs, g.retryMax)
			if len(due) == 0 {
				break
			}
			for _, item := range due {
				err := g.dispatchRetryItem(ctx, u, nowSecs, item)
				if rerr := retry.Resolve(u, g.RNG, nowSecs, item, g.retryMax, err); rerr != nil {
					return rerr
				}
			}
		}
		retry.Prune(u, g.now())
		return nil
	})
}
