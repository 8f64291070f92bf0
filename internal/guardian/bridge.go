package guardian

import (
	"context"

	"github.com/civkeep/estateguardian/internal/bridge"
	"github.com/civkeep/estateguardian/internal/domain"
)

// RequestCkWithdraw is request_ck_withdraw.
func (g *Guardian) RequestCkWithdraw(principal string, sessionID, assetID, heirID uint64) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return bridge.Request(u, g.now(), sessionID, assetID, heirID)
	})
}

// SubmitCkWithdraw is submit_ck_withdraw.
func (g *Guardian) SubmitCkWithdraw(ctx context.Context, principal string, sessionID, assetID, heirID uint64, l1Address string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return g.bridgeEngine.Submit(ctx, u, g.now(), sessionID, assetID, heirID, l1Address)
	})
}

// PollCkWithdraw is poll_ck_withdraw.
func (g *Guardian) PollCkWithdraw(ctx context.Context, principal string, sessionID, assetID, heirID uint64) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return g.bridgeEngine.Poll(ctx, u, g.now(), sessionID, assetID, heirID)
	})
}

// ListCkWithdraws returns every in-flight or terminal cross-chain withdrawal.
func (g *Guardian) ListCkWithdraws(principal string) ([]*domain.CkWithdrawRecord, error) {
	var out []*domain.CkWithdrawRecord
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = make([]*domain.CkWithdrawRecord, 0, len(u.CkWithdraws))
		for _, rec := range u.CkWithdraws {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
