package guardian

import (
	"context"

	"github.com/civkeep/estateguardian/internal/custody"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/escrow"
)

// CustodySubaccountForHeir is custody_subaccount_for_heir.
func (g *Guardian) CustodySubaccountForHeir(principal string, heirID uint64) ([]byte, error) {
	var sub []byte
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		s, err := custody.SubaccountForHeir(u, g.masterKey, heirID)
		if err != nil {
			return err
		}
		sub = s
		return nil
	})
	return sub, err
}

// WithdrawCustody is withdraw_custody: requires the caller to already hold
// a session with a verified secret for heirID (checked by the caller
// supplying secretVerified, typically resolved via the claim session).
func (g *Guardian) WithdrawCustody(ctx context.Context, principal string, assetID, heirID uint64, secretVerified bool) (*domain.TransferRecord, error) {
	var rec *domain.TransferRecord
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		r, err := custody.WithdrawCustody(ctx, u, g.custodyEngine, g.now(), assetID, heirID, secretVerified)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	return rec, err
}

// ProcessCustodyReleases drives one pass of both the fungible and NFT
// custody release loops for a single principal (§4.I, §4.O step 4).
func (g *Guardian) ProcessCustodyReleases(ctx context.Context, principal string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		custody.AttemptFungibleReleases(ctx, u, g.custodyEngine, g.now())
		custody.AttemptNftReleases(ctx, u, g.custodyEngine, g.now())
		return nil
	})
}

// --- Escrow / approval ops (§4.J) ----------------------------------------

// DepositEscrow is deposit_escrow.
func (g *Guardian) DepositEscrow(ctx context.Context, principal string, assetID, amount uint64) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return escrow.Deposit(ctx, u, g.escrowEngine, g.now(), assetID, amount)
	})
}

// WithdrawEscrow is withdraw_escrow_icrc1. A nil amount withdraws the full
// remaining balance.
func (g *Guardian) WithdrawEscrow(ctx context.Context, principal string, assetID uint64, amount *uint64) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return escrow.WithdrawICRC1(ctx, u, g.escrowEngine, g.now(), assetID, amount)
	})
}

// SetApproval is approval_set.
func (g *Guardian) SetApproval(ctx context.Context, principal string, assetID, allowance uint64, onChain bool) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return escrow.SetApproval(ctx, u, g.escrowEngine, g.now(), assetID, allowance, onChain)
	})
}

// RevokeApproval is approval_revoke.
func (g *Guardian) RevokeApproval(principal string, assetID uint64) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return escrow.RevokeApproval(u, assetID)
	})
}
