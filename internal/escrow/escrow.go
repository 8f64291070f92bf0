// Package escrow implements deposit/withdraw/approval bookkeeping and
// retry-driven release for escrow-mode assets (§4.J). Grounded in the
// teacher's gas-bank Account/Transaction reserve/release shape
// (ReserveFunds/ReleaseFunds), generalized from "reserve gas for a
// pending op" to "escrow owner funds for a locked asset."
package escrow

import (
	"context"
	"fmt"

	"github.com/civkeep/estateguardian/internal/auditlog"
	"github.com/civkeep/estateguardian/internal/cryptoutil"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/errs"
	"github.com/civkeep/estateguardian/internal/estate"
	"github.com/civkeep/estateguardian/internal/ledger"
)

// Engine bundles the capability and key-derivation dependencies escrow
// operations need.
type Engine struct {
	Fungible  ledger.FungibleLedger
	MasterKey []byte
}

func subaccountFor(u *domain.User, eng *Engine, assetID uint64) ([]byte, error) {
	if rec, ok := u.EscrowRecords[assetID]; ok && rec.Subaccount != nil {
		return rec.Subaccount, nil
	}
	return cryptoutil.DeriveEscrowSubaccount(eng.MasterKey, []byte(u.Principal), assetID)
}

// Deposit records (and, where a token canister is known, moves on-chain)
// an owner-funded escrow balance for assetID (§4.J deposit_escrow). An
// existing entry for the asset is replaced, not summed.
func Deposit(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64, assetID uint64, amount uint64) error {
	if err := estate.RequireMutable(u); err != nil {
		return err
	}
	asset, ok := u.Assets[assetID]
	if !ok {
		return errs.AssetNotFound(fmt.Sprintf("%d", assetID))
	}

	sub, err := subaccountFor(u, eng, assetID)
	if err != nil {
		return errs.Internal("derive escrow subaccount", err)
	}

	if asset.TokenLedger != "" {
		if _, err := eng.Fungible.TransferFrom(ctx, asset.TokenLedger,
			ledger.Account{Principal: u.Principal},
			ledger.Account{Subaccount: sub}, amount); err != nil {
			return errs.TransferCallFailed(err.Error())
		}
	}

	u.EscrowRecords[assetID] = &domain.EscrowRecord{
		AssetID:     assetID,
		Remaining:   amount,
		DepositedAt: nowSecs,
		Subaccount:  sub,
	}
	auditlog.Append(u, nowSecs, domain.EventEscrowDeposited, &assetID, nil, map[string]interface{}{
		"amount": amount,
	})
	return nil
}

// WithdrawICRC1 is the owner's manual escrow withdrawal (§4.J
// withdraw_escrow_icrc1): rejected once the estate has passed Draft/Warning,
// bounded by the current logical remaining, and zeroes/removes the entry
// at zero.
func WithdrawICRC1(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64, assetID uint64, amount *uint64) error {
	if err := estate.RequireMutable(u); err != nil {
		return err
	}
	asset, ok := u.Assets[assetID]
	if !ok {
		return errs.AssetNotFound(fmt.Sprintf("%d", assetID))
	}
	rec, ok := u.EscrowRecords[assetID]
	if !ok {
		return errs.Other("escrow_withdraw_locked")
	}

	want := rec.Remaining
	if amount != nil && *amount < want {
		want = *amount
	}
	if want == 0 {
		return nil
	}

	if _, err := eng.Fungible.TransferFromSubaccount(ctx, asset.TokenLedger,
		ledger.Account{Subaccount: rec.Subaccount},
		ledger.Account{Principal: u.Principal}, want); err != nil {
		return errs.TransferCallFailed(err.Error())
	}

	rec.Remaining -= want
	if rec.Remaining == 0 {
		delete(u.EscrowRecords, assetID)
	}
	auditlog.Append(u, nowSecs, domain.EventEscrowWithdrawn, &assetID, nil, map[string]interface{}{
		"amount": want,
	})
	return nil
}

// SetApproval records a local approval allowance for a non-escrow asset
// (§4.J approval_set), optionally mirroring it on-chain via icrc2_approve
// when onChain is true.
func SetApproval(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64, assetID uint64, allowance uint64, onChain bool) error {
	if err := estate.RequireMutable(u); err != nil {
		return err
	}
	asset, ok := u.Assets[assetID]
	if !ok {
		return errs.AssetNotFound(fmt.Sprintf("%d", assetID))
	}
	if onChain {
		if _, err := eng.Fungible.Approve(ctx, asset.TokenLedger, u.Principal, allowance); err != nil {
			return errs.TransferCallFailed(err.Error())
		}
	}
	u.ApprovalRecords[assetID] = &domain.ApprovalRecord{
		AssetID:   assetID,
		Allowance: allowance,
		GrantedAt: nowSecs,
	}
	return nil
}

// RevokeApproval clears a local approval record (§4.J approval_revoke).
func RevokeApproval(u *domain.User, assetID uint64) error {
	if err := estate.RequireMutable(u); err != nil {
		return err
	}
	delete(u.ApprovalRecords, assetID)
	return nil
}

// AttemptRelease is the retry-driven escrow transfer to one heir (§4.J
// attempt_escrow_release): computes the heir's share from the current
// logical remaining and percentage, transfers from the escrow subaccount,
// and on success decrements remaining.
func AttemptRelease(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64, assetID, heirID uint64) error {
	asset, ok := u.Assets[assetID]
	if !ok {
		return errs.AssetNotFound(fmt.Sprintf("%d", assetID))
	}
	heir, ok := u.Heirs[heirID]
	if !ok || heir.Principal == "" {
		return errs.HeirNotFound(fmt.Sprintf("%d", heirID))
	}
	rec, ok := u.EscrowRecords[assetID]
	if !ok {
		return errs.Other("escrow_record_missing")
	}
	share, ok := u.Distributions[domain.DistributionKey(assetID, heirID)]
	if !ok {
		return errs.DistributionHeirNotFound(fmt.Sprintf("%d", heirID))
	}

	amount := rec.Remaining * uint64(share.Percentage) / 100
	if amount == 0 {
		return nil
	}

	_, err := eng.Fungible.TransferFromSubaccount(ctx, asset.TokenLedger,
		ledger.Account{Subaccount: rec.Subaccount},
		ledger.Account{Principal: heir.Principal}, amount)
	if err != nil {
		auditlog.Append(u, nowSecs, domain.EventEscrowReleaseFailed, &assetID, &heirID, map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	if rec.Remaining >= amount {
		rec.Remaining -= amount
	} else {
		rec.Remaining = 0
	}
	auditlog.Append(u, nowSecs, domain.EventEscrowReleased, &assetID, &heirID, map[string]interface{}{
		"amount": amount,
	})
	return nil
}
