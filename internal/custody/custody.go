// Package custody drives the two shape-identical release loops (§4.I):
// fungible and NFT custody records staged by the execution engine, each
// retried with its own exponential backoff until released. There is no
// attempt limit: a record that keeps failing is retried at the 24h cap.
// Grounded in the teacher's gas-bank top-up retry loop (collect due
// records, attempt, backoff on failure), generalized from "top up a gas
// balance" to "release custodied assets to an heir."
package custody

import (
	"context"
	"fmt"

	"github.com/civkeep/estateguardian/internal/auditlog"
	"github.com/civkeep/estateguardian/internal/cryptoutil"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/errs"
	"github.com/civkeep/estateguardian/internal/ledger"
)

const (
	// fungibleBaseSecs/nftBaseSecs are the per-kind backoff bases (§4.I
	// step 4); the cap is a flat 24h regardless of kind.
	fungibleBaseSecs = 60
	nftBaseSecs      = 120
	backoffCapSecs   = 24 * 3600
)

// Engine bundles the capabilities a release attempt needs.
type Engine struct {
	Fungible ledger.FungibleLedger
	NFT      ledger.NFTLedger
}

func backoffDelay(base uint64, attempts int) uint64 {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 32 {
		shift = 32
	}
	d := base << uint(shift)
	if d > backoffCapSecs {
		d = backoffCapSecs
	}
	return d
}

// dueFungible collects unreleased, non-releasing records whose backoff has
// elapsed, marking them releasing and incrementing attempts under lock —
// mirroring §4.I step 1's "collect, then mark releasing" snapshot.
func dueFungible(u *domain.User, nowSecs uint64) []*domain.FungibleCustodyRecord {
	var due []*domain.FungibleCustodyRecord
	for _, rec := range u.FungibleCustody {
		if rec.Release.Released() || rec.Release.Releasing {
			continue
		}
		if rec.Release.NextAttemptAfter > nowSecs {
			continue
		}
		rec.Release.Releasing = true
		rec.Release.Attempts++
		due = append(due, rec)
	}
	return due
}

func dueNft(u *domain.User, nowSecs uint64) []*domain.NFTCustodyRecord {
	var due []*domain.NFTCustodyRecord
	for _, rec := range u.NftCustody {
		if rec.Release.Released() || rec.Release.Releasing {
			continue
		}
		if rec.Release.NextAttemptAfter > nowSecs {
			continue
		}
		rec.Release.Releasing = true
		rec.Release.Attempts++
		due = append(due, rec)
	}
	return due
}

// AttemptFungibleReleases drives every due fungible custody record for the
// user through one release attempt (§4.I).
func AttemptFungibleReleases(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64) {
	for _, rec := range dueFungible(u, nowSecs) {
		assetID, heirID := rec.AssetID, rec.HeirID
		auditlog.Append(u, nowSecs, domain.EventFungibleCustodyReleaseAttempt, &assetID, &heirID, map[string]interface{}{
			"attempts": rec.Release.Attempts,
		})

		asset := u.Assets[rec.AssetID]
		heir := u.Heirs[rec.HeirID]
		var err error
		switch {
		case asset == nil:
			err = errs.AssetNotFound("")
		case heir == nil || heir.Principal == "":
			err = errs.HeirNotFound("")
		case asset.HoldingMode == domain.HoldingApproval:
			_, err = eng.Fungible.TransferFrom(ctx, asset.TokenLedger, ledger.Account{Principal: u.Principal}, ledger.Account{Principal: heir.Principal}, rec.Release.Amount)
		default:
			cs := u.CustodySubaccounts[rec.HeirID]
			var sub []byte
			if cs != nil {
				sub = cs.Subaccount
			}
			_, err = eng.Fungible.TransferFromSubaccount(ctx, asset.TokenLedger, ledger.Account{Subaccount: sub}, ledger.Account{Principal: heir.Principal}, rec.Release.Amount)
		}

		rec.Release.Releasing = false
		if err == nil {
			rec.Release.ReleasedAt = nowSecs
			rec.Release.LastError = ""
			rec.Release.NextAttemptAfter = 0
			auditlog.Append(u, nowSecs, domain.EventFungibleCustodyReleased, &assetID, &heirID, nil)
			continue
		}

		rec.Release.LastError = err.Error()
		delay := backoffDelay(fungibleBaseSecs, rec.Release.Attempts)
		rec.Release.NextAttemptAfter = nowSecs + delay
		auditlog.Append(u, nowSecs, domain.EventFungibleCustodyReleaseFailed, &assetID, &heirID, map[string]interface{}{
			"error":             err.Error(),
			"next_attempt_after": rec.Release.NextAttemptAfter,
		})
	}
}

// AttemptNftReleases is the NFT-standard-dispatched counterpart of
// AttemptFungibleReleases.
func AttemptNftReleases(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64) {
	for _, rec := range dueNft(u, nowSecs) {
		assetID, heirID := rec.AssetID, rec.HeirID
		auditlog.Append(u, nowSecs, domain.EventNftCustodyReleaseAttempt, &assetID, &heirID, map[string]interface{}{
			"attempts": rec.Release.Attempts,
		})

		asset := u.Assets[rec.AssetID]
		heir := u.Heirs[rec.HeirID]
		var err error
		switch {
		case asset == nil:
			err = errs.AssetNotFound("")
		case heir == nil || heir.Principal == "":
			err = errs.HeirNotFound("")
		case asset.NFTStandard == domain.NFTStandardDIP721:
			err = eng.NFT.TransferDIP721(ctx, asset.TokenLedger, heir.Principal, rec.TokenID)
		case asset.NFTStandard == domain.NFTStandardEXT:
			err = eng.NFT.TransferEXT(ctx, asset.TokenLedger, heir.Principal, rec.TokenID)
		default:
			err = errs.NftStandardUnsupported("none")
		}

		rec.Release.Releasing = false
		if err == nil {
			rec.Release.ReleasedAt = nowSecs
			rec.Release.LastError = ""
			rec.Release.NextAttemptAfter = 0
			auditlog.Append(u, nowSecs, domain.EventNftCustodyReleased, &assetID, &heirID, nil)
			continue
		}

		rec.Release.LastError = err.Error()
		delay := backoffDelay(nftBaseSecs, rec.Release.Attempts)
		rec.Release.NextAttemptAfter = nowSecs + delay
		auditlog.Append(u, nowSecs, domain.EventNftCustodyReleaseFailed, &assetID, &heirID, map[string]interface{}{
			"error":             err.Error(),
			"next_attempt_after": rec.Release.NextAttemptAfter,
		})
	}
}

// WithdrawCustody is the heir-initiated post-execution release path
// (§4.I): the heir must hold a verified secret and the estate must have
// reached Locked or Executed. It spawns the underlying transfer directly
// (not via the retry queue) and records a TransferRecord reflecting the
// outcome.
func WithdrawCustody(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64, assetID, heirID uint64, secretVerified bool) (*domain.TransferRecord, error) {
	if u.Phase != domain.PhaseLocked && u.Phase != domain.PhaseExecuted {
		return nil, errs.WrongPhase(u.Phase.String(), "locked_or_executed")
	}
	if !secretVerified {
		return nil, errs.HeirSessionUnauthorized("secret not verified")
	}
	asset, ok := u.Assets[assetID]
	if !ok {
		return nil, errs.AssetNotFound(fmt.Sprintf("%d", assetID))
	}
	heir, ok := u.Heirs[heirID]
	if !ok {
		return nil, errs.HeirNotFound(fmt.Sprintf("%d", heirID))
	}
	share, ok := u.Distributions[domain.DistributionKey(assetID, heirID)]
	if !ok {
		return nil, errs.DistributionHeirNotFound(fmt.Sprintf("%d", heirID))
	}

	amount := asset.Value * uint64(share.Percentage) / 100
	rec := &domain.TransferRecord{
		ID:         u.NextTransferID,
		Kind:       asset.Kind,
		Amount:     amount,
		Preference: domain.PreferenceToPrincipal,
		AssetID:    assetID,
		HeirID:     heirID,
		Note:       "withdraw_custody",
		Timestamp:  nowSecs,
	}
	u.NextTransferID++
	u.Transfers = append(u.Transfers, rec)

	key := domain.PairKey(assetID, heirID)
	custodyRec, hasCustody := u.FungibleCustody[key]

	txIdx, err := eng.Fungible.TransferFromSubaccount(ctx, asset.TokenLedger,
		ledger.Account{Subaccount: subaccountFor(u, heirID)},
		ledger.Account{Principal: heir.Principal}, amount)
	if err != nil {
		code, kind := domain.ClassifyTransferError(err.Error())
		rec.Error = code
		rec.ErrorKind = kind
		return rec, nil
	}
	rec.TxIndex = &txIdx
	if hasCustody && !custodyRec.Release.Released() {
		custodyRec.Release.ReleasedAt = nowSecs
		custodyRec.Release.NextAttemptAfter = 0
	}
	return rec, nil
}

func subaccountFor(u *domain.User, heirID uint64) []byte {
	if cs, ok := u.CustodySubaccounts[heirID]; ok {
		return cs.Subaccount
	}
	return nil
}

// SubaccountForHeir is custody_subaccount_for_heir: returns the heir's
// custody subaccount, deriving and caching it on first use (invariant 9:
// deterministic and injective over (owner, heir_id)).
func SubaccountForHeir(u *domain.User, masterKey []byte, heirID uint64) ([]byte, error) {
	if _, ok := u.Heirs[heirID]; !ok {
		return nil, errs.HeirNotFound(fmt.Sprintf("%d", heirID))
	}
	if cs, ok := u.CustodySubaccounts[heirID]; ok {
		return cs.Subaccount, nil
	}
	sub, err := cryptoutil.DeriveCustodySubaccount(masterKey, []byte(u.Principal), heirID)
	if err != nil {
		return nil, errs.Internal("derive custody subaccount", err)
	}
	u.CustodySubaccounts[heirID] = &domain.CustodySubaccount{HeirID: heirID, Subaccount: sub}
	return sub, nil
}
