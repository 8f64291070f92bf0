// Package execution implements the estate's lock→dispatch→finalize
// protocol (§4.H): serialize entry via an execution nonce, snapshot the
// Locked distribution set, run the atomic preflight gates, dispatch each
// work item against the ledger capabilities, and finalize by appending
// transfer records and advancing the estate to Executed.
package execution

import (
	"context"
	"fmt"

	"github.com/civkeep/estateguardian/internal/auditlog"
	"github.com/civkeep/estateguardian/internal/cryptoutil"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/errs"
	"github.com/civkeep/estateguardian/internal/ledger"
	"github.com/civkeep/estateguardian/internal/retry"
)

// Ledgers bundles the capability surface dispatch drives outbound calls
// against.
type Ledgers struct {
	Fungible ledger.FungibleLedger
	NFT      ledger.NFTLedger
	Bridge   ledger.BridgeLedger
}

// Engine is the dependency set Execute needs beyond the aggregate itself.
type Engine struct {
	Ledgers   Ledgers
	MasterKey []byte
}

// WorkItem is one (asset, heir) distribution share resolved against its
// asset and heir snapshots, with the override-beats-default preference
// already applied (§4.H step 2).
type WorkItem struct {
	AssetID    uint64
	HeirID     uint64
	Asset      domain.Asset
	Heir       domain.Heir
	Preference domain.PayoutPreference
	Percentage uint8
}

// Begin serializes entry (§4.H step 1): an already-running or
// already-executed estate refuses immediately, with no state otherwise
// touched. A refused Begin leaves execution_nonce untouched.
func Begin(u *domain.User) error {
	if u.Phase == domain.PhaseExecuted {
		return errs.AlreadyExecuted()
	}
	if u.Phase != domain.PhaseLocked {
		return errs.WrongPhase(u.Phase.String(), domain.PhaseLocked.String())
	}
	if u.ExecutionNonce {
		return errs.ExecutionInProgress()
	}
	u.ExecutionNonce = true
	return nil
}

// Abort clears the nonce without recording an execution, used when a
// preflight gate refuses the run.
func Abort(u *domain.User) { u.ExecutionNonce = false }

// Snapshot computes the ordered work-item list for a Locked estate (§4.H
// step 2).
func Snapshot(u *domain.User) []WorkItem {
	shares := u.OrderedDistributions()
	items := make([]WorkItem, 0, len(shares))
	for _, d := range shares {
		asset, ok := u.Assets[d.AssetID]
		if !ok {
			continue
		}
		heir, ok := u.Heirs[d.HeirID]
		if !ok {
			continue
		}
		pref := d.Preference
		if ov, ok := u.Overrides[domain.OverrideKey(d.HeirID, d.AssetID)]; ok {
			pref = ov.Preference
		}
		items = append(items, WorkItem{
			AssetID:    d.AssetID,
			HeirID:     d.HeirID,
			Asset:      *asset,
			Heir:       *heir,
			Preference: pref,
			Percentage: d.Percentage,
		})
	}
	return items
}

func heirAmount(value uint64, pct uint8) uint64 {
	return value * uint64(pct) / 100
}

func isFungibleLike(kind domain.AssetKind) bool {
	return kind == domain.AssetFungible || kind == domain.AssetChainWrapped
}

// Preflight runs the atomic refusal gates of §4.H step 3 against a
// snapshot. Any single violation refuses the whole run with no mutation.
func Preflight(u *domain.User, items []WorkItem) error {
	for _, it := range items {
		if isFungibleLike(it.Asset.Kind) && it.Asset.Decimals == 0 {
			return errs.InvalidInput("decimals", fmt.Sprintf("asset %d has unknown decimals", it.AssetID))
		}
	}

	requiredEscrow := make(map[uint64]uint64)
	for _, it := range items {
		if it.Asset.HoldingMode != domain.HoldingEscrow {
			continue
		}
		requiredEscrow[it.AssetID] += heirAmount(it.Asset.Value, it.Percentage)
	}
	for assetID, need := range requiredEscrow {
		remaining := uint64(0)
		if rec, ok := u.EscrowRecords[assetID]; ok {
			remaining = rec.Remaining
		}
		if remaining < need {
			return errs.Other(fmt.Sprintf("escrow_insufficient_required:%d:%d:%d", assetID, remaining, need))
		}
	}

	requiredAllowance := make(map[uint64]uint64)
	for _, it := range items {
		if it.Asset.HoldingMode != domain.HoldingApproval || !isFungibleLike(it.Asset.Kind) {
			continue
		}
		if _, ok := u.ApprovalRecords[it.AssetID]; !ok {
			return errs.MissingApproval(fmt.Sprintf("%d", it.AssetID))
		}
		requiredAllowance[it.AssetID] += heirAmount(it.Asset.Value, it.Percentage)
	}
	for assetID, need := range requiredAllowance {
		rec := u.ApprovalRecords[assetID]
		if rec.Allowance < need {
			return errs.AllowanceInsufficient(fmt.Sprintf("%d", need), fmt.Sprintf("%d", rec.Allowance))
		}
	}
	return nil
}

func newRecord(u *domain.User, nowSecs uint64, it WorkItem, amount uint64, note string) *domain.TransferRecord {
	rec := &domain.TransferRecord{
		ID:         u.NextTransferID,
		Kind:       it.Asset.Kind,
		Amount:     amount,
		Preference: it.Preference,
		AssetID:    it.AssetID,
		HeirID:     it.HeirID,
		Note:       note,
		Timestamp:  nowSecs,
	}
	u.NextTransferID++
	return rec
}

func setFailure(rec *domain.TransferRecord, raw string) {
	code, kind := domain.ClassifyTransferError(raw)
	rec.Error = code
	rec.ErrorKind = kind
}

func decrementAllowance(u *domain.User, assetID, amount uint64) {
	rec, ok := u.ApprovalRecords[assetID]
	if !ok {
		return
	}
	if rec.Allowance >= amount {
		rec.Allowance -= amount
	} else {
		rec.Allowance = 0
	}
}

func custodySubaccountFor(u *domain.User, eng *Engine, heirID uint64) ([]byte, error) {
	if cs, ok := u.CustodySubaccounts[heirID]; ok {
		return cs.Subaccount, nil
	}
	sub, err := cryptoutil.DeriveCustodySubaccount(eng.MasterKey, []byte(u.Principal), heirID)
	if err != nil {
		return nil, err
	}
	u.CustodySubaccounts[heirID] = &domain.CustodySubaccount{HeirID: heirID, Subaccount: sub}
	return sub, nil
}

func stageFungibleCustody(u *domain.User, nowSecs uint64, it WorkItem, amount uint64) {
	key := domain.PairKey(it.AssetID, it.HeirID)
	u.FungibleCustody[key] = &domain.FungibleCustodyRecord{
		AssetID: it.AssetID,
		HeirID:  it.HeirID,
		Release: domain.ReleasableRecord{Amount: amount, StagedAt: nowSecs},
	}
	auditlog.Append(u, nowSecs, domain.EventFungibleCustodyStaged, &it.AssetID, &it.HeirID, map[string]interface{}{
		"amount": amount,
	})
}

func stageNftCustody(u *domain.User, nowSecs uint64, it WorkItem, tokenID uint64) bool {
	key := domain.NFTKey(it.AssetID, it.HeirID, tokenID)
	if _, exists := u.NftCustody[key]; exists {
		return false
	}
	u.NftCustody[key] = &domain.NFTCustodyRecord{
		AssetID: it.AssetID,
		HeirID:  it.HeirID,
		TokenID: tokenID,
		Release: domain.ReleasableRecord{Amount: 1, StagedAt: nowSecs},
	}
	auditlog.Append(u, nowSecs, domain.EventNftCustodyStaged, &it.AssetID, &it.HeirID, map[string]interface{}{
		"token_id": tokenID,
	})
	return true
}

func stageCkWithdraw(u *domain.User, it WorkItem, amount uint64) {
	key := domain.PairKey(it.AssetID, it.HeirID)
	u.CkWithdraws[key] = &domain.CkWithdrawRecord{
		AssetID: it.AssetID,
		HeirID:  it.HeirID,
		Amount:  amount,
		Status:  domain.BridgeStaged,
	}
}

// dispatchEscrowFungible handles "Escrow | Fungible | any" (§4.H.1): enqueue
// an EscrowRelease retry, the actual transfer happening asynchronously.
func dispatchEscrowFungible(u *domain.User, nowSecs uint64, it WorkItem, amount uint64) string {
	retry.Enqueue(u, nowSecs, domain.RetryEscrowRelease, it.AssetID, it.HeirID, nil)
	u.Transfers = append(u.Transfers, newRecord(u, nowSecs, it, amount, "escrow_release_enqueued"))
	return "success"
}

// dispatchApprovalFungible handles the three Approval/Fungible rows.
func dispatchApprovalFungible(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64, it WorkItem, amount uint64) string {
	rec := newRecord(u, nowSecs, it, amount, "")
	defer func() { u.Transfers = append(u.Transfers, rec) }()

	switch it.Preference {
	case domain.PreferenceToCustody:
		rec.Note = "icrc2_transfer_from"
		sub, err := custodySubaccountFor(u, eng, it.HeirID)
		if err != nil {
			setFailure(rec, err.Error())
			return "failure"
		}
		from := ledger.Account{Principal: u.Principal}
		to := ledger.Account{Subaccount: sub}
		txIdx, err := eng.Ledgers.Fungible.TransferFrom(ctx, it.Asset.TokenLedger, from, to, amount)
		if err != nil {
			setFailure(rec, err.Error())
			return "failure"
		}
		rec.TxIndex = &txIdx
		decrementAllowance(u, it.AssetID, amount)
		stageFungibleCustody(u, nowSecs, it, amount)
		return "success"

	case domain.PreferenceToPrincipal, domain.PreferenceCkWithdraw:
		if it.Heir.Principal == "" {
			rec.Error = "ERR_MISSING_DESTINATION"
			rec.ErrorKind = domain.ErrKindMissingDestinationPrincipal
			return "failure"
		}
		approval := u.ApprovalRecords[it.AssetID]
		from := ledger.Account{Principal: u.Principal}
		to := ledger.Account{Principal: it.Heir.Principal}

		var txIdx uint64
		var err error
		if approval != nil && approval.Allowance >= amount {
			rec.Note = "icrc2_transfer_from"
			txIdx, err = eng.Ledgers.Fungible.TransferFrom(ctx, it.Asset.TokenLedger, from, to, amount)
		} else {
			err = fmt.Errorf("missing approval: allowance insufficient")
		}
		if err != nil {
			rec.Note = "icrc1_transfer"
			txIdx, err = eng.Ledgers.Fungible.Transfer(ctx, it.Asset.TokenLedger, to, amount)
		}
		if err != nil {
			setFailure(rec, err.Error())
			return "failure"
		}
		rec.TxIndex = &txIdx
		decrementAllowance(u, it.AssetID, amount)
		if it.Preference == domain.PreferenceCkWithdraw {
			stageCkWithdraw(u, it, amount)
			return "ck_staged"
		}
		return "success"

	default:
		rec.Error = string(errs.CodeInvalidInput)
		return "failure"
	}
}

// dispatchNFT handles the two Approval/Nft rows.
func dispatchNFT(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64, it WorkItem) string {
	rec := newRecord(u, nowSecs, it, 1, "")
	defer func() { u.Transfers = append(u.Transfers, rec) }()

	tokenID := uint64(0)
	if it.Asset.TokenID != nil {
		tokenID = *it.Asset.TokenID
	}

	if it.Preference == domain.PreferenceToCustody || it.Heir.Principal == "" {
		rec.Note = "nft_custody_staged"
		if !stageNftCustody(u, nowSecs, it, tokenID) {
			rec.Note = "already_staged"
		}
		return "success"
	}

	rec.Note = "nft_transfer"
	var err error
	switch it.Asset.NFTStandard {
	case domain.NFTStandardDIP721:
		err = eng.Ledgers.NFT.TransferDIP721(ctx, it.Asset.TokenLedger, it.Heir.Principal, tokenID)
	case domain.NFTStandardEXT:
		err = eng.Ledgers.NFT.TransferEXT(ctx, it.Asset.TokenLedger, it.Heir.Principal, tokenID)
	default:
		rec.Error = fmt.Sprintf("NFT_UNSUPPORTED:%d", tokenID)
		rec.ErrorKind = domain.ErrKindNftUnsupported
		return "failure"
	}
	if err != nil {
		setFailure(rec, err.Error())
		return "failure"
	}
	return "success"
}

// dispatch routes one work item through the §4.H.1 behavior matrix.
func dispatch(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64, it WorkItem) string {
	if it.Asset.Kind == domain.AssetDocument {
		u.Transfers = append(u.Transfers, newRecord(u, nowSecs, it, 0, "document_unlocked"))
		return "success"
	}

	amount := heirAmount(it.Asset.Value, it.Percentage)
	if amount == 0 {
		u.Transfers = append(u.Transfers, newRecord(u, nowSecs, it, 0, "zero_amount_skip"))
		return "skipped"
	}

	fungibleLike := isFungibleLike(it.Asset.Kind)

	switch {
	case it.Asset.HoldingMode == domain.HoldingEscrow && fungibleLike:
		return dispatchEscrowFungible(u, nowSecs, it, amount)
	case it.Asset.HoldingMode == domain.HoldingEscrow:
		u.Transfers = append(u.Transfers, newRecord(u, nowSecs, it, amount, "escrow_release_nft"))
		return "success"
	case fungibleLike:
		return dispatchApprovalFungible(ctx, u, eng, nowSecs, it, amount)
	default:
		return dispatchNFT(ctx, u, eng, nowSecs, it)
	}
}

func finalizePhase(u *domain.User, nowSecs uint64) {
	from := u.Phase
	u.Phase = domain.PhaseExecuted
	u.ExecutedAt = nowSecs
	auditlog.Append(u, nowSecs, domain.EventPhaseChanged, nil, nil, map[string]interface{}{
		"from": from.String(),
		"to":   domain.PhaseExecuted.String(),
	})
}

// Execute runs the full lock→dispatch→finalize protocol (§4.H) for a Locked
// estate. auto marks whether maintenance triggered this run instead of an
// explicit caller request (recorded on the resulting ExecutionSummary).
func Execute(ctx context.Context, u *domain.User, eng *Engine, nowSecs uint64, auto bool) (*domain.ExecutionSummary, error) {
	if err := Begin(u); err != nil {
		return nil, err
	}

	items := Snapshot(u)
	if err := Preflight(u, items); err != nil {
		Abort(u)
		return nil, err
	}

	summary := &domain.ExecutionSummary{
		StartedAt:  nowSecs,
		TotalItems: len(items),
		Auto:       auto,
	}

	for _, it := range items {
		switch dispatch(ctx, u, eng, nowSecs, it) {
		case "success":
			summary.SuccessCount++
		case "failure":
			summary.FailureCount++
		case "skipped":
			summary.SkippedCount++
		case "ck_staged":
			summary.SuccessCount++
			summary.CkStagedCount++
		}
	}

	summary.FinishedAt = nowSecs
	finalizePhase(u, nowSecs)
	u.Distributed = true
	u.ExecutionNonce = false
	u.LastExecutionSummary = summary
	return summary, nil
}
