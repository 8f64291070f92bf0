// Package bridge implements the ck-withdraw cross-chain state machine
// (§4.K): Staged → Requested → FeeQuoted → Submitted → InProgress →
// Completed | Reimbursed | Failed, driven by heir-initiated requests and
// poll-based finalization. Grounded in the teacher's deposit-confirmation
// polling loop (processDepositVerification/verifyTransaction), generalized
// from "poll chain confirmations" to "poll bridge withdrawal status."
package bridge

import (
	"context"
	"fmt"

	"github.com/civkeep/estateguardian/internal/auditlog"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/errs"
	"github.com/civkeep/estateguardian/internal/ledger"
	"github.com/civkeep/estateguardian/internal/retry"
)

// RetryContextSessionID is the sentinel "no session" value poll accepts
// when invoked from the retry scheduler rather than a live heir session
// (OQ4): checked first, before any session lookup, so the no-op contract
// is visible in code instead of falling out of a lookup miss.
const RetryContextSessionID uint64 = 0

// MaxConsecutiveMisses terminates a poll after this many NotFound results.
const MaxConsecutiveMisses = 5

// Engine bundles the bridge ledger capability plus the fungible ledger used
// to quote the withdrawal fee before submission.
type Engine struct {
	Bridge   ledger.BridgeLedger
	Fungible ledger.FungibleLedger
}

func lookup(u *domain.User, assetID, heirID uint64) (*domain.CkWithdrawRecord, error) {
	rec, ok := u.CkWithdraws[domain.PairKey(assetID, heirID)]
	if !ok {
		return nil, errs.NotFound("ck_withdraw", fmt.Sprintf("%d:%d", assetID, heirID))
	}
	return rec, nil
}

func validSession(u *domain.User, sessionID, heirID uint64) bool {
	sess, ok := u.Sessions[sessionID]
	return ok && sess.HeirID == heirID
}

// Request is the heir-initiated request_ck_withdraw: only valid when no
// request has been made yet (requested_at is unset).
func Request(u *domain.User, nowSecs uint64, sessionID, assetID, heirID uint64) error {
	if !validSession(u, sessionID, heirID) {
		return errs.HeirSessionUnauthorized("invalid session")
	}
	rec, err := lookup(u, assetID, heirID)
	if err != nil {
		return err
	}
	if rec.RequestedAt != 0 {
		return errs.Other("already_requested")
	}
	rec.RequestedAt = nowSecs
	rec.Status = domain.BridgeRequested
	return nil
}

func chainWrappedKindOf(u *domain.User, assetID uint64) domain.ChainWrappedKind {
	if a, ok := u.Assets[assetID]; ok {
		return a.ChainWrappedKind
	}
	return domain.ChainWrappedNone
}

// Submit is submit_ck_withdraw: quotes the fee if not yet quoted, then
// invokes the chain-specific submission call.
func (e *Engine) Submit(ctx context.Context, u *domain.User, nowSecs uint64, sessionID, assetID, heirID uint64, l1Address string) error {
	if !validSession(u, sessionID, heirID) {
		return errs.HeirSessionUnauthorized("invalid session")
	}
	rec, err := lookup(u, assetID, heirID)
	if err != nil {
		return err
	}
	if rec.Status != domain.BridgeRequested && rec.Status != domain.BridgeFeeQuoted {
		return errs.Other("bridge_submit_wrong_state")
	}

	if rec.QuotedFee == 0 {
		if asset := u.Assets[assetID]; asset != nil && e.Fungible != nil {
			if fee, ok, ferr := e.Fungible.Fee(ctx, asset.TokenLedger); ferr == nil && ok {
				rec.QuotedFee = fee
			}
		}
		rec.Status = domain.BridgeFeeQuoted
		auditlog.Append(u, nowSecs, domain.EventCkWithdrawSubmitted, &assetID, &heirID, map[string]interface{}{
			"stage": "fee_quoted",
			"fee":   rec.QuotedFee,
		})
	}

	var txID string
	switch chainWrappedKindOf(u, assetID) {
	case domain.ChainWrappedCkBTC:
		var blockIndex uint64
		blockIndex, err = e.Bridge.RetrieveBTC(ctx, rec.Amount, l1Address)
		txID = fmt.Sprintf("%d", blockIndex)
	case domain.ChainWrappedCkETH:
		txID, err = e.Bridge.WithdrawETH(ctx, l1Address, rec.Amount, nil)
	default:
		err = fmt.Errorf("invalid_canister: asset not chain-wrapped")
	}

	u.BridgeTxInfos[domain.PairKey(assetID, heirID)] = &domain.BridgeTxInfo{
		AssetID:     assetID,
		HeirID:      heirID,
		SubmittedAt: nowSecs,
	}

	if err != nil {
		kind, code := domain.ClassifyBridgeError(err.Error())
		rec.Status = domain.BridgeFailed
		rec.ErrorKind = code
		rec.ErrorMsg = err.Error()
		auditlog.Append(u, nowSecs, domain.EventCkWithdrawSubmitted, &assetID, &heirID, map[string]interface{}{
			"stage": "failed",
			"kind":  kind.String(),
			"error": err.Error(),
		})
		return nil
	}

	rec.TxID = txID
	rec.Status = domain.BridgeSubmitted
	auditlog.Append(u, nowSecs, domain.EventCkWithdrawSubmitted, &assetID, &heirID, map[string]interface{}{
		"stage":  "submitted",
		"tx_id":  txID,
	})
	retry.Enqueue(u, nowSecs, domain.RetryBridgePoll, assetID, heirID, nil)
	return nil
}

// Poll is poll_ck_withdraw: idempotent, tolerates the retry-context
// sentinel session id (OQ4), and advances the record to Completed,
// Reimbursed, or Failed based on the chain-specific status result.
func (e *Engine) Poll(ctx context.Context, u *domain.User, nowSecs uint64, sessionID, assetID, heirID uint64) error {
	if sessionID != RetryContextSessionID && !validSession(u, sessionID, heirID) {
		return errs.HeirSessionUnauthorized("invalid session")
	}
	rec, err := lookup(u, assetID, heirID)
	if err != nil {
		return err
	}
	if rec.Status == domain.BridgeCompleted || rec.Status == domain.BridgeReimbursed || rec.Status == domain.BridgeFailed {
		return nil
	}

	info := u.BridgeTxInfos[domain.PairKey(assetID, heirID)]
	if info == nil {
		info = &domain.BridgeTxInfo{AssetID: assetID, HeirID: heirID, SubmittedAt: nowSecs}
		u.BridgeTxInfos[domain.PairKey(assetID, heirID)] = info
	}

	var result ledger.BridgeStatusResult
	switch chainWrappedKindOf(u, assetID) {
	case domain.ChainWrappedCkBTC:
		result, err = e.Bridge.RetrieveBTCStatus(ctx, rec.TxID)
	case domain.ChainWrappedCkETH:
		result, err = e.Bridge.RetrieveETHStatus(ctx, rec.TxID)
	default:
		err = fmt.Errorf("invalid_canister")
	}
	if err != nil {
		rec.Status = domain.BridgeFailed
		rec.ErrorMsg = err.Error()
		return nil
	}

	rec.Status = domain.BridgeInProgress

	switch {
	case result.NotFound:
		info.ConsecutiveMisses++
		if info.ConsecutiveMisses >= MaxConsecutiveMisses {
			info.NotFoundTerminal = true
			rec.Status = domain.BridgeFailed
			rec.ErrorKind = "not_found_terminal"
			auditlog.Append(u, nowSecs, domain.EventBridgePollNotFoundTerminal, &assetID, &heirID, nil)
			return nil
		}
	case result.Reimbursed:
		rec.Status = domain.BridgeReimbursed
		rec.ErrorKind = "reimbursed"
		return nil
	case result.Completed:
		info.ConsecutiveMisses = 0
		rec.Status = domain.BridgeCompleted
		rec.TxHash = result.TxHash
		rec.EffectiveFee = result.EffectiveFee
		rec.CompletedAt = nowSecs
		auditlog.Append(u, nowSecs, domain.EventCkWithdrawCompleted, &assetID, &heirID, map[string]interface{}{
			"tx_hash": result.TxHash,
		})
		return nil
	default: // Pending/TxCreated/TxSent/PendingReimbursement-shaped "keep"
		info.ConsecutiveMisses = 0
		if result.FailureReason != "" {
			kind, code := domain.ClassifyEthTemporarilyUnavailable(result.FailureReason)
			if kind == domain.BridgeErrKindTimeout {
				rec.Status = domain.BridgeFailed
				rec.ErrorKind = code
				rec.ErrorMsg = result.FailureReason
				return nil
			}
		}
	}

	retry.Enqueue(u, nowSecs, domain.RetryBridgePoll, assetID, heirID, nil)
	return nil
}
