package bridge

import (
	"context"
	"testing"

	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/ledger"
	"github.com/civkeep/estateguardian/internal/ledger/ledgerfake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bridgeUser() *domain.User {
	u := domain.NewUser("owner-1")
	u.Heirs[10] = &domain.Heir{ID: 10, Principal: "heir-principal"}
	u.Sessions[1] = &domain.Session{ID: 1, HeirID: 10, ExpiresAt: 999999999}
	u.Assets[1] = &domain.Asset{ID: 1, Kind: domain.AssetFungible, TokenLedger: "ckbtc-canister", ChainWrappedKind: domain.ChainWrappedCkBTC}
	u.CkWithdraws[domain.PairKey(1, 10)] = &domain.CkWithdrawRecord{AssetID: 1, HeirID: 10, Amount: 5000}
	return u
}

func engine() (*Engine, *ledgerfake.Bridge, *ledgerfake.Fungible) {
	b := ledgerfake.NewBridge()
	f := ledgerfake.NewFungible()
	return &Engine{Bridge: b, Fungible: f}, b, f
}

func TestRequestRejectsInvalidSession(t *testing.T) {
	u := bridgeUser()
	err := Request(u, 100, 999, 1, 10)
	assert.Error(t, err)
}

func TestRequestSucceedsOnce(t *testing.T) {
	u := bridgeUser()
	require.NoError(t, Request(u, 100, 1, 1, 10))
	rec := u.CkWithdraws[domain.PairKey(1, 10)]
	assert.Equal(t, domain.BridgeRequested, rec.Status)
	assert.Equal(t, uint64(100), rec.RequestedAt)

	err := Request(u, 200, 1, 1, 10)
	assert.Error(t, err) // already requested
}

func TestSubmitQuotesFeeThenDispatchesCkBTC(t *testing.T) {
	eng, _, _ := engine()
	u := bridgeUser()
	rec := u.CkWithdraws[domain.PairKey(1, 10)]
	rec.Status = domain.BridgeRequested

	err := eng.Submit(context.Background(), u, 100, 1, 1, 10, "bc1l1address")
	require.NoError(t, err)
	assert.Equal(t, domain.BridgeSubmitted, rec.Status)
	assert.NotEmpty(t, rec.TxID)

	require.Len(t, u.RetryQueue, 1)
	assert.Equal(t, domain.RetryBridgePoll, u.RetryQueue[0].Kind)
}

func TestSubmitRejectsWrongState(t *testing.T) {
	eng, _, _ := engine()
	u := bridgeUser()
	u.CkWithdraws[domain.PairKey(1, 10)].Status = domain.BridgeCompleted

	err := eng.Submit(context.Background(), u, 100, 1, 1, 10, "addr")
	assert.Error(t, err)
}

func TestSubmitClassifiesBridgeCallFailure(t *testing.T) {
	eng, b, _ := engine()
	u := bridgeUser()
	u.CkWithdraws[domain.PairKey(1, 10)].Status = domain.BridgeRequested
	b.FailNext = assertionError{"temporarily_unavailable"}

	err := eng.Submit(context.Background(), u, 100, 1, 1, 10, "addr")
	require.NoError(t, err) // Submit reports failure via record state, not error
	rec := u.CkWithdraws[domain.PairKey(1, 10)]
	assert.Equal(t, domain.BridgeFailed, rec.Status)
	assert.NotEmpty(t, rec.ErrorMsg)
}

func TestSubmitDispatchesCkETH(t *testing.T) {
	eng, _, _ := engine()
	u := bridgeUser()
	u.Assets[1].ChainWrappedKind = domain.ChainWrappedCkETH
	u.CkWithdraws[domain.PairKey(1, 10)].Status = domain.BridgeRequested

	err := eng.Submit(context.Background(), u, 100, 1, 1, 10, "0xaddr")
	require.NoError(t, err)
	rec := u.CkWithdraws[domain.PairKey(1, 10)]
	assert.Equal(t, domain.BridgeSubmitted, rec.Status)
}

func TestPollIsIdempotentOnTerminalStatus(t *testing.T) {
	eng, _, _ := engine()
	u := bridgeUser()
	u.CkWithdraws[domain.PairKey(1, 10)].Status = domain.BridgeCompleted

	err := eng.Poll(context.Background(), u, 100, 1, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, u.RetryQueue)
}

func TestPollAllowsRetryContextSentinelSession(t *testing.T) {
	eng, b, _ := engine()
	u := bridgeUser()
	rec := u.CkWithdraws[domain.PairKey(1, 10)]
	rec.Status = domain.BridgeSubmitted
	rec.TxID = "tx-1"
	b.SetStatus("tx-1", ledger.BridgeStatusResult{Completed: true, TxHash: "0xhash"})

	err := eng.Poll(context.Background(), u, 100, RetryContextSessionID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.BridgeCompleted, rec.Status)
}

func TestPollRejectsInvalidLiveSession(t *testing.T) {
	eng, _, _ := engine()
	u := bridgeUser()
	u.CkWithdraws[domain.PairKey(1, 10)].Status = domain.BridgeSubmitted

	err := eng.Poll(context.Background(), u, 100, 999, 1, 10)
	assert.Error(t, err)
}

func TestPollCompletedTransitionsAndRecordsTxHash(t *testing.T) {
	eng, b, _ := engine()
	u := bridgeUser()
	rec := u.CkWithdraws[domain.PairKey(1, 10)]
	rec.Status = domain.BridgeSubmitted
	rec.TxID = "tx-1"
	b.SetStatus("tx-1", ledger.BridgeStatusResult{Completed: true, TxHash: "0xabc", EffectiveFee: 10})

	require.NoError(t, eng.Poll(context.Background(), u, 100, 1, 1, 10))
	assert.Equal(t, domain.BridgeCompleted, rec.Status)
	assert.Equal(t, "0xabc", rec.TxHash)
	assert.Equal(t, uint64(10), rec.EffectiveFee)
	assert.Equal(t, uint64(100), rec.CompletedAt)
}

func TestPollReimbursedSetsStatus(t *testing.T) {
	eng, b, _ := engine()
	u := bridgeUser()
	rec := u.CkWithdraws[domain.PairKey(1, 10)]
	rec.Status = domain.BridgeSubmitted
	rec.TxID = "tx-1"
	b.SetStatus("tx-1", ledger.BridgeStatusResult{Reimbursed: true})

	require.NoError(t, eng.Poll(context.Background(), u, 100, 1, 1, 10))
	assert.Equal(t, domain.BridgeReimbursed, rec.Status)
}

func TestPollPendingReenqueuesRetry(t *testing.T) {
	eng, b, _ := engine()
	u := bridgeUser()
	rec := u.CkWithdraws[domain.PairKey(1, 10)]
	rec.Status = domain.BridgeSubmitted
	rec.TxID = "tx-1"
	b.SetStatus("tx-1", ledger.BridgeStatusResult{Pending: true})

	require.NoError(t, eng.Poll(context.Background(), u, 100, 1, 1, 10))
	assert.Equal(t, domain.BridgeInProgress, rec.Status)
	require.Len(t, u.RetryQueue, 1)
}

func TestPollNotFoundTerminatesAfterMaxConsecutiveMisses(t *testing.T) {
	eng, b, _ := engine()
	u := bridgeUser()
	rec := u.CkWithdraws[domain.PairKey(1, 10)]
	rec.Status = domain.BridgeSubmitted
	rec.TxID = "tx-unknown"
	// Bridge fake returns NotFound for any txID with no seeded status.
	_ = b

	for i := 0; i < MaxConsecutiveMisses-1; i++ {
		require.NoError(t, eng.Poll(context.Background(), u, uint64(100+i), RetryContextSessionID, 1, 10))
		assert.NotEqual(t, domain.BridgeFailed, rec.Status)
	}
	require.NoError(t, eng.Poll(context.Background(), u, 200, RetryContextSessionID, 1, 10))
	assert.Equal(t, domain.BridgeFailed, rec.Status)
	assert.Equal(t, "not_found_terminal", rec.ErrorKind)
}

// assertionError is a minimal error type usable as ledgerfake.Bridge.FailNext.
type assertionError struct{ msg string }

func (e assertionError) Error() string { return e.msg }
