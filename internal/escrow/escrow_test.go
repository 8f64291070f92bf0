package escrow

import (
	"context"
	"testing"

	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/ledger"
	"github.com/civkeep/estateguardian/internal/ledger/ledgerfake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func engine() (*Engine, *ledgerfake.Fungible) {
	f := ledgerfake.NewFungible()
	return &Engine{Fungible: f, MasterKey: testMasterKey()}, f
}

func escrowUser() *domain.User {
	u := domain.NewUser("owner-1")
	u.Assets[1] = &domain.Asset{ID: 1, Kind: domain.AssetFungible, TokenLedger: "ledger-canister", Decimals: 8}
	u.Heirs[10] = &domain.Heir{ID: 10, Principal: "heir-principal"}
	return u
}

func TestDepositRecordsEscrowAndMovesFunds(t *testing.T) {
	eng, f := engine()
	u := escrowUser()
	f.SetAllowance("ledger-canister", "owner-1", "self", 1000)

	require.NoError(t, Deposit(context.Background(), u, eng, 100, 1, 1000))

	rec := u.EscrowRecords[1]
	require.NotNil(t, rec)
	assert.Equal(t, uint64(1000), rec.Remaining)
	assert.Equal(t, uint64(100), rec.DepositedAt)
	assert.NotEmpty(t, rec.Subaccount)
}

func TestDepositReplacesExistingEntry(t *testing.T) {
	eng, f := engine()
	u := escrowUser()
	f.SetAllowance("ledger-canister", "owner-1", "self", 2000)

	require.NoError(t, Deposit(context.Background(), u, eng, 100, 1, 500))
	require.NoError(t, Deposit(context.Background(), u, eng, 200, 1, 700))

	rec := u.EscrowRecords[1]
	assert.Equal(t, uint64(700), rec.Remaining)
	assert.Equal(t, uint64(200), rec.DepositedAt)
}

func TestDepositRejectsWhenEstateNotMutable(t *testing.T) {
	eng, _ := engine()
	u := escrowUser()
	u.Phase = domain.PhaseLocked

	err := Deposit(context.Background(), u, eng, 100, 1, 500)
	assert.Error(t, err)
}

func TestDepositRejectsUnknownAsset(t *testing.T) {
	eng, _ := engine()
	u := domain.NewUser("owner-1")
	err := Deposit(context.Background(), u, eng, 100, 999, 500)
	assert.Error(t, err)
}

func TestWithdrawICRC1RejectsWhenNoEscrowRecord(t *testing.T) {
	eng, _ := engine()
	u := escrowUser()
	err := WithdrawICRC1(context.Background(), u, eng, 100, 1, nil)
	assert.Error(t, err)
}

func TestWithdrawICRC1FullAmountRemovesEntry(t *testing.T) {
	eng, f := engine()
	u := escrowUser()
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1, Remaining: 500, Subaccount: []byte("sub")}
	f.Credit("ledger-canister", ledger.Account{Subaccount: []byte("sub")}, 500)

	require.NoError(t, WithdrawICRC1(context.Background(), u, eng, 100, 1, nil))
	_, ok := u.EscrowRecords[1]
	assert.False(t, ok)
}

func TestWithdrawICRC1BoundedByRemaining(t *testing.T) {
	eng, f := engine()
	u := escrowUser()
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1, Remaining: 500, Subaccount: []byte("sub")}
	f.Credit("ledger-canister", ledger.Account{Subaccount: []byte("sub")}, 500)

	big := uint64(9999)
	require.NoError(t, WithdrawICRC1(context.Background(), u, eng, 100, 1, &big))
	_, ok := u.EscrowRecords[1]
	assert.False(t, ok) // withdrew all 500 remaining despite asking for more
}

func TestWithdrawICRC1ZeroAmountIsNoOp(t *testing.T) {
	eng, _ := engine()
	u := escrowUser()
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1, Remaining: 500, Subaccount: []byte("sub")}

	zero := uint64(0)
	require.NoError(t, WithdrawICRC1(context.Background(), u, eng, 100, 1, &zero))
	assert.Equal(t, uint64(500), u.EscrowRecords[1].Remaining)
}

func TestWithdrawICRC1PartialAmountDecrementsRemaining(t *testing.T) {
	eng, f := engine()
	u := escrowUser()
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1, Remaining: 500, Subaccount: []byte("sub")}
	f.Credit("ledger-canister", ledger.Account{Subaccount: []byte("sub")}, 500)

	want := uint64(200)
	require.NoError(t, WithdrawICRC1(context.Background(), u, eng, 100, 1, &want))
	assert.Equal(t, uint64(300), u.EscrowRecords[1].Remaining)
}

func TestSetApprovalAndRevokeApproval(t *testing.T) {
	eng, f := engine()
	u := escrowUser()

	require.NoError(t, SetApproval(context.Background(), u, eng, 100, 1, 5000, true))
	rec := u.ApprovalRecords[1]
	require.NotNil(t, rec)
	assert.Equal(t, uint64(5000), rec.Allowance)

	allowance, err := f.Allowance(context.Background(), "ledger-canister", "owner-1", "self")
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), allowance)

	require.NoError(t, RevokeApproval(u, 1))
	_, ok := u.ApprovalRecords[1]
	assert.False(t, ok)
}

func TestSetApprovalRejectsWhenLocked(t *testing.T) {
	eng, _ := engine()
	u := escrowUser()
	u.Phase = domain.PhaseLocked
	err := SetApproval(context.Background(), u, eng, 100, 1, 5000, false)
	assert.Error(t, err)
}

func TestAttemptReleaseComputesShareAndDecrementsRemaining(t *testing.T) {
	eng, f := engine()
	u := escrowUser()
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1, Remaining: 1000, Subaccount: []byte("sub")}
	u.SetDistributionShare(1, 10, 40, domain.PreferenceToPrincipal)
	f.Credit("ledger-canister", ledger.Account{Subaccount: []byte("sub")}, 1000)

	require.NoError(t, AttemptRelease(context.Background(), u, eng, 100, 1, 10))
	assert.Equal(t, uint64(600), u.EscrowRecords[1].Remaining) // 1000 - 40%
}

func TestAttemptReleaseZeroAmountSkipsDispatch(t *testing.T) {
	eng, _ := engine()
	u := escrowUser()
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1, Remaining: 0, Subaccount: []byte("sub")}
	u.SetDistributionShare(1, 10, 40, domain.PreferenceToPrincipal)

	require.NoError(t, AttemptRelease(context.Background(), u, eng, 100, 1, 10))
}

func TestAttemptReleaseAppendsAuditEventOnFailure(t *testing.T) {
	eng, f := engine()
	u := escrowUser()
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1, Remaining: 1000, Subaccount: []byte("sub")}
	u.SetDistributionShare(1, 10, 40, domain.PreferenceToPrincipal)
	f.FailNext = ledger.ErrInsufficientFunds

	err := AttemptRelease(context.Background(), u, eng, 100, 1, 10)
	assert.Error(t, err)
	assert.Equal(t, uint64(1000), u.EscrowRecords[1].Remaining) // unchanged

	found := false
	for _, ev := range u.AuditLog {
		if ev.Kind == domain.EventEscrowReleaseFailed {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAttemptReleaseRejectsMissingDistributionShare(t *testing.T) {
	eng, _ := engine()
	u := escrowUser()
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1, Remaining: 1000, Subaccount: []byte("sub")}

	err := AttemptRelease(context.Background(), u, eng, 100, 1, 10)
	assert.Error(t, err)
}
