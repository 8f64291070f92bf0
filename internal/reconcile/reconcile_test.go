package reconcile

import (
	"context"
	"testing"

	"github.com/civkeep/estateguardian/internal/auditlog"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/ledger"
	"github.com/civkeep/estateguardian/internal/ledger/ledgerfake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconUser() *domain.User {
	u := domain.NewUser("owner-1")
	u.Heirs[10] = &domain.Heir{ID: 10}
	u.Assets[1] = &domain.Asset{ID: 1, Kind: domain.AssetFungible, TokenLedger: "ledger-canister"}
	return u
}

func TestClassifyDelta(t *testing.T) {
	assert.Equal(t, domain.ReconExact, classify(0))
	assert.Equal(t, domain.ReconShortfall, classify(-5))
	assert.Equal(t, domain.ReconSurplus, classify(5))
}

func TestReconcileCustodyExactMatch(t *testing.T) {
	f := ledgerfake.NewFungible()
	e := &Engine{Fungible: f}
	u := reconUser()
	u.FungibleCustody[domain.PairKey(1, 10)] = &domain.FungibleCustodyRecord{
		AssetID: 1, HeirID: 10, Release: domain.ReleasableRecord{Amount: 500},
	}
	f.Credit("ledger-canister", ledger.Account{}, 500)

	e.ReconcileCustody(context.Background(), u, 100)

	entry := u.Reconciliation[domain.PairKey(1, 10)]
	require.NotNil(t, entry)
	assert.Equal(t, domain.ReconExact, entry.Status)
	assert.Equal(t, int64(0), entry.Delta)
}

func TestReconcileCustodyShortfallRecordsDiscrepancyEvent(t *testing.T) {
	f := ledgerfake.NewFungible()
	e := &Engine{Fungible: f}
	u := reconUser()
	u.FungibleCustody[domain.PairKey(1, 10)] = &domain.FungibleCustodyRecord{
		AssetID: 1, HeirID: 10, Release: domain.ReleasableRecord{Amount: 500},
	}
	// No balance credited: on-chain is 0, logical is 500 -> shortfall.

	e.ReconcileCustody(context.Background(), u, 100)

	entry := u.Reconciliation[domain.PairKey(1, 10)]
	require.NotNil(t, entry)
	assert.Equal(t, domain.ReconShortfall, entry.Status)
	assert.Equal(t, int64(-500), entry.Delta)

	found := false
	for _, ev := range u.AuditLog {
		if ev.Kind == domain.EventCustodyReconciliationDiscrepancy {
			found = true
		}
	}
	assert.True(t, found)
}

func TestReconcileCustodySkipsReleasedRecords(t *testing.T) {
	f := ledgerfake.NewFungible()
	e := &Engine{Fungible: f}
	u := reconUser()
	u.FungibleCustody[domain.PairKey(1, 10)] = &domain.FungibleCustodyRecord{
		AssetID: 1, HeirID: 10, Release: domain.ReleasableRecord{Amount: 500, ReleasedAt: 50},
	}

	e.ReconcileCustody(context.Background(), u, 100)
	assert.Empty(t, u.Reconciliation)
}

func TestReconcileEscrowSurplus(t *testing.T) {
	f := ledgerfake.NewFungible()
	e := &Engine{Fungible: f}
	u := reconUser()
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1, Remaining: 300, Subaccount: []byte("sub")}
	f.Credit("ledger-canister", ledger.Account{Subaccount: []byte("sub")}, 400)

	e.ReconcileEscrow(context.Background(), u, 100)

	entry := u.Reconciliation[domain.AssetKey(1)]
	require.NotNil(t, entry)
	assert.Equal(t, domain.ReconSurplus, entry.Status)
	assert.Equal(t, int64(100), entry.Delta)
	assert.Nil(t, entry.HeirID)
}

func TestNeedsReconciliationDefaultsToFalseWithoutActiveRecords(t *testing.T) {
	u := domain.NewUser("owner-1")
	assert.False(t, NeedsReconciliation(u, 100))
}

func TestNeedsReconciliationTrueWithActiveRecordsAndNoPriorCheck(t *testing.T) {
	u := domain.NewUser("owner-1")
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1}
	assert.True(t, NeedsReconciliation(u, 100))
}

func TestNeedsReconciliationRespectsIntervalAfterPriorCheck(t *testing.T) {
	u := domain.NewUser("owner-1")
	assetID := uint64(1)
	auditlog.Append(u, 1000, domain.EventEscrowReconciliationDiscrepancy, &assetID, nil, nil)

	assert.False(t, NeedsReconciliation(u, 1000+IntervalSecs-1))
	assert.True(t, NeedsReconciliation(u, 1000+IntervalSecs))
}

func TestAutoManageIgnoresCustodyEntries(t *testing.T) {
	u := domain.NewUser("owner-1")
	heirID := uint64(10)
	u.Reconciliation[domain.PairKey(1, 10)] = &domain.ReconciliationEntry{
		AssetID: 1, HeirID: &heirID, Status: domain.ReconShortfall, Delta: -100,
	}
	AutoManage(u, 100)
	assert.Empty(t, u.AuditLog)
}

func TestAutoManageTopsUpBelowThresholdIsSkipped(t *testing.T) {
	u := domain.NewUser("owner-1")
	u.Reconciliation[domain.AssetKey(1)] = &domain.ReconciliationEntry{
		AssetID: 1, Status: domain.ReconShortfall, Delta: 0,
	}
	AutoManage(u, 100)
	assert.Empty(t, u.AuditLog)
}

func TestAutoManageTopsUpAndEnqueuesRetriesCappedAtFanout(t *testing.T) {
	u := domain.NewUser("owner-1")
	u.Reconciliation[domain.AssetKey(1)] = &domain.ReconciliationEntry{
		AssetID: 1, Status: domain.ReconShortfall, Delta: -100,
	}
	for i := uint64(0); i < 15; i++ {
		u.SetDistributionShare(1, i+1, 1, domain.PreferenceToPrincipal)
	}

	AutoManage(u, 100)

	found := false
	for _, ev := range u.AuditLog {
		if ev.Kind == domain.EventEscrowAutoTopUp {
			found = true
		}
	}
	assert.True(t, found)
	assert.Len(t, u.RetryQueue, maxTopUpFanout)
}

func TestAutoManageRespectsCooldown(t *testing.T) {
	u := domain.NewUser("owner-1")
	assetID := uint64(1)
	u.Reconciliation[domain.AssetKey(1)] = &domain.ReconciliationEntry{
		AssetID: 1, Status: domain.ReconShortfall, Delta: -100,
	}
	auditlog.Append(u, 100, domain.EventEscrowAutoTopUp, &assetID, nil, nil)

	AutoManage(u, 100+AutoActionCooldownSecs-1)

	count := 0
	for _, ev := range u.AuditLog {
		if ev.Kind == domain.EventEscrowAutoTopUp {
			count++
		}
	}
	assert.Equal(t, 1, count) // no second top-up fired within cooldown
}

func TestAutoManageReclaimsSurplus(t *testing.T) {
	u := domain.NewUser("owner-1")
	u.Reconciliation[domain.AssetKey(1)] = &domain.ReconciliationEntry{
		AssetID: 1, Status: domain.ReconSurplus, Delta: 100,
	}

	AutoManage(u, 100)

	found := false
	for _, ev := range u.AuditLog {
		if ev.Kind == domain.EventEscrowAutoReclaim {
			found = true
		}
	}
	assert.True(t, found)
}
