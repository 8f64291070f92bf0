package estate

import (
	"testing"

	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyUser() *domain.User {
	u := domain.NewUser("owner-1")
	u.Heirs[10] = &domain.Heir{ID: 10, Principal: "heir-principal"}
	u.Assets[1] = &domain.Asset{ID: 1, Kind: domain.AssetFungible, Decimals: 8, Value: 1000}
	u.SetDistributionShare(1, 10, 100, domain.PreferenceToPrincipal)
	return u
}

func TestAdvancePhaseArmsTimerOnFirstDistribution(t *testing.T) {
	u := domain.NewUser("owner-1")
	tun := DefaultTunables()
	AdvancePhase(u, 1000, tun)
	assert.Equal(t, uint64(0), u.TimerExpiry) // no distributions yet

	u.SetDistributionShare(1, 2, 100, domain.PreferenceToPrincipal)
	AdvancePhase(u, 1000, tun)
	assert.Equal(t, uint64(1000+tun.InactivityPeriodSecs), u.TimerExpiry)
}

func TestAdvancePhaseDraftToWarningWithinWindow(t *testing.T) {
	u := domain.NewUser("owner-1")
	tun := Tunables{InactivityPeriodSecs: 1000, WarningWindowSecs: 200}
	u.SetDistributionShare(1, 2, 100, domain.PreferenceToPrincipal)

	AdvancePhase(u, 0, tun) // arms timer to expire at 1000
	assert.Equal(t, domain.PhaseDraft, u.Phase)

	AdvancePhase(u, 850, tun) // 1000-850=150 <= 200 window
	assert.Equal(t, domain.PhaseWarning, u.Phase)
	assert.Equal(t, uint64(850), u.WarningStartedAt)
}

func TestAdvancePhaseWarningToLockedAtExpiry(t *testing.T) {
	u := domain.NewUser("owner-1")
	tun := Tunables{InactivityPeriodSecs: 1000, WarningWindowSecs: 200}
	u.SetDistributionShare(1, 2, 100, domain.PreferenceToPrincipal)
	AdvancePhase(u, 0, tun)
	AdvancePhase(u, 850, tun)
	require.Equal(t, domain.PhaseWarning, u.Phase)

	AdvancePhase(u, 999, tun)
	assert.Equal(t, domain.PhaseWarning, u.Phase)

	AdvancePhase(u, 1000, tun)
	assert.Equal(t, domain.PhaseLocked, u.Phase)
	assert.Equal(t, uint64(1000), u.LockedAt)
}

func TestRequireMutableRejectsLockedAndExecuted(t *testing.T) {
	u := domain.NewUser("owner-1")
	assert.NoError(t, RequireMutable(u))

	u.Phase = domain.PhaseLocked
	assert.Error(t, RequireMutable(u))

	u.Phase = domain.PhaseExecuted
	assert.Error(t, RequireMutable(u))
}

func TestStartWarningOnlyFromDraft(t *testing.T) {
	u := domain.NewUser("owner-1")
	require.NoError(t, StartWarning(u, 100))
	assert.Equal(t, domain.PhaseWarning, u.Phase)

	assert.Error(t, StartWarning(u, 200)) // already warning, not draft
}

func TestLockEstateRequiresReadiness(t *testing.T) {
	u := domain.NewUser("owner-1")
	u.SetDistributionShare(1, 10, 60, domain.PreferenceToPrincipal) // references missing heir & <100%

	err := LockEstate(u, 100)
	assert.Error(t, err)
	assert.Equal(t, domain.PhaseDraft, u.Phase)
}

func TestLockEstateSucceedsWhenReady(t *testing.T) {
	u := readyUser()
	require.NoError(t, LockEstate(u, 100))
	assert.Equal(t, domain.PhaseLocked, u.Phase)
	assert.Equal(t, uint64(100), u.LockedAt)
}

func TestLockEstateRejectsAlreadyLocked(t *testing.T) {
	u := readyUser()
	require.NoError(t, LockEstate(u, 100))
	assert.Error(t, LockEstate(u, 200))
}

func TestReadinessIsCachedWithinTTL(t *testing.T) {
	u := readyUser()
	first := Readiness(u, 100, false)
	assert.True(t, first.Ready)

	// Mutate state after caching; without force, the cache should still
	// be returned within the TTL window.
	u.Heirs[10].Principal = ""
	cached := Readiness(u, 100+ReadinessCacheTTLSecs-1, false)
	assert.Same(t, first, cached)

	fresh := Readiness(u, 100+ReadinessCacheTTLSecs+1, false)
	assert.NotSame(t, first, fresh)
}

func TestReadinessForceBypassesCache(t *testing.T) {
	u := readyUser()
	first := Readiness(u, 100, false)
	require.True(t, first.Ready)

	u.RemoveDistributionShare(1, 10)
	forced := Readiness(u, 105, true)
	assert.NotSame(t, first, forced)
}

func TestReadinessFlagsMissingHeirAndBadPercentageTotal(t *testing.T) {
	u := domain.NewUser("owner-1")
	u.Assets[1] = &domain.Asset{ID: 1, Kind: domain.AssetFungible, Decimals: 8}
	u.SetDistributionShare(1, 999, 60, domain.PreferenceToPrincipal)

	report := Readiness(u, 100, true)
	assert.False(t, report.Ready)
	assert.NotEmpty(t, report.Issues)
}

func TestCheckIntegrityInvariant3PercentageTotals(t *testing.T) {
	u := domain.NewUser("owner-1")
	u.SetDistributionShare(1, 10, 60, domain.PreferenceToPrincipal)
	u.SetDistributionShare(1, 20, 30, domain.PreferenceToPrincipal)

	report := CheckIntegrity(u, 100)
	assert.False(t, report.Sound)
	assert.NotEmpty(t, report.Violations)
}

func TestCheckIntegrityInvariant6VerifiedSecretMustHaveZeroAttempts(t *testing.T) {
	u := domain.NewUser("owner-1")
	u.Heirs[1] = &domain.Heir{ID: 1, Secret: domain.IdentitySecret{Status: domain.SecretVerified, Attempts: 3}}

	report := CheckIntegrity(u, 100)
	assert.False(t, report.Sound)
}

func TestCheckIntegrityInvariant8EscrowMustCoverPayout(t *testing.T) {
	u := domain.NewUser("owner-1")
	u.Assets[1] = &domain.Asset{ID: 1, Kind: domain.AssetFungible, Value: 1000, Decimals: 8, HoldingMode: domain.HoldingEscrow}
	u.Heirs[10] = &domain.Heir{ID: 10}
	u.SetDistributionShare(1, 10, 100, domain.PreferenceToCustody)
	u.EscrowRecords[1] = &domain.EscrowRecord{AssetID: 1, Remaining: 500}

	report := CheckIntegrity(u, 100)
	assert.False(t, report.Sound)

	u.EscrowRecords[1].Remaining = 1000
	report = CheckIntegrity(u, 100)
	assert.True(t, report.Sound)
}

func TestCheckIntegrityInvariant9SubaccountsMustBeInjective(t *testing.T) {
	u := domain.NewUser("owner-1")
	shared := []byte("same-subaccount-bytes")
	u.CustodySubaccounts[1] = &domain.CustodySubaccount{HeirID: 1, Subaccount: shared}
	u.CustodySubaccounts[2] = &domain.CustodySubaccount{HeirID: 2, Subaccount: shared}

	report := CheckIntegrity(u, 100)
	assert.False(t, report.Sound)
}

func TestCheckIntegritySoundOnFreshUser(t *testing.T) {
	u := domain.NewUser("owner-1")
	report := CheckIntegrity(u, 100)
	assert.True(t, report.Sound)
	assert.Empty(t, report.Violations)
}
