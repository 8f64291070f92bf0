package claim

import (
	"testing"

	"github.com/civkeep/estateguardian/internal/cryptoutil"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/rng"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSource(t *testing.T) *rng.Source {
	t.Helper()
	s, err := rng.NewSource()
	require.NoError(t, err)
	return s
}

func userWithHeir(heirID uint64) *domain.User {
	u := domain.NewUser("owner-1")
	u.Heirs[heirID] = &domain.Heir{ID: heirID, Contact: "heir@example.com"}
	return u
}

func TestCreateLinkAndBeginClaimRoundTrip(t *testing.T) {
	u := userWithHeir(1)
	src := newSource(t)

	linkID, code, err := CreateLink(u, src, 1)
	require.NoError(t, err)
	require.Len(t, code, claimCodeDigits)

	sessionID, err := BeginClaim(u, 100, linkID, code)
	require.NoError(t, err)
	assert.NotZero(t, sessionID)

	sess := u.Sessions[sessionID]
	require.NotNil(t, sess)
	assert.Equal(t, uint64(1), sess.HeirID)
	assert.Equal(t, uint64(100+sessionTTLSecs), sess.ExpiresAt)
}

func TestCreateLinkRejectsUnknownHeir(t *testing.T) {
	u := domain.NewUser("owner-1")
	src := newSource(t)
	_, _, err := CreateLink(u, src, 999)
	assert.Error(t, err)
}

func TestBeginClaimRejectsWrongCode(t *testing.T) {
	u := userWithHeir(1)
	src := newSource(t)
	linkID, _, err := CreateLink(u, src, 1)
	require.NoError(t, err)

	_, err = BeginClaim(u, 100, linkID, "000000")
	assert.Error(t, err)
}

func TestBeginClaimIsSingleUse(t *testing.T) {
	u := userWithHeir(1)
	src := newSource(t)
	linkID, code, err := CreateLink(u, src, 1)
	require.NoError(t, err)

	_, err = BeginClaim(u, 100, linkID, code)
	require.NoError(t, err)

	_, err = BeginClaim(u, 200, linkID, code)
	assert.Error(t, err)
}

func TestVerifySecretSessionThrottlesRepeatedFailures(t *testing.T) {
	u := userWithHeir(1)
	hash, salt, err := cryptoutil.HashSecretWithSalt("correct-secret")
	require.NoError(t, err)
	u.Heirs[1].Secret = domain.IdentitySecret{Hash: hash, Salt: salt}
	u.Sessions[1] = &domain.Session{ID: 1, HeirID: 1, ExpiresAt: 999999}

	now := uint64(1000)
	err = VerifySecretSession(u, now, 1, "wrong-1")
	assert.Error(t, err) // attempts=1, no backoff, mismatch error

	err = VerifySecretSession(u, now, 1, "wrong-2")
	require.Error(t, err) // attempts=2 -> backoff scheduled, but this attempt still runs
	assert.NotEqual(t, uint64(0), u.Heirs[1].Secret.NextAllowedAttempt)

	// A third attempt before the backoff window elapses is throttled before
	// even comparing the secret.
	err = VerifySecretSession(u, now+1, 1, "correct-secret")
	assert.Error(t, err)
}

func TestVerifySecretSessionSucceedsAndResetsAttempts(t *testing.T) {
	u := userWithHeir(1)
	hash, salt, err := cryptoutil.HashSecretWithSalt("correct-secret")
	require.NoError(t, err)
	u.Heirs[1].Secret = domain.IdentitySecret{Hash: hash, Salt: salt}
	u.Sessions[1] = &domain.Session{ID: 1, HeirID: 1, ExpiresAt: 999999}

	err = VerifySecretSession(u, 1000, 1, "correct-secret")
	require.NoError(t, err)
	assert.Equal(t, domain.SecretVerified, u.Heirs[1].Secret.Status)
	assert.Equal(t, 0, u.Heirs[1].Secret.Attempts)
	assert.True(t, u.Sessions[1].VerifiedSecret)
}

func TestVerifySecretSessionResetsCounterAfterWindowElapses(t *testing.T) {
	u := userWithHeir(1)
	hash, salt, err := cryptoutil.HashSecretWithSalt("correct-secret")
	require.NoError(t, err)
	u.Heirs[1].Secret = domain.IdentitySecret{Hash: hash, Salt: salt}
	u.Sessions[1] = &domain.Session{ID: 1, HeirID: 1, ExpiresAt: 999999999}

	_ = VerifySecretSession(u, 1000, 1, "wrong")
	assert.Equal(t, 1, u.Heirs[1].Secret.Attempts)

	// Far beyond secretWindowSecs with no active backoff: attempt counter
	// resets to zero before this attempt is recorded.
	_ = VerifySecretSession(u, 1000+secretWindowSecs+1, 1, "wrong")
	assert.Equal(t, 1, u.Heirs[1].Secret.Attempts)
}

func TestComputeSecretBackoffBoundaries(t *testing.T) {
	assert.Equal(t, uint64(0), computeSecretBackoff(0))
	assert.Equal(t, uint64(0), computeSecretBackoff(1))
	assert.Equal(t, uint64(30), computeSecretBackoff(2))
	assert.Equal(t, uint64(60), computeSecretBackoff(3))
	assert.Equal(t, uint64(secretBackoffCap), computeSecretBackoff(20))
}

func TestSessionForRejectsExpiredSession(t *testing.T) {
	u := userWithHeir(1)
	u.Sessions[1] = &domain.Session{ID: 1, HeirID: 1, ExpiresAt: 100}
	_, err := sessionFor(u, 101, 1)
	assert.Error(t, err)
}

func TestVerifyIdentitySessionRequiresConfiguredClaim(t *testing.T) {
	u := userWithHeir(1)
	u.Sessions[1] = &domain.Session{ID: 1, HeirID: 1, ExpiresAt: 999999}

	err := VerifyIdentitySession(u, 100, 1, "anything")
	assert.Error(t, err)

	hash, salt, err := cryptoutil.HashSecretWithSalt("mothers-maiden-name")
	require.NoError(t, err)
	u.Heirs[1].IdentityClaimHash = hash
	u.Heirs[1].IdentityClaimSalt = salt

	err = VerifyIdentitySession(u, 100, 1, "mothers-maiden-name")
	require.NoError(t, err)
	assert.True(t, u.Sessions[1].VerifiedIdentity)
}

func TestBindPrincipalRequiresVerifiedSecretAndSweepsCustody(t *testing.T) {
	u := userWithHeir(1)
	u.Sessions[1] = &domain.Session{ID: 1, HeirID: 1, ExpiresAt: 999999}
	u.FungibleCustody[domain.PairKey(5, 1)] = &domain.FungibleCustodyRecord{AssetID: 5, HeirID: 1}

	err := BindPrincipal(u, 100, 1, "new-principal")
	assert.Error(t, err) // secret not verified yet

	u.Sessions[1].VerifiedSecret = true
	err = BindPrincipal(u, 100, 1, "new-principal")
	require.NoError(t, err)
	assert.Equal(t, "new-principal", u.Heirs[1].Principal)
	assert.True(t, u.Sessions[1].BoundPrincipal)

	require.Len(t, u.RetryQueue, 1)
	assert.Equal(t, domain.RetryFungibleCustodyRelease, u.RetryQueue[0].Kind)
}

func TestAllowedPreferenceTable(t *testing.T) {
	assert.False(t, allowedPreference(domain.AssetDocument, domain.PreferenceToPrincipal))
	assert.True(t, allowedPreference(domain.AssetNft, domain.PreferenceToCustody))
	assert.False(t, allowedPreference(domain.AssetNft, domain.PreferenceCkWithdraw))
	assert.True(t, allowedPreference(domain.AssetFungible, domain.PreferenceCkWithdraw))
}

func TestSetPayoutPreferenceSessionRateLimitsByCooldownAndDailyMax(t *testing.T) {
	u := userWithHeir(1)
	u.Heirs[1].Principal = "heir-principal"
	u.Assets[1] = &domain.Asset{ID: 1, Kind: domain.AssetFungible, Decimals: 8}
	u.Sessions[1] = &domain.Session{ID: 1, HeirID: 1, ExpiresAt: 999999999, VerifiedSecret: true}

	now := uint64(1000)
	require.NoError(t, SetPayoutPreferenceSession(u, now, 1, 1, domain.PreferenceToCustody))

	// Cooldown blocks an immediate second change.
	err := SetPayoutPreferenceSession(u, now+10, 1, 1, domain.PreferenceToPrincipal)
	assert.Error(t, err)

	// After the cooldown, repeated changes eventually hit the daily cap.
	now += preferenceCooldownSecs + 1
	require.NoError(t, SetPayoutPreferenceSession(u, now, 1, 1, domain.PreferenceToPrincipal))
	now += preferenceCooldownSecs + 1
	require.NoError(t, SetPayoutPreferenceSession(u, now, 1, 1, domain.PreferenceToCustody))
	now += preferenceCooldownSecs + 1
	err = SetPayoutPreferenceSession(u, now, 1, 1, domain.PreferenceToPrincipal)
	assert.Error(t, err) // fourth change today: three already made, preferenceDailyMax is 3
}

func TestSetPayoutPreferenceSessionRejectsAfterTransferRecorded(t *testing.T) {
	u := userWithHeir(1)
	u.Heirs[1].Principal = "heir-principal"
	u.Assets[1] = &domain.Asset{ID: 1, Kind: domain.AssetFungible, Decimals: 8}
	u.Sessions[1] = &domain.Session{ID: 1, HeirID: 1, ExpiresAt: 999999999, VerifiedSecret: true}
	u.Transfers = append(u.Transfers, &domain.TransferRecord{AssetID: 1, HeirID: 1})

	err := SetPayoutPreferenceSession(u, 100, 1, 1, domain.PreferenceToCustody)
	assert.Error(t, err)
}

func TestSetPayoutPreferenceSessionRejectsDisallowedPreferenceForKind(t *testing.T) {
	u := userWithHeir(1)
	u.Assets[1] = &domain.Asset{ID: 1, Kind: domain.AssetDocument}
	u.Sessions[1] = &domain.Session{ID: 1, HeirID: 1, ExpiresAt: 999999999, VerifiedSecret: true}

	err := SetPayoutPreferenceSession(u, 100, 1, 1, domain.PreferenceToCustody)
	assert.Error(t, err)
}
