// Package claim implements the heir claim protocol (§4.M): claim-link
// issuance, session lifecycle, throttled secret verification, principal
// binding, and rate-limited payout-preference overrides.
package claim

import (
	"github.com/civkeep/estateguardian/internal/auditlog"
	"github.com/civkeep/estateguardian/internal/cryptoutil"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/errs"
	"github.com/civkeep/estateguardian/internal/rng"
)

const (
	claimCodeDigits = 6

	sessionTTLSecs = 24 * 3600

	// secretWindowSecs resets the attempt counter once an attempt is this
	// stale.
	secretWindowSecs = 3600
	secretBackoffBase = 30
	secretBackoffCap  = 6 * 3600

	preferenceDailyMax     = 3
	preferenceCooldownSecs = 2 * 3600
)

// CreateLink generates a 6-digit numeric code via rejection sampling,
// storing its salted hash against heirID. Returns the link id and the
// plaintext code, which the caller must deliver out of band — it is never
// retrievable again.
func CreateLink(u *domain.User, src *rng.Source, heirID uint64) (linkID uint64, codePlain string, err error) {
	if _, ok := u.Heirs[heirID]; !ok {
		return 0, "", errs.HeirNotFound("")
	}
	code, err := src.NumericCode(claimCodeDigits)
	if err != nil {
		return 0, "", err
	}
	hash, salt, err := cryptoutil.HashSecretWithSalt(code)
	if err != nil {
		return 0, "", err
	}
	link := &domain.ClaimLink{
		ID:     u.NextClaimLinkID,
		HeirID: heirID,
		Salt:   salt,
		Hash:   hash,
	}
	u.NextClaimLinkID++
	u.ClaimLinks[link.ID] = link
	return link.ID, code, nil
}

// BeginClaim is heir_begin_claim: validates the plaintext code against the
// stored hash, marks the link single-use, and opens a 24h session.
func BeginClaim(u *domain.User, nowSecs uint64, linkID uint64, codePlain string) (sessionID uint64, err error) {
	link, ok := u.ClaimLinks[linkID]
	if !ok {
		return 0, errs.NotFound("claim_link", "")
	}
	if link.Used {
		return 0, errs.ClaimLinkExpired()
	}
	if !cryptoutil.VerifySecret(codePlain, link.Salt, link.Hash) {
		return 0, errs.SecretMismatch()
	}
	link.Used = true

	sess := &domain.Session{
		ID:        u.NextSessionID,
		HeirID:    link.HeirID,
		StartedAt: nowSecs,
		ExpiresAt: nowSecs + sessionTTLSecs,
	}
	u.NextSessionID++
	u.Sessions[sess.ID] = sess
	return sess.ID, nil
}

func sessionFor(u *domain.User, nowSecs, sessionID uint64) (*domain.Session, error) {
	sess, ok := u.Sessions[sessionID]
	if !ok {
		return nil, errs.SessionExpired()
	}
	if sess.Expired(nowSecs) {
		return nil, errs.SessionExpired()
	}
	return sess, nil
}

// computeSecretBackoff mirrors the original implementation's formula
// exactly: attempts <= 1 has no delay; otherwise 30s * 2^(attempts-2),
// capped at 6h.
func computeSecretBackoff(attempts int) uint64 {
	if attempts <= 1 {
		return 0
	}
	shift := attempts - 2
	if shift > 32 {
		shift = 32
	}
	d := uint64(secretBackoffBase) << uint(shift)
	if d > secretBackoffCap {
		d = secretBackoffCap
	}
	return d
}

// VerifySecretSession is heir_verify_secret_session: throttled per heir
// record, comparing the salted hash in constant time.
func VerifySecretSession(u *domain.User, nowSecs, sessionID uint64, secret string) error {
	sess, err := sessionFor(u, nowSecs, sessionID)
	if err != nil {
		return err
	}
	heir, ok := u.Heirs[sess.HeirID]
	if !ok {
		return errs.HeirNotFound("")
	}
	secretRec := &heir.Secret

	if secretRec.NextAllowedAttempt != 0 && nowSecs < secretRec.NextAllowedAttempt {
		heirID := sess.HeirID
		auditlog.Append(u, nowSecs, domain.EventHeirSecretBackoffRateLimited, nil, &heirID, map[string]interface{}{
			"next_allowed_attempt": secretRec.NextAllowedAttempt,
		})
		return errs.Throttled(secretRec.NextAllowedAttempt - nowSecs)
	}

	if secretRec.LastAttemptAt != 0 && nowSecs-secretRec.LastAttemptAt > secretWindowSecs {
		secretRec.Attempts = 0
	}

	secretRec.Attempts++
	secretRec.LastAttemptAt = nowSecs
	delay := computeSecretBackoff(secretRec.Attempts)
	if delay > 0 {
		secretRec.NextAllowedAttempt = nowSecs + delay
	} else {
		secretRec.NextAllowedAttempt = 0
	}

	if !cryptoutil.VerifySecret(secret, secretRec.Salt, secretRec.Hash) {
		return errs.SecretMismatch()
	}

	secretRec.Status = domain.SecretVerified
	secretRec.Attempts = 0
	secretRec.NextAllowedAttempt = 0
	sess.VerifiedSecret = true

	heirID := sess.HeirID
	auditlog.Append(u, nowSecs, domain.EventHeirSecretVerified, nil, &heirID, nil)
	auditlog.Append(u, nowSecs, domain.EventHeirSessionSecretVerified, nil, &heirID, map[string]interface{}{
		"session_id": sessionID,
	})
	return nil
}

// VerifyIdentitySession is heir_verify_identity_session: compares a
// caller-supplied identity claim against the heir's optional
// identity-claim hash/salt (§3's "optional identity-claim hash/salt"
// attribute, distinct from the shared secret verified by
// VerifySecretSession). Unthrottled: the identity claim is a secondary,
// optional check and the spec only documents rate limiting for the shared
// secret path.
func VerifyIdentitySession(u *domain.User, nowSecs, sessionID uint64, claim string) error {
	sess, err := sessionFor(u, nowSecs, sessionID)
	if err != nil {
		return err
	}
	heir, ok := u.Heirs[sess.HeirID]
	if !ok {
		return errs.HeirNotFound("")
	}
	if len(heir.IdentityClaimHash) == 0 {
		return errs.Other("identity_claim_not_configured")
	}
	if !cryptoutil.VerifySecret(claim, heir.IdentityClaimSalt, heir.IdentityClaimHash) {
		return errs.SecretMismatch()
	}
	sess.VerifiedIdentity = true
	heirID := sess.HeirID
	auditlog.Append(u, nowSecs, domain.EventHeirIdentityVerified, nil, &heirID, nil)
	return nil
}

// BindPrincipal is heir_bind_principal_session: requires a verified
// secret, and on success sweeps every pending fungible/NFT custody record
// for the heir back onto the retry queue so a newly-bound principal
// unblocks releases that were stuck on a missing destination.
func BindPrincipal(u *domain.User, nowSecs, sessionID uint64, principal string) error {
	sess, err := sessionFor(u, nowSecs, sessionID)
	if err != nil {
		return err
	}
	if !sess.VerifiedSecret {
		return errs.HeirSessionUnauthorized("secret not verified")
	}
	heir, ok := u.Heirs[sess.HeirID]
	if !ok {
		return errs.HeirNotFound("")
	}
	heir.Principal = principal
	sess.BoundPrincipal = true

	for _, rec := range u.FungibleCustody {
		if rec.HeirID == sess.HeirID && !rec.Release.Released() {
			enqueueUnblockedRetry(u, nowSecs, domain.RetryFungibleCustodyRelease, rec.AssetID, rec.HeirID, nil)
		}
	}
	for _, rec := range u.NftCustody {
		if rec.HeirID == sess.HeirID && !rec.Release.Released() {
			tokenID := rec.TokenID
			enqueueUnblockedRetry(u, nowSecs, domain.RetryNftCustodyRelease, rec.AssetID, rec.HeirID, &tokenID)
		}
	}
	return nil
}

func enqueueUnblockedRetry(u *domain.User, nowSecs uint64, kind domain.RetryKind, assetID, heirID uint64, tokenID *uint64) {
	item := &domain.RetryItem{
		ID:               u.NextRetryID,
		Kind:             kind,
		AssetID:          assetID,
		HeirID:           heirID,
		TokenID:          tokenID,
		CreatedAt:        nowSecs,
		NextAttemptAfter: nowSecs,
	}
	u.NextRetryID++
	u.RetryQueue = append(u.RetryQueue, item)
}

// allowedPreference reports whether pref is a valid choice for an asset of
// kind (§4.H's table: documents carry no preference, NFTs cannot
// CkWithdraw).
func allowedPreference(kind domain.AssetKind, pref domain.PayoutPreference) bool {
	switch kind {
	case domain.AssetDocument:
		return false
	case domain.AssetNft:
		return pref == domain.PreferenceToPrincipal || pref == domain.PreferenceToCustody
	default:
		return true
	}
}

func calendarDay(nowSecs uint64) uint64 { return nowSecs / 86400 }

// SetPayoutPreferenceSession is heir_set_payout_preference_session: requires
// a verified secret, a non-Executed estate, no transfer yet recorded for
// the (asset, heir) pair, a preference valid for the asset's kind, and
// respects the daily-count + cooldown rate limit.
func SetPayoutPreferenceSession(u *domain.User, nowSecs, sessionID, assetID uint64, pref domain.PayoutPreference) error {
	sess, err := sessionFor(u, nowSecs, sessionID)
	if err != nil {
		return err
	}
	if !sess.VerifiedSecret {
		return errs.HeirSessionUnauthorized("secret not verified")
	}
	if u.Phase == domain.PhaseExecuted {
		return errs.AlreadyExecuted()
	}
	asset, ok := u.Assets[assetID]
	if !ok {
		return errs.AssetNotFound("")
	}
	if !allowedPreference(asset.Kind, pref) {
		return errs.InvalidPayoutPreference("preference not allowed for asset kind")
	}
	for _, t := range u.Transfers {
		if t.AssetID == assetID && t.HeirID == sess.HeirID {
			return errs.AlreadyTransferred("", "")
		}
	}
	if pref == domain.PreferenceToPrincipal || pref == domain.PreferenceCkWithdraw {
		heir := u.Heirs[sess.HeirID]
		if heir == nil || heir.Principal == "" {
			return errs.InvalidOwnerPrincipal()
		}
	}

	key := domain.OverrideKey(sess.HeirID, assetID)
	if ov, exists := u.Overrides[key]; exists && nowSecs-ov.SetAt < preferenceCooldownSecs {
		heirID := sess.HeirID
		auditlog.Append(u, nowSecs, domain.EventHeirPayoutPreferenceRateLimited, &assetID, &heirID, map[string]interface{}{
			"reason": "cooldown",
		})
		return errs.Throttled(preferenceCooldownSecs - (nowSecs - ov.SetAt))
	}

	if countOverrideChangesToday(u, sess.HeirID, assetID, nowSecs) >= preferenceDailyMax {
		heirID := sess.HeirID
		auditlog.Append(u, nowSecs, domain.EventHeirPayoutPreferenceRateLimited, &assetID, &heirID, map[string]interface{}{
			"reason": "daily_max",
		})
		return errs.Throttled(secondsUntilNextDay(nowSecs))
	}

	u.Overrides[key] = &domain.PayoutOverride{
		HeirID:     sess.HeirID,
		AssetID:    assetID,
		Preference: pref,
		SetAt:      nowSecs,
	}
	heirID := sess.HeirID
	auditlog.Append(u, nowSecs, domain.EventHeirPayoutPreferenceChanged, &assetID, &heirID, map[string]interface{}{
		"preference": int(pref),
	})
	return nil
}

// countOverrideChangesToday counts how many times this (heir, asset) pair
// has had its preference changed today, using the audit log as the
// authoritative record rather than a dedicated counter field.
func countOverrideChangesToday(u *domain.User, heirID, assetID, nowSecs uint64) int {
	day := calendarDay(nowSecs)
	count := 0
	for _, ev := range u.AuditLog {
		if ev.Kind != domain.EventHeirPayoutPreferenceChanged {
			continue
		}
		if ev.AssetID == nil || *ev.AssetID != assetID || ev.HeirID == nil || *ev.HeirID != heirID {
			continue
		}
		if calendarDay(ev.Timestamp) == day {
			count++
		}
	}
	return count
}

func secondsUntilNextDay(nowSecs uint64) uint64 {
	return 86400 - (nowSecs % 86400)
}
