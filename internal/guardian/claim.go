package guardian

import (
	"github.com/civkeep/estateguardian/internal/claim"
	"github.com/civkeep/estateguardian/internal/domain"
)

// CreateClaimLink is create_claim_link: generates and returns the plaintext
// claim code, which the owner must deliver out of band.
func (g *Guardian) CreateClaimLink(principal string, heirID uint64) (linkID uint64, codePlain string, err error) {
	err = g.Store.WithUser(principal, func(u *domain.User) error {
		id, code, e := claim.CreateLink(u, g.RNG, heirID)
		if e != nil {
			return e
		}
		linkID, codePlain = id, code
		return nil
	})
	return linkID, codePlain, err
}

// HeirBeginClaim is heir_begin_claim.
func (g *Guardian) HeirBeginClaim(principal string, linkID uint64, codePlain string) (uint64, error) {
	var sessionID uint64
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		id, e := claim.BeginClaim(u, g.now(), linkID, codePlain)
		if e != nil {
			return e
		}
		sessionID = id
		return nil
	})
	return sessionID, err
}

// HeirVerifySecretSession is heir_verify_secret_session.
func (g *Guardian) HeirVerifySecretSession(principal string, sessionID uint64, secret string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return claim.VerifySecretSession(u, g.now(), sessionID, secret)
	})
}

// HeirVerifyIdentitySession is heir_verify_identity_session.
func (g *Guardian) HeirVerifyIdentitySession(principal string, sessionID uint64, identityClaim string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return claim.VerifyIdentitySession(u, g.now(), sessionID, identityClaim)
	})
}

// HeirBindPrincipalSession is heir_bind_principal_session.
func (g *Guardian) HeirBindPrincipalSession(principal string, sessionID uint64, heirPrincipal string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return claim.BindPrincipal(u, g.now(), sessionID, heirPrincipal)
	})
}

// HeirSetPayoutPreferenceSession is heir_set_payout_preference_session.
func (g *Guardian) HeirSetPayoutPreferenceSession(principal string, sessionID, assetID uint64, pref domain.PayoutPreference) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return claim.SetPayoutPreferenceSession(u, g.now(), sessionID, assetID, pref)
	})
}

// SessionVerifiedSecret reports whether sessionID has a verified secret,
// the gate WithdrawCustody's secretVerified argument is resolved from.
func (g *Guardian) SessionVerifiedSecret(principal string, sessionID uint64) (bool, error) {
	var verified bool
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		sess, ok := u.Sessions[sessionID]
		verified = ok && sess.VerifiedSecret
		return nil
	})
	return verified, err
}

// PurgeExpiredSessions drops every claim session past its strict expiry,
// capped at maxPurge per call (§4.O step 6).
func (g *Guardian) PurgeExpiredSessions(principal string, maxPurge int) (int, error) {
	var purged int
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		nowSecs := g.now()
		for id, sess := range u.Sessions {
			if maxPurge > 0 && purged >= maxPurge {
				break
			}
			if sess.Expired(nowSecs) {
				delete(u.Sessions, id)
				purged++
			}
		}
		return nil
	})
	return purged, err
}
