package service

import (
	"net/http"

	"github.com/civkeep/estateguardian/internal/domain"
)

func (s *Server) registerClaimRoutes() {
	r := s.router
	r.HandleFunc("/v1/estates/{principal}/heirs/{heir_id}/claim-link", s.handleCreateClaimLink).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/claim/begin", s.handleBeginClaim).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/claim/sessions/{session_id}/verify-secret", s.handleVerifySecret).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/claim/sessions/{session_id}/verify-identity", s.handleVerifyIdentity).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/claim/sessions/{session_id}/bind-principal", s.handleBindPrincipal).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/claim/sessions/{session_id}/payout-preference", s.handleSetPayoutPreference).Methods(http.MethodPost)
}

func (s *Server) handleCreateClaimLink(w http.ResponseWriter, r *http.Request) {
	heirID, err := pathUint64(r, "heir_id")
	if err != nil {
		writeError(w, err)
		return
	}
	linkID, code, err := s.g.CreateClaimLink(pathPrincipal(r), heirID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"link_id": linkID, "code": code})
}

type beginClaimRequest struct {
	LinkID uint64
	Code   string
}

func (s *Server) handleBeginClaim(w http.ResponseWriter, r *http.Request) {
	if s.claimRateLimited(w) {
		return
	}
	var req beginClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sessionID, err := s.g.HeirBeginClaim(pathPrincipal(r), req.LinkID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"session_id": sessionID})
}

type secretRequest struct {
	Secret string
}

func (s *Server) handleVerifySecret(w http.ResponseWriter, r *http.Request) {
	if s.claimRateLimited(w) {
		return
	}
	sessionID, err := pathUint64(r, "session_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req secretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.HeirVerifySecretSession(pathPrincipal(r), sessionID, req.Secret); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type identityRequest struct {
	IdentityClaim string
}

func (s *Server) handleVerifyIdentity(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUint64(r, "session_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req identityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.HeirVerifyIdentitySession(pathPrincipal(r), sessionID, req.IdentityClaim); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type bindPrincipalRequest struct {
	HeirPrincipal string
}

func (s *Server) handleBindPrincipal(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUint64(r, "session_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req bindPrincipalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.HeirBindPrincipalSession(pathPrincipal(r), sessionID, req.HeirPrincipal); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type payoutPreferenceRequest struct {
	AssetID    uint64
	Preference domain.PayoutPreference
}

func (s *Server) handleSetPayoutPreference(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUint64(r, "session_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req payoutPreferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.HeirSetPayoutPreferenceSession(pathPrincipal(r), sessionID, req.AssetID, req.Preference); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
