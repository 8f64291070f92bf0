package service

import "net/http"

func (s *Server) registerCustodyRoutes() {
	r := s.router
	r.HandleFunc("/v1/estates/{principal}/heirs/{heir_id}/custody-subaccount", s.handleCustodySubaccount).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/assets/{asset_id}/escrow", s.handleDepositEscrow).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/assets/{asset_id}/escrow", s.handleWithdrawEscrow).Methods(http.MethodDelete)
	r.HandleFunc("/v1/estates/{principal}/assets/{asset_id}/approval", s.handleSetApproval).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/assets/{asset_id}/approval", s.handleRevokeApproval).Methods(http.MethodDelete)
	r.HandleFunc("/v1/estates/{principal}/assets/{asset_id}/heirs/{heir_id}/withdraw-custody", s.handleWithdrawCustody).Methods(http.MethodPost)
}

func (s *Server) handleCustodySubaccount(w http.ResponseWriter, r *http.Request) {
	heirID, err := pathUint64(r, "heir_id")
	if err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.g.CustodySubaccountForHeir(pathPrincipal(r), heirID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subaccount": sub})
}

type amountRequest struct {
	Amount uint64
}

func (s *Server) handleDepositEscrow(w http.ResponseWriter, r *http.Request) {
	assetID, err := pathUint64(r, "asset_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.DepositEscrow(r.Context(), pathPrincipal(r), assetID, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWithdrawEscrow(w http.ResponseWriter, r *http.Request) {
	assetID, err := pathUint64(r, "asset_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var amount *uint64
	if q := r.URL.Query().Get("amount"); q != "" {
		v, err := parseUint64(q)
		if err != nil {
			writeError(w, err)
			return
		}
		amount = &v
	}
	if err := s.g.WithdrawEscrow(r.Context(), pathPrincipal(r), assetID, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type approvalRequest struct {
	Allowance uint64
	OnChain   bool
}

func (s *Server) handleSetApproval(w http.ResponseWriter, r *http.Request) {
	assetID, err := pathUint64(r, "asset_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req approvalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.SetApproval(r.Context(), pathPrincipal(r), assetID, req.Allowance, req.OnChain); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRevokeApproval(w http.ResponseWriter, r *http.Request) {
	assetID, err := pathUint64(r, "asset_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.RevokeApproval(pathPrincipal(r), assetID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type withdrawCustodyRequest struct {
	SessionID uint64
}

func (s *Server) handleWithdrawCustody(w http.ResponseWriter, r *http.Request) {
	assetID, err := pathUint64(r, "asset_id")
	if err != nil {
		writeError(w, err)
		return
	}
	heirID, err := pathUint64(r, "heir_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req withdrawCustodyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	principal := pathPrincipal(r)
	verified, err := s.g.SessionVerifiedSecret(principal, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.g.WithdrawCustody(r.Context(), principal, assetID, heirID, verified)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
