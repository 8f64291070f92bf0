package service

import "net/http"

func (s *Server) registerBridgeRoutes() {
	r := s.router
	r.HandleFunc("/v1/estates/{principal}/ck-withdraws", s.handleListCkWithdraws).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/assets/{asset_id}/heirs/{heir_id}/ck-withdraw/request", s.handleRequestCkWithdraw).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/assets/{asset_id}/heirs/{heir_id}/ck-withdraw/submit", s.handleSubmitCkWithdraw).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/assets/{asset_id}/heirs/{heir_id}/ck-withdraw/poll", s.handlePollCkWithdraw).Methods(http.MethodPost)
}

func (s *Server) handleListCkWithdraws(w http.ResponseWriter, r *http.Request) {
	out, err := s.g.ListCkWithdraws(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type ckSessionRequest struct {
	SessionID uint64
}

func (s *Server) bridgeIDs(r *http.Request) (assetID, heirID uint64, err error) {
	if assetID, err = pathUint64(r, "asset_id"); err != nil {
		return
	}
	heirID, err = pathUint64(r, "heir_id")
	return
}

func (s *Server) handleRequestCkWithdraw(w http.ResponseWriter, r *http.Request) {
	assetID, heirID, err := s.bridgeIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ckSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.RequestCkWithdraw(pathPrincipal(r), req.SessionID, assetID, heirID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type ckSubmitRequest struct {
	SessionID uint64
	L1Address string
}

func (s *Server) handleSubmitCkWithdraw(w http.ResponseWriter, r *http.Request) {
	assetID, heirID, err := s.bridgeIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ckSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.SubmitCkWithdraw(r.Context(), pathPrincipal(r), req.SessionID, assetID, heirID, req.L1Address); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePollCkWithdraw(w http.ResponseWriter, r *http.Request) {
	assetID, heirID, err := s.bridgeIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ckSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.PollCkWithdraw(r.Context(), pathPrincipal(r), req.SessionID, assetID, heirID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
