package service

import (
	"net/http"
	"strconv"
)

func (s *Server) registerObservabilityRoutes() {
	r := s.router
	r.HandleFunc("/v1/estates/{principal}/audit-log", s.handleAuditLog).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/transfers", s.handleListTransfers).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/retries", s.handleListRetries).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/retries/stats", s.handleRetryStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/retries/{retry_id}/force", s.handleForceRetry).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/retries/force-all-due", s.handleForceAllDue).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/notifications", s.handleListNotifications).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/reconciliation", s.handleGetReconciliation).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/reconciliation", s.handleReconcileNow).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/metrics-snapshot", s.handleMetricsSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/attestation", s.handleAttestation).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/maintenance", s.handleRunMaintenance).Methods(http.MethodPost)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	principal := pathPrincipal(r)
	q := r.URL.Query()
	if _, paged := q["offset"]; !paged && !q.Has("limit") && !q.Has("asset_id") && !q.Has("heir_id") {
		events, err := s.g.ListAuditLog(principal)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)
	var assetID, heirID *uint64
	if v := q.Get("asset_id"); v != "" {
		id, err := parseUint64(v)
		if err != nil {
			writeError(w, err)
			return
		}
		assetID = &id
	}
	if v := q.Get("heir_id"); v != "" {
		id, err := parseUint64(v)
		if err != nil {
			writeError(w, err)
			return
		}
		heirID = &id
	}
	events, err := s.g.ListAuditLogFiltered(principal, offset, limit, assetID, heirID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	out, err := s.g.ListTransfers(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRetries(w http.ResponseWriter, r *http.Request) {
	out, err := s.g.ListRetries(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRetryStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.g.RetryStats(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleForceRetry(w http.ResponseWriter, r *http.Request) {
	retryID, err := pathUint64(r, "retry_id")
	if err != nil {
		writeError(w, err)
		return
	}
	found, err := s.g.ForceRetry(pathPrincipal(r), retryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"found": found})
}

func (s *Server) handleForceAllDue(w http.ResponseWriter, r *http.Request) {
	n, err := s.g.ForceAllDue(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"forced": n})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	out, err := s.g.ListNotifications(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetReconciliation(w http.ResponseWriter, r *http.Request) {
	out, err := s.g.GetCustodyReconciliation(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReconcileNow(w http.ResponseWriter, r *http.Request) {
	if err := s.g.ReconcileCustody(r.Context(), pathPrincipal(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	frame, err := s.g.MetricsSnapshot(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	root, err := s.g.ComputeLedgerAttestation(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"merkle_root": hexEncode(root[:])})
}

func (s *Server) handleRunMaintenance(w http.ResponseWriter, r *http.Request) {
	if s.loop == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
		return
	}
	s.loop.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}
