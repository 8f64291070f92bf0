package service

import "net/http"

func (s *Server) registerLifecycleRoutes() {
	r := s.router
	r.HandleFunc("/v1/estates/{principal}", s.handleEstateStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/readiness", s.handleReadiness).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/integrity", s.handleIntegrity).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/warning", s.handleStartWarning).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/lock", s.handleLockEstate).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/reset-timer", s.handleResetTimer).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/execute", s.handleExecuteTrigger).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/execution-summary", s.handleLastExecutionSummary).Methods(http.MethodGet)
}

func (s *Server) handleEstateStatus(w http.ResponseWriter, r *http.Request) {
	u, err := s.g.EstateStatus(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":          u.Phase.String(),
		"timer_expiry":   u.TimerExpiry,
		"locked_at":      u.LockedAt,
		"executed_at":    u.ExecutedAt,
		"schema_version": u.SchemaVersion,
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	report, err := s.g.EstateReadiness(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.g.CheckIntegrity(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStartWarning(w http.ResponseWriter, r *http.Request) {
	if err := s.g.StartWarning(pathPrincipal(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLockEstate(w http.ResponseWriter, r *http.Request) {
	if err := s.g.LockEstate(pathPrincipal(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResetTimer(w http.ResponseWriter, r *http.Request) {
	if err := s.g.ResetTimer(pathPrincipal(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleExecuteTrigger(w http.ResponseWriter, r *http.Request) {
	summary, err := s.g.ExecuteTrigger(r.Context(), pathPrincipal(r), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleLastExecutionSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.g.LastExecutionSummary(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
