package service

import (
	"net/http"

	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/guardian"
)

func (s *Server) registerHeirRoutes() {
	r := s.router
	r.HandleFunc("/v1/estates/{principal}/heirs", s.handleAddHeir).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/heirs", s.handleListHeirs).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/heirs/{heir_id}", s.handleUpdateHeir).Methods(http.MethodPut)
	r.HandleFunc("/v1/estates/{principal}/heirs/{heir_id}", s.handleRemoveHeir).Methods(http.MethodDelete)
	r.HandleFunc("/v1/estates/{principal}/distributions", s.handleSetDistribution).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/distributions", s.handleListDistributions).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/distributions/{asset_id}/{heir_id}", s.handleRemoveDistribution).Methods(http.MethodDelete)
	// Deprecated: use POST .../distributions (handleSetDistribution) instead.
	r.HandleFunc("/v1/estates/{principal}/distributions/legacy-assign", s.handleAssignDistributionsLegacy).Methods(http.MethodPost)
}

type addHeirRequest struct {
	Contact string
	Secret  string
}

func (s *Server) handleAddHeir(w http.ResponseWriter, r *http.Request) {
	var req addHeirRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.g.RegisterHeir(pathPrincipal(r), req.Contact, req.Secret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"heir_id": id})
}

type updateHeirRequest struct {
	Contact string
	Notes   string
}

func (s *Server) handleUpdateHeir(w http.ResponseWriter, r *http.Request) {
	heirID, err := pathUint64(r, "heir_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateHeirRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.UpdateHeirContact(pathPrincipal(r), heirID, req.Contact, req.Notes); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRemoveHeir(w http.ResponseWriter, r *http.Request) {
	heirID, err := pathUint64(r, "heir_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.RemoveHeir(pathPrincipal(r), heirID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListHeirs(w http.ResponseWriter, r *http.Request) {
	heirs, err := s.g.ListHeirs(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heirs)
}

type setDistributionRequest struct {
	AssetID    uint64
	HeirID     uint64
	Percentage uint8
	Preference domain.PayoutPreference
}

func (s *Server) handleSetDistribution(w http.ResponseWriter, r *http.Request) {
	var req setDistributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.SetDistribution(pathPrincipal(r), req.AssetID, req.HeirID, req.Percentage, req.Preference); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRemoveDistribution(w http.ResponseWriter, r *http.Request) {
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
	if err := s.g.RemoveDistribution(pathPrincipal(r), assetID, heirID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListDistributions(w http.ResponseWriter, r *http.Request) {
	shares, err := s.g.ListDistributions(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

type assignDistributionsLegacyRequest struct {
	Distributions []guardian.LegacyDistributionInput
}

// handleAssignDistributionsLegacy is the deprecated bulk assign_distributions
// shim (spec.md §9 / OQ3): kept alongside handleSetDistribution, not unified
// with it.
func (s *Server) handleAssignDistributionsLegacy(w http.ResponseWriter, r *http.Request) {
	var req assignDistributionsLegacyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.AssignDistributionsLegacy(pathPrincipal(r), req.Distributions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
