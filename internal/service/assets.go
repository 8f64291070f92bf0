package service

import (
	"net/http"

	"github.com/civkeep/estateguardian/internal/domain"
)

type assetRequest struct {
	Kind             domain.AssetKind
	Value            uint64
	Decimals         uint8
	TokenLedger      string
	TokenID          *uint64
	HoldingMode      domain.HoldingMode
	NFTStandard      domain.NFTStandard
	ChainWrappedKind domain.ChainWrappedKind
}

func (s *Server) registerAssetRoutes() {
	r := s.router
	r.HandleFunc("/v1/estates/{principal}/assets", s.handleAddAsset).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/assets", s.handleListAssets).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/assets/{asset_id}", s.handleUpdateAsset).Methods(http.MethodPut)
	r.HandleFunc("/v1/estates/{principal}/assets/{asset_id}", s.handleRemoveAsset).Methods(http.MethodDelete)
}

func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.g.RegisterAsset(pathPrincipal(r), domain.Asset{
		Kind: req.Kind, Value: req.Value, Decimals: req.Decimals,
		TokenLedger: req.TokenLedger, TokenID: req.TokenID,
		HoldingMode: req.HoldingMode, NFTStandard: req.NFTStandard,
		ChainWrappedKind: req.ChainWrappedKind,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"asset_id": id})
}

func (s *Server) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := pathUint64(r, "asset_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req assetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.UpdateAsset(pathPrincipal(r), assetID, domain.Asset{
		Kind: req.Kind, Value: req.Value, Decimals: req.Decimals,
		TokenLedger: req.TokenLedger, TokenID: req.TokenID,
		HoldingMode: req.HoldingMode, NFTStandard: req.NFTStandard,
		ChainWrappedKind: req.ChainWrappedKind,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := pathUint64(r, "asset_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.RemoveAsset(pathPrincipal(r), assetID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.g.ListAssets(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}
