package service

import (
	"encoding/base64"
	"net/http"
)

func (s *Server) registerDocumentRoutes() {
	r := s.router
	r.HandleFunc("/v1/estates/{principal}/documents", s.handleAddDocument).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/documents", s.handleListDocuments).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/documents/{doc_id}", s.handleGetDocument).Methods(http.MethodGet)
	r.HandleFunc("/v1/estates/{principal}/document-uploads", s.handleStartUpload).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/document-uploads/{upload_id}/chunks", s.handleUploadChunk).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/document-uploads/{upload_id}/finalize", s.handleFinalizeUpload).Methods(http.MethodPost)
	r.HandleFunc("/v1/estates/{principal}/document-uploads/{upload_id}", s.handleAbortUpload).Methods(http.MethodDelete)
}

type addDocumentRequest struct {
	Name           string
	MimeType       string
	PlaintextB64   string
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	plaintext, err := base64.StdEncoding.DecodeString(req.PlaintextB64)
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.g.AddDocument(pathPrincipal(r), req.Name, req.MimeType, plaintext)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.g.ListDocuments(pathPrincipal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID, err := pathUint64(r, "doc_id")
	if err != nil {
		writeError(w, err)
		return
	}
	// Owner-keyed per the documented policy (spec.md §9 OQ1): this HTTP
	// surface only serves the owner's own view of their documents.
	doc, err := s.g.HeirGetDocument(pathPrincipal(r), true, docID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type startUploadRequest struct {
	Name           string
	ExpectedSize   uint64
	ExpectedHashB64 string
}

func (s *Server) handleStartUpload(w http.ResponseWriter, r *http.Request) {
	var req startUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var expectedHash []byte
	if req.ExpectedHashB64 != "" {
		h, err := base64.StdEncoding.DecodeString(req.ExpectedHashB64)
		if err != nil {
			writeError(w, err)
			return
		}
		expectedHash = h
	}
	uploadID, err := s.g.StartDocumentUpload(pathPrincipal(r), req.Name, req.ExpectedSize, expectedHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"upload_id": uploadID})
}

type uploadChunkRequest struct {
	ChunkB64 string
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	uploadID := pathString(r, "upload_id")
	var req uploadChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(req.ChunkB64)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.g.UploadDocumentChunk(pathPrincipal(r), uploadID, chunk); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type finalizeUploadRequest struct {
	MimeType string
}

func (s *Server) handleFinalizeUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := pathString(r, "upload_id")
	var req finalizeUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.g.FinalizeDocumentUpload(pathPrincipal(r), uploadID, req.MimeType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAbortUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := pathString(r, "upload_id")
	if err := s.g.AbortDocumentUpload(pathPrincipal(r), uploadID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
