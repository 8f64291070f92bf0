package guardian

import (
	"github.com/civkeep/estateguardian/internal/document"
	"github.com/civkeep/estateguardian/internal/domain"
)

// AddDocument is add_document.
func (g *Guardian) AddDocument(principal, name, mimeType string, plaintext []byte) (*domain.Document, error) {
	var doc *domain.Document
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		d, err := g.documentEngine.AddDocument(u, g.now(), name, mimeType, plaintext)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	return doc, err
}

// StartDocumentUpload is start_document_upload.
func (g *Guardian) StartDocumentUpload(principal, name string, expectedSize uint64, expectedHash []byte) (string, error) {
	var uploadID string
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		id, err := g.documentEngine.StartDocumentUpload(u, name, expectedSize, expectedHash)
		if err != nil {
			return err
		}
		uploadID = id
		return nil
	})
	return uploadID, err
}

// UploadDocumentChunk is upload_document_chunk.
func (g *Guardian) UploadDocumentChunk(principal, uploadID string, chunk []byte) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return g.documentEngine.UploadDocumentChunk(u, uploadID, chunk)
	})
}

// FinalizeDocumentUpload is finalize_document_upload.
func (g *Guardian) FinalizeDocumentUpload(principal, uploadID, mimeType string) (*domain.Document, error) {
	var doc *domain.Document
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		d, err := g.documentEngine.FinalizeDocumentUpload(u, g.now(), uploadID, mimeType)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	return doc, err
}

// AbortDocumentUpload is abort_document_upload.
func (g *Guardian) AbortDocumentUpload(principal, uploadID string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return g.documentEngine.AbortDocumentUpload(u, uploadID)
	})
}

// ListDocuments is list_documents.
func (g *Guardian) ListDocuments(principal string) ([]*domain.Document, error) {
	var out []*domain.Document
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = document.ListDocuments(u)
		return nil
	})
	return out, err
}

// HeirGetDocument is heir_get_document: callerIsOwner must be true, per the
// owner-keyed authorization policy documented in internal/document.
func (g *Guardian) HeirGetDocument(principal string, callerIsOwner bool, docID uint64) (*domain.Document, error) {
	var doc *domain.Document
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		d, err := document.HeirGetDocument(u, callerIsOwner, docID)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	return doc, err
}

// DecryptDocument decrypts a document's stored ciphertext back to plaintext.
func (g *Guardian) DecryptDocument(principal string, doc *domain.Document) ([]byte, error) {
	var plaintext []byte
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		p, err := g.documentEngine.DecryptDocument(u, doc)
		if err != nil {
			return err
		}
		plaintext = p
		return nil
	})
	return plaintext, err
}
