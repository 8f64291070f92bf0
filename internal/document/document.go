// Package document implements the encrypted-document chunked upload path
// (§4.F / SUPPLEMENTED FEATURES): add/start/upload-chunk/finalize/abort,
// bounded by MAX_DOC_BYTES/MAX_CHUNK_BYTES/MAX_CONCURRENT_UPLOADS. Add,
// start, upload-chunk and finalize are gated behind the Draft/Warning-only
// mutation rule; abort is not. Grounded in
// original_source/.../document.rs's chunked-accumulate-then-verify-hash
// shape. Upload admission is a plain count of open sessions against
// MaxConcurrentUploads; no rate limiter is involved.
package document

import (
	"crypto/sha256"
	"fmt"

	"github.com/civkeep/estateguardian/internal/cryptoutil"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/errs"
	"github.com/civkeep/estateguardian/internal/estate"
)

// Defaults match §6's "Limits and constants" table.
const (
	DefaultMaxDocBytes          = 10 * 1024 * 1024
	DefaultMaxChunkBytes        = 512 * 1024
	DefaultMaxConcurrentUploads = 4
)

// Limits lets callers override the compile-time defaults (internal/config).
type Limits struct {
	MaxDocBytes          uint64
	MaxChunkBytes        uint64
	MaxConcurrentUploads int
}

// DefaultLimits returns the spec's documented defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxDocBytes:          DefaultMaxDocBytes,
		MaxChunkBytes:        DefaultMaxChunkBytes,
		MaxConcurrentUploads: DefaultMaxConcurrentUploads,
	}
}

// Engine bundles the master key documents are encrypted under.
type Engine struct {
	MasterKey []byte
	Limits    Limits
}

// AddDocument is add_document: a single-shot path for documents small
// enough to submit whole, skipping the chunked session entirely.
func (e *Engine) AddDocument(u *domain.User, nowSecs uint64, name, mimeType string, plaintext []byte) (*domain.Document, error) {
	if err := estate.RequireMutable(u); err != nil {
		return nil, err
	}
	if uint64(len(plaintext)) > e.Limits.MaxDocBytes {
		return nil, errs.Other("document_too_large")
	}
	ciphertext, err := cryptoutil.EncryptDocument(e.MasterKey, []byte(u.Principal), plaintext)
	if err != nil {
		return nil, errs.EncryptionFailed(err)
	}
	sum := sha256.Sum256(plaintext)

	doc := &domain.Document{
		ID:              u.NextDocumentID,
		Name:            name,
		MimeType:        mimeType,
		Size:            uint64(len(plaintext)),
		Ciphertext:      ciphertext,
		PlaintextSHA256: sum[:],
	}
	u.NextDocumentID++
	u.Documents[doc.ID] = doc
	return doc, nil
}

// StartDocumentUpload opens a chunked upload session, rejecting a new
// session once MaxConcurrentUploads is already in flight.
func (e *Engine) StartDocumentUpload(u *domain.User, name string, expectedSize uint64, expectedHash []byte) (string, error) {
	if err := estate.RequireMutable(u); err != nil {
		return "", err
	}
	if expectedSize > e.Limits.MaxDocBytes {
		return "", errs.Other("document_too_large")
	}
	if len(u.UploadSessions) >= e.Limits.MaxConcurrentUploads {
		return "", errs.Other("too_many_concurrent_uploads")
	}
	uploadID := fmt.Sprintf("upl-%d-%d", u.NextDocumentID, len(u.UploadSessions)+1)
	u.UploadSessions[uploadID] = &domain.UploadSession{
		UploadID:     uploadID,
		Name:         name,
		ExpectedSize: expectedSize,
		ExpectedHash: expectedHash,
	}
	return uploadID, nil
}

// UploadDocumentChunk appends one chunk to an open session, rejecting a
// chunk that exceeds MaxChunkBytes or would push the session past its
// declared expected size (when one was declared) or past MaxDocBytes.
func (e *Engine) UploadDocumentChunk(u *domain.User, uploadID string, chunk []byte) error {
	if err := estate.RequireMutable(u); err != nil {
		return err
	}
	sess, ok := u.UploadSessions[uploadID]
	if !ok {
		return errs.NotFound("upload_session", uploadID)
	}
	if uint64(len(chunk)) > e.Limits.MaxChunkBytes {
		return errs.Other("chunk_too_large")
	}
	if sess.ExpectedSize > 0 && uint64(len(sess.Accumulated)+len(chunk)) > sess.ExpectedSize {
		return errs.Other("document_too_large")
	}
	if uint64(len(sess.Accumulated)+len(chunk)) > e.Limits.MaxDocBytes {
		return errs.Other("document_too_large")
	}
	sess.Accumulated = append(sess.Accumulated, chunk...)
	return nil
}

// FinalizeDocumentUpload closes the session, verifies the optional
// expected SHA-256, encrypts the accumulated plaintext, and records a
// Document. The upload session is removed whether it succeeds or fails
// hash verification, since a failed upload cannot be partially retried.
func (e *Engine) FinalizeDocumentUpload(u *domain.User, nowSecs uint64, uploadID string, mimeType string) (*domain.Document, error) {
	if err := estate.RequireMutable(u); err != nil {
		return nil, err
	}
	sess, ok := u.UploadSessions[uploadID]
	if !ok {
		return nil, errs.NotFound("upload_session", uploadID)
	}
	defer delete(u.UploadSessions, uploadID)

	sum := sha256.Sum256(sess.Accumulated)
	if len(sess.ExpectedHash) > 0 && !cryptoutil.ConstantTimeEqual(sum[:], sess.ExpectedHash) {
		return nil, errs.Other("document_hash_mismatch")
	}

	ciphertext, err := cryptoutil.EncryptDocument(e.MasterKey, []byte(u.Principal), sess.Accumulated)
	if err != nil {
		return nil, errs.EncryptionFailed(err)
	}

	doc := &domain.Document{
		ID:              u.NextDocumentID,
		Name:            sess.Name,
		MimeType:        mimeType,
		Size:            uint64(len(sess.Accumulated)),
		Ciphertext:      ciphertext,
		PlaintextSHA256: sum[:],
	}
	u.NextDocumentID++
	u.Documents[doc.ID] = doc
	return doc, nil
}

// AbortDocumentUpload discards an open session without creating a Document.
func (e *Engine) AbortDocumentUpload(u *domain.User, uploadID string) error {
	if _, ok := u.UploadSessions[uploadID]; !ok {
		return errs.NotFound("upload_session", uploadID)
	}
	delete(u.UploadSessions, uploadID)
	return nil
}

// ListDocuments is list_documents.
func ListDocuments(u *domain.User) []*domain.Document {
	out := make([]*domain.Document, 0, len(u.Documents))
	for _, d := range u.Documents {
		out = append(out, d)
	}
	return out
}

// HeirGetDocument is heir_get_document: per OQ1, authorization stays keyed
// on the owner/caller context rather than the heir's own principal — the
// original's documented "owner-centric for now" policy, kept explicit
// rather than silently changed. callerIsOwner must be true for this call
// to succeed.
func HeirGetDocument(u *domain.User, callerIsOwner bool, docID uint64) (*domain.Document, error) {
	if !callerIsOwner {
		return nil, errs.Forbidden("heir_get_document is owner-keyed, not heir-keyed")
	}
	doc, ok := u.Documents[docID]
	if !ok {
		return nil, errs.NotFound("document", fmt.Sprintf("%d", docID))
	}
	return doc, nil
}

// DecryptDocument decrypts a stored document's ciphertext back to
// plaintext, for a caller who already holds authorization (HeirGetDocument
// or the owner's own read path).
func (e *Engine) DecryptDocument(u *domain.User, doc *domain.Document) ([]byte, error) {
	plaintext, err := cryptoutil.DecryptDocument(e.MasterKey, []byte(u.Principal), doc.Ciphertext)
	if err != nil {
		return nil, errs.DecryptionFailed(err)
	}
	return plaintext, nil
}

