package document

import (
	"bytes"
	"testing"

	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine() *Engine {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 3)
	}
	return &Engine{MasterKey: key, Limits: DefaultLimits()}
}

func TestAddDocumentEncryptsAndStores(t *testing.T) {
	e := testEngine()
	u := domain.NewUser("owner-1")

	doc, err := e.AddDocument(u, 100, "will.pdf", "application/pdf", []byte("last will and testament"))
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Ciphertext)
	assert.NotEqual(t, []byte("last will and testament"), doc.Ciphertext)
	assert.Equal(t, uint64(1), doc.ID)
	assert.Equal(t, u.Documents[1], doc)
}

func TestAddDocumentRejectsOversize(t *testing.T) {
	e := testEngine()
	e.Limits.MaxDocBytes = 4
	u := domain.NewUser("owner-1")

	_, err := e.AddDocument(u, 100, "x", "text/plain", []byte("too big"))
	assert.Error(t, err)
}

func TestAddDocumentRejectsWhenNotMutable(t *testing.T) {
	e := testEngine()
	u := domain.NewUser("owner-1")
	u.Phase = domain.PhaseLocked

	_, err := e.AddDocument(u, 100, "x", "text/plain", []byte("data"))
	assert.Error(t, err)
}

func TestStartDocumentUploadRejectsTooManyConcurrent(t *testing.T) {
	e := testEngine()
	e.Limits.MaxConcurrentUploads = 1
	u := domain.NewUser("owner-1")

	_, err := e.StartDocumentUpload(u, "a", 100, nil)
	require.NoError(t, err)

	_, err = e.StartDocumentUpload(u, "b", 100, nil)
	assert.Error(t, err)
}

func TestStartDocumentUploadRejectsOversizedExpectedSize(t *testing.T) {
	e := testEngine()
	e.Limits.MaxDocBytes = 10
	u := domain.NewUser("owner-1")

	_, err := e.StartDocumentUpload(u, "a", 100, nil)
	assert.Error(t, err)
}

func TestChunkedUploadLifecycleRoundTrip(t *testing.T) {
	e := testEngine()
	u := domain.NewUser("owner-1")

	plaintext := []byte("chunked document contents")
	uploadID, err := e.StartDocumentUpload(u, "doc.txt", uint64(len(plaintext)), nil)
	require.NoError(t, err)

	require.NoError(t, e.UploadDocumentChunk(u, uploadID, plaintext[:10]))
	require.NoError(t, e.UploadDocumentChunk(u, uploadID, plaintext[10:]))

	doc, err := e.FinalizeDocumentUpload(u, 200, uploadID, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(plaintext)), doc.Size)
	_, stillOpen := u.UploadSessions[uploadID]
	assert.False(t, stillOpen)
}

func TestUploadDocumentChunkRejectsOversizedChunk(t *testing.T) {
	e := testEngine()
	e.Limits.MaxChunkBytes = 4
	u := domain.NewUser("owner-1")
	uploadID, err := e.StartDocumentUpload(u, "doc.txt", 100, nil)
	require.NoError(t, err)

	err = e.UploadDocumentChunk(u, uploadID, []byte("too many bytes"))
	assert.Error(t, err)
}

func TestUploadDocumentChunkRejectsExceedingDeclaredTotal(t *testing.T) {
	e := testEngine()
	e.Limits.MaxDocBytes = 5
	u := domain.NewUser("owner-1")
	uploadID, err := e.StartDocumentUpload(u, "doc.txt", 5, nil)
	require.NoError(t, err)

	err = e.UploadDocumentChunk(u, uploadID, []byte("way too long for the cap"))
	assert.Error(t, err)
}

func TestUploadDocumentChunkRejectsUnknownSession(t *testing.T) {
	e := testEngine()
	u := domain.NewUser("owner-1")
	err := e.UploadDocumentChunk(u, "ghost", []byte("x"))
	assert.Error(t, err)
}

func TestFinalizeDocumentUploadRejectsHashMismatchAndDropsSession(t *testing.T) {
	e := testEngine()
	u := domain.NewUser("owner-1")
	uploadID, err := e.StartDocumentUpload(u, "doc.txt", 100, bytes.Repeat([]byte{0xAB}, 32))
	require.NoError(t, err)
	require.NoError(t, e.UploadDocumentChunk(u, uploadID, []byte("actual contents")))

	_, err = e.FinalizeDocumentUpload(u, 200, uploadID, "text/plain")
	assert.Error(t, err)
	_, stillOpen := u.UploadSessions[uploadID]
	assert.False(t, stillOpen) // dropped even on failure; cannot be retried
}

func TestAbortDocumentUploadDiscardsSession(t *testing.T) {
	e := testEngine()
	u := domain.NewUser("owner-1")
	uploadID, err := e.StartDocumentUpload(u, "doc.txt", 100, nil)
	require.NoError(t, err)

	require.NoError(t, e.AbortDocumentUpload(u, uploadID))
	_, ok := u.UploadSessions[uploadID]
	assert.False(t, ok)

	err = e.AbortDocumentUpload(u, uploadID)
	assert.Error(t, err)
}

func TestListDocumentsReturnsAll(t *testing.T) {
	e := testEngine()
	u := domain.NewUser("owner-1")
	_, err := e.AddDocument(u, 100, "a", "text/plain", []byte("one"))
	require.NoError(t, err)
	_, err = e.AddDocument(u, 100, "b", "text/plain", []byte("two"))
	require.NoError(t, err)

	assert.Len(t, ListDocuments(u), 2)
}

func TestHeirGetDocumentIsOwnerKeyedOnly(t *testing.T) {
	e := testEngine()
	u := domain.NewUser("owner-1")
	doc, err := e.AddDocument(u, 100, "a", "text/plain", []byte("secret"))
	require.NoError(t, err)

	_, err = HeirGetDocument(u, false, doc.ID)
	assert.Error(t, err)

	got, err := HeirGetDocument(u, true, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestHeirGetDocumentNotFound(t *testing.T) {
	u := domain.NewUser("owner-1")
	_, err := HeirGetDocument(u, true, 999)
	assert.Error(t, err)
}

func TestDecryptDocumentRoundTrip(t *testing.T) {
	e := testEngine()
	u := domain.NewUser("owner-1")
	plaintext := []byte("decrypt me")
	doc, err := e.AddDocument(u, 100, "a", "text/plain", plaintext)
	require.NoError(t, err)

	out, err := e.DecryptDocument(u, doc)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}
