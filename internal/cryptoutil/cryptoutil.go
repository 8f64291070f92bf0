// Package cryptoutil provides the primitives the estate guardian needs:
// salted secret hashing, constant-time comparison, document envelope
// encryption, and subaccount derivation for custody/escrow bookkeeping.
package cryptoutil

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersionPrefix = "v1:"
	// documentAAD binds ciphertext to its purpose, preventing a document
	// blob from being replayed as some other AEAD-protected value.
	documentAAD = "DOC"
	saltSize    = 16
)

// HashSecretWithSalt derives a verifier for a shared secret. The salt is
// generated fresh per heir and stored alongside the hash; verification
// never needs the plaintext secret at rest.
func HashSecretWithSalt(secret string) (hash []byte, salt []byte, err error) {
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("read salt: %w", err)
	}
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(secret))
	return h.Sum(nil), salt, nil
}

// VerifySecret recomputes the salted hash and compares in constant time.
func VerifySecret(secret string, salt, wantHash []byte) bool {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(secret))
	got := h.Sum(nil)
	return ConstantTimeEqual(got, wantHash)
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information about where they first differ.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func deriveKey(masterKey, subject []byte, info string) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}
	mac := hmac.New(sha256.New, masterKey)
	_, _ = mac.Write([]byte(info))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write(subject)
	return mac.Sum(nil), nil
}

// EncryptDocument seals plaintext document bytes with a key derived from
// masterKey and the owning principal, using XChaCha20-Poly1305. The output
// is base64url-encoded and so ASCII-safe (`v1:` + base64url(nonce|ciphertext)).
func EncryptDocument(masterKey, principal []byte, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}

	key, err := deriveKey(masterKey, principal, "document")
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(documentAAD))

	buf := make([]byte, 0, len(nonce)+len(ciphertext))
	buf = append(buf, nonce...)
	buf = append(buf, ciphertext...)

	return []byte(envelopeVersionPrefix + base64.RawURLEncoding.EncodeToString(buf)), nil
}

// DecryptDocument reverses EncryptDocument.
func DecryptDocument(masterKey, principal []byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}

	encoded := strings.TrimPrefix(strings.TrimSpace(string(ciphertext)), envelopeVersionPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	key, err := deriveKey(masterKey, principal, "document")
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := raw[:aead.NonceSize()]
	body := raw[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, body, []byte(documentAAD))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// DeriveCustodySubaccount derives a stable 32-byte subaccount identifier
// for holding one heir's share of custodied assets, so the ledger
// capability can segregate per-heir balances without a central table.
// Keyed by heir, not asset: a heir's custody subaccount holds every asset
// released into custody on their behalf.
func DeriveCustodySubaccount(masterKey []byte, principal []byte, heirID uint64) ([]byte, error) {
	return deriveKey(masterKey, principal, fmt.Sprintf("custody:%d", heirID))
}

// DeriveEscrowSubaccount derives the subaccount used to hold funds pledged
// in escrow against a locked asset.
func DeriveEscrowSubaccount(masterKey []byte, principal []byte, assetID uint64) ([]byte, error) {
	return deriveKey(masterKey, principal, fmt.Sprintf("escrow:%d", assetID))
}
