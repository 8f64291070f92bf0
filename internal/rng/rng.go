// Package rng provides a process-wide CSPRNG used for claim-link numeric
// codes and retry jitter (link IDs are plain counters). It is reseeded from the host entropy source
// periodically rather than read from crypto/rand on every call, matching
// the spec's "keystream fed by host entropy, periodically reseeded" design.
package rng

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// reseedAfter bounds how much keystream is drawn from one seed before a
// fresh one is pulled from host entropy.
const reseedAfter = 64 * 1024

// Source is a reseeding ChaCha20 keystream CSPRNG. Safe for concurrent use.
type Source struct {
	mu       sync.Mutex
	cipher   *chacha20.Cipher
	consumed int
}

// NewSource constructs a Source seeded from host entropy.
func NewSource() (*Source, error) {
	s := &Source{}
	if err := s.reseedLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) reseedLocked() error {
	var key [chacha20.KeySize]byte
	var nonce [chacha20.NonceSize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("read nonce: %w", err)
	}
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return fmt.Errorf("new cipher: %w", err)
	}
	s.cipher = c
	s.consumed = 0
	return nil
}

// Fill writes len(dst) pseudo-random bytes into dst, reseeding as needed.
func (s *Source) Fill(dst []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := len(dst)
	offset := 0
	for remaining > 0 {
		if s.consumed >= reseedAfter {
			if err := s.reseedLocked(); err != nil {
				return err
			}
		}
		chunk := remaining
		if chunk > reseedAfter-s.consumed {
			chunk = reseedAfter - s.consumed
		}
		zeros := make([]byte, chunk)
		s.cipher.XORKeyStream(dst[offset:offset+chunk], zeros)
		s.consumed += chunk
		offset += chunk
		remaining -= chunk
	}
	return nil
}

// FillAsync mirrors Fill; the interface is synchronous today, but exists
// so callers that model entropy refill as a potentially async host call
// (per the spec's external-entropy-source framing) have a stable seam to
// swap in a blocking fetch without changing call sites.
func (s *Source) FillAsync(dst []byte) error { return s.Fill(dst) }

// TryUint64 draws a uniformly distributed uint64 via rejection sampling
// against bound (exclusive upper bound), avoiding modulo bias.
func (s *Source) TryUint64(bound uint64) (uint64, error) {
	if bound == 0 {
		return 0, fmt.Errorf("bound must be positive")
	}
	limit := (^uint64(0)) - (^uint64(0))%bound
	for {
		var buf [8]byte
		if err := s.Fill(buf[:]); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return v % bound, nil
		}
	}
}

// NumericCode draws a digits-length decimal code, e.g. for a claim-link
// confirmation code, using rejection sampling per digit.
func (s *Source) NumericCode(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("digits must be positive")
	}
	out := make([]byte, digits)
	for i := 0; i < digits; i++ {
		v, err := s.TryUint64(10)
		if err != nil {
			return "", err
		}
		out[i] = byte('0') + byte(v)
	}
	return string(out), nil
}
