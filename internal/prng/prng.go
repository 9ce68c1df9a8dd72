// Package prng is the process-wide source of random bytes for the data
// channel (explicit IVs, key sources).
//
// The backend is the operating system CSPRNG. Callers may mix in extra
// entropy with [Source.InitSeed]: the seed keys a ChaCha20 keystream that is
// XORed over the backend output, so the output is never weaker than the
// backend alone and the seed is only ever a supplement.
package prng

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ooni/ovpndata/internal/securebuf"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// ErrEntropyUnavailable means the backend failed its self-check.
var ErrEntropyUnavailable = errors.New("prng: entropy unavailable")

// mixInfo is the HKDF info string for the mixer key.
var mixInfo = []byte("ovpndata prng mixer v1")

// remixAfter is the number of keystream bytes after which the mixer
// derives a fresh key from its own output, well before the 32-bit block
// counter of ChaCha20 wraps.
const remixAfter = 1 << 32

// Source is a thread-safe random source. Construct with [New] or
// [NewWithReader]; there's no teardown.
type Source struct {
	backend io.Reader

	mu    sync.Mutex
	mixer *chacha20.Cipher
	used  uint64
}

// New returns a [Source] backed by crypto/rand.
func New() *Source {
	return NewWithReader(rand.Reader)
}

// NewWithReader returns a [Source] backed by the given reader, which must be
// a CSPRNG safe for concurrent use.
func NewWithReader(r io.Reader) *Source {
	return &Source{backend: r}
}

// InitSeed checks that the backend works, then mixes the seed into the
// generator. The seed is destroyed on every path. An empty or nil seed only
// runs the self-check. Calling InitSeed again re-keys the mixer.
func (s *Source) InitSeed(seed *securebuf.Buffer) error {
	defer seed.Destroy()

	var probe [1]byte
	if _, err := io.ReadFull(s.backend, probe[:]); err != nil {
		return fmt.Errorf("%w: self-check: %s", ErrEntropyUnavailable, err)
	}
	if seed == nil || seed.Len() == 0 {
		return nil
	}

	var salt [32]byte
	if _, err := io.ReadFull(s.backend, salt[:]); err != nil {
		return fmt.Errorf("%w: salt: %s", ErrEntropyUnavailable, err)
	}
	return securebuf.Scoped(chacha20.KeySize+chacha20.NonceSize, func(km *securebuf.Buffer) error {
		kdf := hkdf.New(sha256.New, seed.Bytes(), salt[:], mixInfo)
		if _, err := io.ReadFull(kdf, km.Bytes()); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.rekeyLocked(km.Bytes())
	})
}

// rekeyLocked installs a new mixer from key||nonce material.
func (s *Source) rekeyLocked(km []byte) error {
	mixer, err := chacha20.NewUnauthenticatedCipher(
		km[:chacha20.KeySize], km[chacha20.KeySize:chacha20.KeySize+chacha20.NonceSize])
	if err != nil {
		return err
	}
	s.mixer = mixer
	s.used = 0
	return nil
}

// Fill fills dst with random bytes. It returns false if the backend cannot
// provide randomness, in which case the contents of dst are unspecified.
func (s *Source) Fill(dst []byte) bool {
	if _, err := io.ReadFull(s.backend, dst); err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mixer == nil {
		return true
	}
	if s.used+uint64(len(dst)) >= remixAfter {
		if !s.remixLocked() {
			return false
		}
	}
	s.mixer.XORKeyStream(dst, dst)
	s.used += uint64(len(dst))
	return true
}

// remixLocked derives the next mixer key from the current keystream.
func (s *Source) remixLocked() bool {
	err := securebuf.Scoped(chacha20.KeySize+chacha20.NonceSize, func(km *securebuf.Buffer) error {
		s.mixer.XORKeyStream(km.Bytes(), km.Bytes())
		return s.rekeyLocked(km.Bytes())
	})
	return err == nil
}

// Read implements io.Reader.
func (s *Source) Read(p []byte) (int, error) {
	if !s.Fill(p) {
		return 0, ErrEntropyUnavailable
	}
	return len(p), nil
}

var _ io.Reader = &Source{}
