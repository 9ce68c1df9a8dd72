// Package provider binds the data channel to a cryptographic backend.
//
// A [Provider] seeds the random generator and creates keyed [Context]
// values that perform raw encryption and decryption. There are two
// implementations with the same geometry: [NewReal], backed by the standard
// library and x/crypto, and [NewMock], which performs deterministic,
// non-secure transformations so that the framing and sequencing logic of the
// data channel can be tested in isolation.
package provider

import (
	"errors"

	"github.com/ooni/ovpndata/internal/securebuf"
)

var (
	// ErrAuthentication means that a tag or HMAC did not verify.
	ErrAuthentication = errors.New("provider: authentication failed")

	// ErrUnsupportedCipher means that we do not know the cipher.
	ErrUnsupportedCipher = errors.New("provider: unsupported cipher")

	// ErrUnsupportedDigest means that we do not know the digest.
	ErrUnsupportedDigest = errors.New("provider: unsupported digest")

	// ErrInvalidKeySize means that the key material is too short.
	ErrInvalidKeySize = errors.New("provider: invalid key size")

	// ErrBadInput means that the IV or the ciphertext have the wrong size.
	ErrBadInput = errors.New("provider: bad input")

	// ErrEntropyUnavailable means that the random backend is not healthy.
	ErrEntropyUnavailable = errors.New("provider: entropy unavailable")
)

// Provider is a cryptographic backend.
type Provider interface {
	// InitSeed checks the random backend and mixes in the seed, which is
	// destroyed on every path.
	InitSeed(seed *securebuf.Buffer) error

	// Fill fills dst with random bytes and returns false on failure.
	Fill(dst []byte) bool

	// NewContext returns a keyed context. The context copies the key bytes
	// it needs; the caller keeps ownership of the buffers in config.
	NewContext(config *ContextConfig) (Context, error)
}

// Context is a keyed cipher instance. A Context is not safe for concurrent use.
type Context interface {
	// Suite returns the cipher suite.
	Suite() Suite

	// TagSize returns the size of the tag returned by EncryptRaw: the AEAD
	// tag for AEAD suites and the HMAC size for CBC suites.
	TagSize() int

	// EncryptRaw encrypts plaintext using the given IV (or nonce) and
	// additional data. For CBC suites the plaintext must already be padded
	// to the block size and the tag is the HMAC of aad||iv||ciphertext.
	EncryptRaw(plaintext, iv, aad []byte) (ciphertext, tag []byte, err error)

	// DecryptRaw verifies the tag in constant time and, only if it
	// verifies, decrypts. For CBC suites the returned plaintext is still
	// padded. Every verification failure returns [ErrAuthentication].
	DecryptRaw(ciphertext, iv, aad, tag []byte) ([]byte, error)

	// Destroy wipes the key copies. It is safe to call more than once.
	Destroy()
}

// ContextConfig configures a [Context].
type ContextConfig struct {
	// Suite is the cipher suite.
	Suite Suite

	// Digest is the HMAC digest, only used by CBC suites.
	Digest Digest

	// CipherKey holds at least Suite.KeySize bytes.
	CipherKey *securebuf.Buffer

	// HMACKey holds at least Digest.Size bytes for CBC suites.
	HMACKey *securebuf.Buffer
}

// keyCopies validates the config and returns owned copies of the portions
// of the key slots used by the suite.
func (c *ContextConfig) keyCopies() (cipherKey, hmacKey *securebuf.Buffer, err error) {
	if c.CipherKey == nil || c.CipherKey.Len() < c.Suite.KeySize {
		return nil, nil, ErrInvalidKeySize
	}
	cipherKey = securebuf.New(c.Suite.KeySize)
	copy(cipherKey.Bytes(), c.CipherKey.Bytes())
	if c.Suite.IsAEAD() {
		return cipherKey, nil, nil
	}
	if c.Digest.New == nil {
		cipherKey.Destroy()
		return nil, nil, ErrUnsupportedDigest
	}
	if c.HMACKey == nil || c.HMACKey.Len() < c.Digest.Size {
		cipherKey.Destroy()
		return nil, nil, ErrInvalidKeySize
	}
	hmacKey = securebuf.New(c.Digest.Size)
	copy(hmacKey.Bytes(), c.HMACKey.Bytes())
	return cipherKey, hmacKey, nil
}

// checkInput validates the IV and the data size against the suite.
func checkInput(s Suite, data, iv []byte) error {
	if len(iv) != s.IVSize() {
		return ErrBadInput
	}
	if !s.IsAEAD() && len(data)%s.BlockSize() != 0 {
		return ErrBadInput
	}
	return nil
}
