package provider

//
// Cipher suites and digests
//

import (
	"crypto/sha1" //#nosec G505 -- mandated by the protocol
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"
)

// Mode is a cipher mode.
type Mode int

const (
	// ModeCBC is AES in CBC mode, authenticated with HMAC.
	ModeCBC = Mode(iota)

	// ModeGCM is AES in GCM mode.
	ModeGCM

	// ModeChaChaPoly is ChaCha20-Poly1305.
	ModeChaChaPoly
)

const (
	// AEADTagSize is the tag size of all AEAD suites.
	AEADTagSize = 16

	// AEADNonceSize is the nonce size of all AEAD suites.
	AEADNonceSize = 12

	// aesBlockSize is the AES block size.
	aesBlockSize = 16
)

// Suite describes a data channel cipher.
type Suite struct {
	// Name is the canonical OpenVPN name (e.g., AES-256-GCM).
	Name string

	// Mode is the cipher mode.
	Mode Mode

	// KeySize is the key size in bytes.
	KeySize int
}

// IsAEAD returns whether the suite is an AEAD.
func (s Suite) IsAEAD() bool {
	return s.Mode != ModeCBC
}

// BlockSize returns the size to which CBC plaintext must be padded, or 1
// for AEAD suites.
func (s Suite) BlockSize() int {
	if s.Mode == ModeCBC {
		return aesBlockSize
	}
	return 1
}

// IVSize returns the size of the explicit IV (CBC) or of the nonce (AEAD).
func (s Suite) IVSize() int {
	if s.Mode == ModeCBC {
		return aesBlockSize
	}
	return AEADNonceSize
}

var suites = map[string]Suite{
	"AES-128-CBC":       {"AES-128-CBC", ModeCBC, 16},
	"AES-192-CBC":       {"AES-192-CBC", ModeCBC, 24},
	"AES-256-CBC":       {"AES-256-CBC", ModeCBC, 32},
	"AES-128-GCM":       {"AES-128-GCM", ModeGCM, 16},
	"AES-192-GCM":       {"AES-192-GCM", ModeGCM, 24},
	"AES-256-GCM":       {"AES-256-GCM", ModeGCM, 32},
	"CHACHA20-POLY1305": {"CHACHA20-POLY1305", ModeChaChaPoly, 32},
}

// ParseSuite returns the suite with the given OpenVPN name. Names are
// case insensitive.
func ParseSuite(name string) (Suite, error) {
	s, ok := suites[strings.ToUpper(name)]
	if !ok {
		return Suite{}, fmt.Errorf("%w: %s", ErrUnsupportedCipher, name)
	}
	return s, nil
}

// Digest describes an HMAC digest.
type Digest struct {
	// Name is the canonical OpenVPN name (e.g., SHA256).
	Name string

	// Size is the output size, which is also the size of the HMAC key.
	Size int

	// New constructs the hash.
	New func() hash.Hash
}

// ParseDigest returns the digest with the given OpenVPN name. Names are
// case insensitive.
func ParseDigest(name string) (Digest, error) {
	switch strings.ToUpper(name) {
	case "SHA1":
		return Digest{"SHA1", sha1.Size, sha1.New}, nil
	case "SHA256":
		return Digest{"SHA256", sha256.Size, sha256.New}, nil
	case "SHA512":
		return Digest{"SHA512", sha512.Size, sha512.New}, nil
	default:
		return Digest{}, fmt.Errorf("%w: %s", ErrUnsupportedDigest, name)
	}
}
