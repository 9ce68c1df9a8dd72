package provider

//
// Provider backed by the standard library and x/crypto
//

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"errors"
	"fmt"

	"github.com/ooni/ovpndata/internal/prng"
	"github.com/ooni/ovpndata/internal/securebuf"
	"golang.org/x/crypto/chacha20poly1305"
)

// Real is the production [Provider].
type Real struct {
	source *prng.Source
}

var _ Provider = &Real{}

// NewReal returns a [Real] provider drawing randomness from source.
func NewReal(source *prng.Source) *Real {
	return &Real{source: source}
}

// InitSeed implements Provider.
func (r *Real) InitSeed(seed *securebuf.Buffer) error {
	if err := r.source.InitSeed(seed); err != nil {
		if errors.Is(err, prng.ErrEntropyUnavailable) {
			return fmt.Errorf("%w: %s", ErrEntropyUnavailable, err)
		}
		return err
	}
	return nil
}

// Fill implements Provider.
func (r *Real) Fill(dst []byte) bool {
	return r.source.Fill(dst)
}

// NewContext implements Provider.
func (r *Real) NewContext(config *ContextConfig) (Context, error) {
	if _, err := ParseSuite(config.Suite.Name); err != nil {
		return nil, err
	}
	cipherKey, hmacKey, err := config.keyCopies()
	if err != nil {
		return nil, err
	}
	ctx := &realContext{
		suite:     config.Suite,
		digest:    config.Digest,
		cipherKey: cipherKey,
		hmacKey:   hmacKey,
	}
	if err := ctx.init(); err != nil {
		ctx.Destroy()
		return nil, err
	}
	return ctx, nil
}

// realContext implements Context.
type realContext struct {
	suite     Suite
	digest    Digest
	cipherKey *securebuf.Buffer
	hmacKey   *securebuf.Buffer

	// block is set for CBC suites, aead for AEAD suites.
	block cipher.Block
	aead  cipher.AEAD
}

var _ Context = &realContext{}

func (c *realContext) init() error {
	key := c.cipherKey.Bytes()
	switch c.suite.Mode {
	case ModeCBC:
		block, err := aes.NewCipher(key)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidKeySize, err)
		}
		c.block = block
	case ModeGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidKeySize, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return err
		}
		c.aead = aead
	case ModeChaChaPoly:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidKeySize, err)
		}
		c.aead = aead
	default:
		return ErrUnsupportedCipher
	}
	return nil
}

// Suite implements Context.
func (c *realContext) Suite() Suite {
	return c.suite
}

// TagSize implements Context.
func (c *realContext) TagSize() int {
	if c.suite.IsAEAD() {
		return AEADTagSize
	}
	return c.digest.Size
}

// errDestroyed is returned when using a destroyed context.
var errDestroyed = fmt.Errorf("%w: context destroyed", ErrBadInput)

// EncryptRaw implements Context.
func (c *realContext) EncryptRaw(plaintext, iv, aad []byte) ([]byte, []byte, error) {
	if c.block == nil && c.aead == nil {
		return nil, nil, errDestroyed
	}
	if err := checkInput(c.suite, plaintext, iv); err != nil {
		return nil, nil, err
	}
	if c.aead != nil {
		sealed := c.aead.Seal(nil, iv, plaintext, aad)
		return sealed[:len(plaintext)], sealed[len(plaintext):], nil
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ciphertext, plaintext)
	return ciphertext, c.mac(aad, iv, ciphertext), nil
}

// DecryptRaw implements Context.
func (c *realContext) DecryptRaw(ciphertext, iv, aad, tag []byte) ([]byte, error) {
	if c.block == nil && c.aead == nil {
		return nil, errDestroyed
	}
	if c.aead != nil {
		if len(iv) != AEADNonceSize || len(tag) != AEADTagSize {
			return nil, ErrAuthentication
		}
		sealed := make([]byte, 0, len(ciphertext)+len(tag))
		sealed = append(sealed, ciphertext...)
		sealed = append(sealed, tag...)
		plaintext, err := c.aead.Open(nil, iv, sealed, aad)
		if err != nil {
			return nil, ErrAuthentication
		}
		return plaintext, nil
	}
	// encrypt-then-mac: we verify before touching the ciphertext
	if !hmac.Equal(c.mac(aad, iv, ciphertext), tag) {
		return nil, ErrAuthentication
	}
	if err := checkInput(c.suite, ciphertext, iv); err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}

// mac computes HMAC(aad||iv||ciphertext).
func (c *realContext) mac(aad, iv, ciphertext []byte) []byte {
	h := hmac.New(c.digest.New, c.hmacKey.Bytes())
	h.Write(aad)
	h.Write(iv)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// Destroy implements Context.
func (c *realContext) Destroy() {
	c.cipherKey.Destroy()
	c.hmacKey.Destroy()
	c.block = nil
	c.aead = nil
}
