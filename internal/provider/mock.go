package provider

//
// Deterministic provider for tests. DO NOT USE to protect real traffic.
//

import (
	"crypto/subtle"
	"hash/fnv"
	"sync"

	"github.com/ooni/ovpndata/internal/securebuf"
)

// Mock is a deterministic [Provider]. Its contexts XOR the data with a
// keystream derived from the key and the IV, and authenticate with a
// non-cryptographic FNV-128a tag. Fill returns a counter sequence.
type Mock struct {
	mu        sync.Mutex
	counter   byte
	unhealthy bool
	seeds     int
}

var _ Provider = &Mock{}

// MockOption configures a [Mock].
type MockOption func(m *Mock)

// MockUnhealthy simulates a random backend that fails its self-check: the
// InitSeed and Fill methods fail.
func MockUnhealthy(m *Mock) {
	m.unhealthy = true
}

// NewMock returns a new [Mock].
func NewMock(options ...MockOption) *Mock {
	m := &Mock{}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// InitSeed implements Provider.
func (m *Mock) InitSeed(seed *securebuf.Buffer) error {
	defer seed.Destroy()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unhealthy {
		return ErrEntropyUnavailable
	}
	m.seeds++
	return nil
}

// Seeds returns how many times InitSeed succeeded.
func (m *Mock) Seeds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seeds
}

// Fill implements Provider.
func (m *Mock) Fill(dst []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unhealthy {
		return false
	}
	for i := range dst {
		m.counter++
		dst[i] = m.counter
	}
	return true
}

// NewContext implements Provider.
func (m *Mock) NewContext(config *ContextConfig) (Context, error) {
	if _, err := ParseSuite(config.Suite.Name); err != nil {
		return nil, err
	}
	cipherKey, hmacKey, err := config.keyCopies()
	if err != nil {
		return nil, err
	}
	ctx := &mockContext{
		suite:     config.Suite,
		cipherKey: cipherKey,
		hmacKey:   hmacKey,
		tagSize:   AEADTagSize,
	}
	if !config.Suite.IsAEAD() {
		ctx.tagSize = config.Digest.Size
	}
	return ctx, nil
}

// mockContext implements Context.
type mockContext struct {
	suite     Suite
	cipherKey *securebuf.Buffer
	hmacKey   *securebuf.Buffer
	tagSize   int
}

var _ Context = &mockContext{}

// Suite implements Context.
func (c *mockContext) Suite() Suite {
	return c.suite
}

// TagSize implements Context.
func (c *mockContext) TagSize() int {
	return c.tagSize
}

// EncryptRaw implements Context.
func (c *mockContext) EncryptRaw(plaintext, iv, aad []byte) ([]byte, []byte, error) {
	if c.cipherKey.IsDestroyed() {
		return nil, nil, errDestroyed
	}
	if err := checkInput(c.suite, plaintext, iv); err != nil {
		return nil, nil, err
	}
	ciphertext := c.xor(plaintext, iv)
	return ciphertext, c.tag(aad, iv, ciphertext), nil
}

// DecryptRaw implements Context.
func (c *mockContext) DecryptRaw(ciphertext, iv, aad, tag []byte) ([]byte, error) {
	if c.cipherKey.IsDestroyed() {
		return nil, errDestroyed
	}
	if subtle.ConstantTimeCompare(c.tag(aad, iv, ciphertext), tag) != 1 {
		return nil, ErrAuthentication
	}
	if err := checkInput(c.suite, ciphertext, iv); err != nil {
		return nil, err
	}
	return c.xor(ciphertext, iv), nil
}

// xor applies the keystream key[i] ^ iv[i] ^ i.
func (c *mockContext) xor(data, iv []byte) []byte {
	key := c.cipherKey.Bytes()
	out := make([]byte, len(data))
	for i, b := range data {
		k := key[i%len(key)] ^ byte(i)
		if len(iv) > 0 {
			k ^= iv[i%len(iv)]
		}
		out[i] = b ^ k
	}
	return out
}

// tag chains FNV-128a blocks over key||aad||iv||ciphertext until it has
// tagSize bytes.
func (c *mockContext) tag(aad, iv, ciphertext []byte) []byte {
	key := c.cipherKey
	if c.hmacKey != nil {
		key = c.hmacKey
	}
	out := make([]byte, 0, c.tagSize+16)
	for block := byte(0); len(out) < c.tagSize; block++ {
		h := fnv.New128a()
		h.Write([]byte{block})
		h.Write(key.Bytes())
		h.Write(aad)
		h.Write(iv)
		h.Write(ciphertext)
		out = h.Sum(out)
	}
	return out[:c.tagSize]
}

// Destroy implements Context.
func (c *mockContext) Destroy() {
	c.cipherKey.Destroy()
	c.hmacKey.Destroy()
}
