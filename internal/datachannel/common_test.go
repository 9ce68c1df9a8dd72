package datachannel

import (
	"testing"

	"github.com/ooni/ovpndata/internal/model"
	"github.com/ooni/ovpndata/internal/optional"
	"github.com/ooni/ovpndata/internal/prng"
	"github.com/ooni/ovpndata/internal/provider"
)

// makeTestingExpansion returns a key expansion where each slot is filled
// with a distinct byte, starting from first.
func makeTestingExpansion(first byte) []byte {
	out := make([]byte, keyExpansionSize)
	for i := range out {
		out[i] = first + byte(i/KeySlotSize)
	}
	return out
}

func makeTestingKeyMaterial(t *testing.T, first byte) *KeyMaterial {
	t.Helper()
	km, err := NewKeyMaterial(makeTestingExpansion(first))
	if err != nil {
		t.Fatal(err)
	}
	return km
}

func makeTestingOptions(cipher string, compress model.Compression, peerID optional.Value[model.PeerID]) *model.DataChannelOptions {
	opts := model.NewDataChannelOptions(cipher)
	opts.Auth = "SHA256"
	opts.Compress = compress
	opts.PeerID = peerID
	return opts
}

func makeTestingConfig(opts *model.DataChannelOptions) *model.Config {
	return model.NewConfig(
		model.WithDataChannelOptions(opts),
		model.WithLogger(model.NewTestLogger()),
	)
}

// makeTestingPair returns a client and a server data channel sharing
// mirrored key material (0x65..0x68 slots for the client).
func makeTestingPair(t *testing.T, prov provider.Provider, opts *model.DataChannelOptions) (*DataChannel, *DataChannel) {
	t.Helper()
	km := makeTestingKeyMaterial(t, 0x65)
	inverse := km.Inverse()
	client, err := New(makeTestingConfig(opts), prov, km)
	if err != nil {
		t.Fatal(err)
	}
	server, err := New(makeTestingConfig(opts), prov, inverse)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func testingProviders() map[string]provider.Provider {
	return map[string]provider.Provider{
		"mock": provider.NewMock(),
		"real": provider.NewReal(prng.New()),
	}
}

func testingCiphers() []string {
	return model.SupportedCiphers
}

// fixedFillProvider wraps a provider and makes Fill deterministic.
type fixedFillProvider struct {
	provider.Provider
	value byte
}

func (p *fixedFillProvider) Fill(dst []byte) bool {
	for i := range dst {
		dst[i] = p.value
	}
	return true
}

// failingFillProvider wraps a provider and makes Fill fail.
type failingFillProvider struct {
	provider.Provider
}

func (p *failingFillProvider) Fill(dst []byte) bool {
	return false
}

var (
	noPeerID   = optional.None[model.PeerID]()
	somePeerID = optional.Some(model.PeerID{0x00, 0x00, 0x2a})
)
