package datachannel

import (
	"fmt"
	"math"

	"github.com/ooni/ovpndata/internal/model"
	"github.com/ooni/ovpndata/internal/provider"
	"github.com/ooni/ovpndata/internal/replay"
)

// implicitIVSize is the number of bytes of the HMAC slot that complete the
// packet ID into an AEAD nonce.
const implicitIVSize = 8

// keyState is the state bound to one key_id: the keyed contexts, the
// outgoing packet counter and the replay window of incoming packets.
type keyState struct {
	keyID model.KeyID
	keys  *KeyMaterial

	// local encrypts outgoing packets, remote decrypts incoming ones.
	local  provider.Context
	remote provider.Context

	// lastPacketID is the last packet ID we sent. The first one is 1.
	lastPacketID model.PacketID

	replay replay.Protector
}

// newKeyState creates the contexts for keys. On failure, it does not
// destroy keys.
func newKeyState(prov provider.Provider, suite provider.Suite, digest provider.Digest,
	keys *KeyMaterial, window int, keyID model.KeyID) (*keyState, error) {
	if !keys.valid() {
		return nil, fmt.Errorf("%w: destroyed or incomplete key material", ErrBadKeyMaterial)
	}
	protector, err := replay.New(window)
	if err != nil {
		return nil, err
	}
	local, err := prov.NewContext(&provider.ContextConfig{
		Suite:     suite,
		Digest:    digest,
		CipherKey: keys.slot(slotCipherLocal),
		HMACKey:   keys.slot(slotHMACLocal),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProvider, err)
	}
	remote, err := prov.NewContext(&provider.ContextConfig{
		Suite:     suite,
		Digest:    digest,
		CipherKey: keys.slot(slotCipherRemote),
		HMACKey:   keys.slot(slotHMACRemote),
	})
	if err != nil {
		local.Destroy()
		return nil, fmt.Errorf("%w: %s", ErrProvider, err)
	}
	return &keyState{
		keyID:  keyID,
		keys:   keys,
		local:  local,
		remote: remote,
		replay: protector,
	}, nil
}

// nextPacketID returns the packet ID for the next outgoing packet.
func (ks *keyState) nextPacketID() (model.PacketID, error) {
	if ks.lastPacketID == math.MaxUint32 {
		return 0, ErrSequenceExhausted
	}
	ks.lastPacketID++
	return ks.lastPacketID, nil
}

// localImplicitIV returns the implicit IV for outgoing AEAD packets.
func (ks *keyState) localImplicitIV() []byte {
	return ks.keys.slot(slotHMACLocal).Slice(0, implicitIVSize)
}

// remoteImplicitIV returns the implicit IV for incoming AEAD packets.
func (ks *keyState) remoteImplicitIV() []byte {
	return ks.keys.slot(slotHMACRemote).Slice(0, implicitIVSize)
}

// destroy wipes the contexts and the key material and forgets the
// replay window.
func (ks *keyState) destroy() {
	ks.local.Destroy()
	ks.remote.Destroy()
	ks.keys.Destroy()
	ks.replay.Reset()
}
