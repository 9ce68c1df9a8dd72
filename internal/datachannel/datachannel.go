package datachannel

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ooni/ovpndata/internal/compress"
	"github.com/ooni/ovpndata/internal/model"
	"github.com/ooni/ovpndata/internal/provider"
	"github.com/ooni/ovpndata/internal/runtimex"
)

// errClosed is returned after Close.
var errClosed = fmt.Errorf("%w: data channel closed", ErrBadKeyMaterial)

// DataChannel encrypts outgoing and decrypts incoming data packets for a
// single session. The zero value is invalid; use [New].
type DataChannel struct {
	logger   model.Logger
	provider provider.Provider
	suite    provider.Suite
	digest   provider.Digest
	codec    *compress.Codec
	opcode   model.Opcode
	peerID   model.PeerID
	window   int

	// state is nil after Close.
	state *keyState

	stats counters
}

// New returns a [DataChannel] configured with the data channel options in
// config, using prov for cryptography and taking ownership of keys, which
// are destroyed when the data channel is closed (or immediately, on error).
// The first key uses key_id 0.
func New(config *model.Config, prov provider.Provider, keys *KeyMaterial) (*DataChannel, error) {
	runtimex.Assert(config != nil, "datachannel: config cannot be nil")
	runtimex.Assert(prov != nil, "datachannel: provider cannot be nil")

	dc, err := newDataChannel(config, prov)
	if err != nil {
		keys.Destroy()
		return nil, err
	}
	state, err := newKeyState(prov, dc.suite, dc.digest, keys, dc.window, 0)
	if err != nil {
		keys.Destroy()
		return nil, err
	}
	dc.state = state

	dc.logger.Info(fmt.Sprintf("Cipher: %s", dc.suite.Name))
	if !dc.suite.IsAEAD() {
		dc.logger.Info(fmt.Sprintf("Auth:   %s", dc.digest.Name))
	}
	dc.logger.Infof("Compression: %s/%s", dc.codec.Framing(), dc.codec.Algorithm())
	return dc, nil
}

func newDataChannel(config *model.Config, prov provider.Provider) (*DataChannel, error) {
	opts := config.DataChannelOptions()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	suite, err := provider.ParseSuite(opts.Cipher)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrBadConfig, err)
	}
	digest, err := provider.ParseDigest(opts.Auth)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrBadConfig, err)
	}
	codec, err := compress.NewFromCompression(opts.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrBadConfig, err)
	}
	dc := &DataChannel{
		logger:   config.Logger(),
		provider: prov,
		suite:    suite,
		digest:   digest,
		codec:    codec,
		opcode:   model.P_DATA_V1,
		window:   opts.ReplayWindow,
	}
	if !opts.PeerID.IsNone() {
		dc.opcode = model.P_DATA_V2
		dc.peerID = opts.PeerID.Unwrap()
	}
	return dc, nil
}

// Rekey replaces the current key with keys, taking ownership of them. The
// new key uses the next key_id and starts with a fresh packet counter and
// replay window. The old key is destroyed only once the new one is ready;
// on failure the old key stays in use and keys are destroyed.
func (d *DataChannel) Rekey(keys *KeyMaterial) error {
	if d.state == nil {
		keys.Destroy()
		return errClosed
	}
	next := d.state.keyID.Next()
	state, err := newKeyState(d.provider, d.suite, d.digest, keys, d.window, next)
	if err != nil {
		keys.Destroy()
		return err
	}
	d.state.destroy()
	d.state = state
	d.logger.Infof("datachannel: new key installed with key_id=%d", next)
	return nil
}

// KeyID returns the key_id of the current key.
func (d *DataChannel) KeyID() model.KeyID {
	if d.state == nil {
		return 0
	}
	return d.state.keyID
}

// Compression returns the negotiated compression framing.
func (d *DataChannel) Compression() compress.Framing {
	return d.codec.Framing()
}

// CompressionAlgorithm returns the compressor plugged into the framing.
func (d *DataChannel) CompressionAlgorithm() compress.Algorithm {
	return d.codec.Algorithm()
}

// Close destroys the key material. Calling Close more than once is safe.
func (d *DataChannel) Close() error {
	if d.state != nil {
		d.state.destroy()
		d.state = nil
	}
	return nil
}

// header returns the header of the packets sent with the current key.
func (d *DataChannel) header() *model.DataHeader {
	return &model.DataHeader{
		Opcode: d.opcode,
		KeyID:  d.state.keyID,
		PeerID: d.peerID,
	}
}

// Stats contains diagnostic counters.
type Stats struct {
	// Encrypted is the number of packets encrypted.
	Encrypted uint64

	// Decrypted is the number of packets decrypted and accepted.
	Decrypted uint64

	// Replayed is the number of authentic packets rejected as replays.
	Replayed uint64

	// AuthFailures is the number of packets that did not verify.
	AuthFailures uint64

	// Malformed is the number of authentic packets we could not deframe.
	Malformed uint64
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "encrypted=%d decrypted=%d ", s.Encrypted, s.Decrypted)
	fmt.Fprintf(&sb, "replayed=%d auth_failures=%d malformed=%d", s.Replayed, s.AuthFailures, s.Malformed)
	return sb.String()
}

type counters struct {
	encrypted    atomic.Uint64
	decrypted    atomic.Uint64
	replayed     atomic.Uint64
	authFailures atomic.Uint64
	malformed    atomic.Uint64
}

// Stats returns a snapshot of the counters. It is safe to call Stats
// concurrently with the other methods.
func (d *DataChannel) Stats() Stats {
	return Stats{
		Encrypted:    d.stats.encrypted.Load(),
		Decrypted:    d.stats.decrypted.Load(),
		Replayed:     d.stats.replayed.Load(),
		AuthFailures: d.stats.authFailures.Load(),
		Malformed:    d.stats.malformed.Load(),
	}
}

// countFailure updates the counters for a failed decryption.
func (d *DataChannel) countFailure(err error) {
	switch {
	case errors.Is(err, ErrReplayed):
		d.stats.replayed.Add(1)
	case errors.Is(err, ErrAuthenticationFailed):
		d.stats.authFailures.Add(1)
	case errors.Is(err, ErrMalformed):
		d.stats.malformed.Add(1)
	}
}
