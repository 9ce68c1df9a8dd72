package datachannel

//
// Functions for decoding & decrypting packets
//

import (
	"bytes"
	"fmt"

	"github.com/ooni/ovpndata/internal/bytesx"
	"github.com/ooni/ovpndata/internal/model"
	"github.com/ooni/ovpndata/internal/provider"
	"github.com/ooni/ovpndata/internal/securebuf"
)

// Decrypt verifies and decrypts a frame produced by the peer's Encrypt,
// header included, and returns the payload with the compression framing
// removed.
//
// Any frame that does not verify fails with ErrAuthenticationFailed,
// whatever the reason (wrong key, corrupted bytes, truncation, unexpected
// header). Authentic frames may still fail with ErrReplayed or ErrMalformed.
// These errors only concern the packet at hand.
func (d *DataChannel) Decrypt(frame []byte) ([]byte, error) {
	if d.state == nil {
		return nil, errClosed
	}
	payload, err := d.decrypt(frame)
	if err != nil {
		d.countFailure(err)
		d.logger.Debugf("datachannel: dropping packet: %s", err)
		return nil, err
	}
	d.stats.decrypted.Add(1)
	return payload, nil
}

func (d *DataChannel) decrypt(frame []byte) ([]byte, error) {
	expected := d.header()
	header := expected.Bytes()
	headerOK := false
	h, body, err := model.ParseDataHeader(frame)
	if err == nil {
		headerOK = h.Opcode == expected.Opcode && h.KeyID == expected.KeyID
		header = frame[:h.Len()]
	}

	var (
		plaintext []byte
		packetID  model.PacketID
	)
	if d.suite.IsAEAD() {
		plaintext, packetID, err = d.openAEAD(header, body)
	} else {
		plaintext, packetID, err = d.openCBC(body)
	}
	if err != nil || !headerOK {
		securebuf.Wipe(plaintext)
		return nil, ErrAuthenticationFailed
	}

	staged := securebuf.FromBytes(plaintext)
	defer staged.Destroy()

	if !d.state.replay.Accept(packetID) {
		return nil, fmt.Errorf("%w: packet id %d", ErrReplayed, packetID)
	}
	payload, err := d.codec.DeframeIncoming(staged.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return payload, nil
}

// openAEAD decodes and decrypts the body of an AEAD frame:
//
//	[ packet ID (4) ][ tag (16) ][ * payload * ]
//
// and returns the plaintext and the packet ID.
func (d *DataChannel) openAEAD(header, body []byte) ([]byte, model.PacketID, error) {
	buf, complete := padTo(body, packetIDSize+provider.AEADTagSize)
	pid := buf[:packetIDSize]
	tag := buf[packetIDSize : packetIDSize+provider.AEADTagSize]
	ciphertext := buf[packetIDSize+provider.AEADTagSize:]

	nonce := aeadNonce(pid, d.state.remoteImplicitIV())
	plaintext, err := d.state.remote.DecryptRaw(ciphertext, nonce, aeadAAD(d.opcode, header, pid), tag)
	if err != nil {
		return nil, 0, err
	}
	if !complete {
		return plaintext, 0, ErrAuthenticationFailed
	}
	return plaintext, readPacketID(pid), nil
}

// openCBC verifies the HMAC and decrypts the body of a CBC frame:
//
//	[ HMAC ][ IV (16) ][ * packet ID (4) | payload | padding * ]
//
// and returns the plaintext and the packet ID.
func (d *DataChannel) openCBC(body []byte) ([]byte, model.PacketID, error) {
	macSize := d.state.remote.TagSize()
	ivSize := d.suite.IVSize()
	buf, complete := padTo(body, macSize+ivSize+d.suite.BlockSize())
	mac := buf[:macSize]
	iv := buf[macSize : macSize+ivSize]
	ciphertext := buf[macSize+ivSize:]

	padded, err := d.state.remote.DecryptRaw(ciphertext, iv, nil, mac)
	if err != nil {
		return nil, 0, err
	}
	if !complete {
		return padded, 0, ErrAuthenticationFailed
	}
	plaintext, err := bytesx.BytesUnpadPKCS7(padded, d.suite.BlockSize())
	if err != nil || len(plaintext) < packetIDSize {
		return padded, 0, ErrAuthenticationFailed
	}
	return plaintext[packetIDSize:], readPacketID(plaintext[:packetIDSize]), nil
}

// padTo returns b when it has at least n bytes. Otherwise it returns a zero
// padded copy of length n and false, so that a truncated frame goes through
// the same verification work as a complete one before being rejected.
func padTo(b []byte, n int) ([]byte, bool) {
	if len(b) >= n {
		return b, true
	}
	out := make([]byte, n)
	copy(out, b)
	return out, false
}

// readPacketID parses a 4-byte packet ID.
func readPacketID(b []byte) model.PacketID {
	id, _ := bytesx.ReadUint32(bytes.NewBuffer(b))
	return model.PacketID(id)
}
