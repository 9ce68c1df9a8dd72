package datachannel

//
// Functions for encrypting & encoding packets
//

import (
	"bytes"
	"fmt"

	"github.com/ooni/ovpndata/internal/bytesx"
	"github.com/ooni/ovpndata/internal/model"
	"github.com/ooni/ovpndata/internal/securebuf"
)

// packetIDSize is the size of the packet ID on the wire.
const packetIDSize = 4

// Encrypt frames the payload with the negotiated compression, assigns it
// the next packet ID and returns the encrypted frame, header included.
//
// ErrSequenceExhausted and ErrEntropyUnavailable are fatal for the current
// key. The payload is not modified.
func (d *DataChannel) Encrypt(payload []byte) ([]byte, error) {
	if d.state == nil {
		return nil, errClosed
	}
	packetID, err := d.state.nextPacketID()
	if err != nil {
		return nil, err
	}
	framed := d.codec.FrameOutgoing(payload)
	defer securebuf.Wipe(framed)

	var out []byte
	if d.suite.IsAEAD() {
		out, err = d.encryptAEAD(packetID, framed)
	} else {
		out, err = d.encryptCBC(packetID, framed)
	}
	if err != nil {
		return nil, err
	}
	d.stats.encrypted.Add(1)
	return out, nil
}

// encryptAEAD produces:
//
//	[ op|key (1) ][ peer-id (3, V2 only) ][ packet ID (4) ][ tag (16) ][ * payload * ]
//
// The AEAD authenticates op|key|peer-id|packet ID for P_DATA_V2 and only the
// packet ID for P_DATA_V1. The nonce is the packet ID followed by the first 8
// bytes of the local HMAC key, which is otherwise unused by AEAD ciphers.
func (d *DataChannel) encryptAEAD(packetID model.PacketID, framed []byte) ([]byte, error) {
	header := d.header().Bytes()
	pid := packetIDBytes(packetID)
	nonce := aeadNonce(pid, d.state.localImplicitIV())
	ciphertext, tag, err := d.state.local.EncryptRaw(framed, nonce, aeadAAD(d.opcode, header, pid))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProvider, err)
	}
	out := make([]byte, 0, len(header)+packetIDSize+len(tag)+len(ciphertext))
	out = append(out, header...)
	out = append(out, pid...)
	out = append(out, tag...)
	return append(out, ciphertext...), nil
}

// encryptCBC produces:
//
//	[ op|key (1) ][ peer-id (3, V2 only) ][ HMAC ][ IV (16) ][ * packet ID (4) | payload | padding * ]
//
// The HMAC covers IV and ciphertext. The IV is random.
func (d *DataChannel) encryptCBC(packetID model.PacketID, framed []byte) ([]byte, error) {
	plaintext := make([]byte, 0, packetIDSize+len(framed))
	plaintext = append(plaintext, packetIDBytes(packetID)...)
	plaintext = append(plaintext, framed...)
	defer securebuf.Wipe(plaintext)
	padded, err := bytesx.BytesPadPKCS7(plaintext, d.suite.BlockSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProvider, err)
	}
	defer securebuf.Wipe(padded)

	iv := make([]byte, d.suite.IVSize())
	if !d.provider.Fill(iv) {
		return nil, ErrEntropyUnavailable
	}
	ciphertext, mac, err := d.state.local.EncryptRaw(padded, iv, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProvider, err)
	}
	header := d.header().Bytes()
	out := make([]byte, 0, len(header)+len(mac)+len(iv)+len(ciphertext))
	out = append(out, header...)
	out = append(out, mac...)
	out = append(out, iv...)
	return append(out, ciphertext...), nil
}

// packetIDBytes serializes the packet ID in network byte order.
func packetIDBytes(id model.PacketID) []byte {
	buf := &bytes.Buffer{}
	bytesx.WriteUint32(buf, uint32(id))
	return buf.Bytes()
}

// aeadNonce returns packetID||implicitIV.
func aeadNonce(pid, implicitIV []byte) []byte {
	nonce := make([]byte, 0, len(pid)+len(implicitIV))
	nonce = append(nonce, pid...)
	return append(nonce, implicitIV...)
}

// aeadAAD returns the authenticated data of an AEAD packet.
func aeadAAD(opcode model.Opcode, header, pid []byte) []byte {
	if opcode != model.P_DATA_V2 {
		return pid
	}
	aad := make([]byte, 0, len(header)+len(pid))
	aad = append(aad, header...)
	return append(aad, pid...)
}
