package model

//
// Packet
//
// Data channel packet header fields.
//

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ooni/ovpndata/internal/bytesx"
)

// Opcode is an OpenVPN packet opcode.
type Opcode byte

// OpenVPN packets opcodes. The data channel only emits and accepts the
// two data opcodes, but we keep the full table so that we can log what
// we received when it's not a data packet.
const (
	P_CONTROL_HARD_RESET_CLIENT_V1 = Opcode(iota + 1) // 1
	P_CONTROL_HARD_RESET_SERVER_V1                    // 2
	P_CONTROL_SOFT_RESET_V1                           // 3
	P_CONTROL_V1                                      // 4
	P_ACK_V1                                          // 5
	P_DATA_V1                                         // 6
	P_CONTROL_HARD_RESET_CLIENT_V2                    // 7
	P_CONTROL_HARD_RESET_SERVER_V2                    // 8
	P_DATA_V2                                         // 9
)

// String returns the opcode string representation
func (op Opcode) String() string {
	switch op {
	case P_CONTROL_HARD_RESET_CLIENT_V1:
		return "P_CONTROL_HARD_RESET_CLIENT_V1"

	case P_CONTROL_HARD_RESET_SERVER_V1:
		return "P_CONTROL_HARD_RESET_SERVER_V1"

	case P_CONTROL_SOFT_RESET_V1:
		return "P_CONTROL_SOFT_RESET_V1"

	case P_CONTROL_V1:
		return "P_CONTROL_V1"

	case P_ACK_V1:
		return "P_ACK_V1"

	case P_DATA_V1:
		return "P_DATA_V1"

	case P_CONTROL_HARD_RESET_CLIENT_V2:
		return "P_CONTROL_HARD_RESET_CLIENT_V2"

	case P_CONTROL_HARD_RESET_SERVER_V2:
		return "P_CONTROL_HARD_RESET_SERVER_V2"

	case P_DATA_V2:
		return "P_DATA_V2"

	default:
		return "P_UNKNOWN"
	}
}

// IsData returns true when this opcode is a data opcode.
func (op Opcode) IsData() bool {
	switch op {
	case P_DATA_V1, P_DATA_V2:
		return true
	default:
		return false
	}
}

// SessionID is the session identifier. Both session IDs feed the key
// expansion of the data channel keys.
type SessionID [8]byte

// PacketID is a packet identifier.
type PacketID uint32

// PeerID is the type of the P_DATA_V2 peer ID.
type PeerID [3]byte

// MaxPeerID is the largest peer-id that fits into the three bytes of
// the P_DATA_V2 header.
const MaxPeerID = 1<<24 - 1

// NewPeerID encodes the given integer as a [PeerID].
func NewPeerID(v int) (PeerID, error) {
	if v < 0 || v > MaxPeerID {
		return PeerID{}, fmt.Errorf("%w: peer-id out of range: %d", ErrBadConfig, v)
	}
	return PeerID{byte(v >> 16), byte(v >> 8), byte(v)}, nil
}

// Int returns the integer value of the peer-id.
func (p PeerID) Int() int {
	return int(p[0])<<16 | int(p[1])<<8 | int(p[2])
}

// KeyID is the short key_id carried in the lower 3 bits of the first
// packet byte.
type KeyID byte

// MaxKeyID is the largest key_id.
const MaxKeyID = KeyID(7)

// Next returns the key_id to use after a renegotiation. The zero key_id is
// only used for the first key of a session.
func (k KeyID) Next() KeyID {
	if k >= MaxKeyID {
		return 1
	}
	return k + 1
}

// ErrPacketTooShort indicates that a packet is too short.
var ErrPacketTooShort = errors.New("openvpn: packet too short")

// DataHeader is the cleartext header of a data packet.
type DataHeader struct {
	// Opcode is either P_DATA_V1 or P_DATA_V2.
	Opcode Opcode

	// KeyID is the key_id of the key the packet was encrypted with.
	KeyID KeyID

	// PeerID is only present with P_DATA_V2.
	PeerID PeerID
}

// Len returns the length of the serialized header.
func (h *DataHeader) Len() int {
	if h.Opcode == P_DATA_V2 {
		return 4
	}
	return 1
}

// Bytes serializes the header: the opcode in the upper 5 bits and the key_id
// in the lower 3 bits of the first byte, followed by the peer-id for P_DATA_V2.
func (h *DataHeader) Bytes() []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(h.Opcode)<<3 | byte(h.KeyID)&0x07)
	if h.Opcode == P_DATA_V2 {
		bytesx.WriteUint24(buf, uint32(h.PeerID.Int()))
	}
	return buf.Bytes()
}

// ParseDataHeader parses the header of a data packet and returns it along
// with the remaining bytes.
func ParseDataHeader(buf []byte) (*DataHeader, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, ErrPacketTooShort
	}
	h := &DataHeader{
		Opcode: Opcode(buf[0] >> 3),
		KeyID:  KeyID(buf[0] & 0x07),
	}
	switch h.Opcode {
	case P_DATA_V1:
		return h, buf[1:], nil
	case P_DATA_V2:
		if len(buf) < 4 {
			return nil, nil, ErrPacketTooShort
		}
		copy(h.PeerID[:], buf[1:4])
		return h, buf[4:], nil
	default:
		return nil, nil, fmt.Errorf("%w: not a data packet: %s", ErrParsePacket, h.Opcode)
	}
}

// ErrParsePacket is a generic packet parse error which may be further qualified.
var ErrParsePacket = errors.New("openvpn: packet parse error")
