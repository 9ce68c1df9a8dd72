// Package datachannel implements packet encryption and decryption over the
// OpenVPN data channel.
//
// A [DataChannel] owns the key material negotiated over the control channel
// and turns tunnel payloads into P_DATA_V1 or P_DATA_V2 frames: it applies the
// negotiated compression framing, assigns a fresh packet ID and seals the
// result. On receipt it verifies the frame before looking at anything else,
// rejects replayed packet IDs and removes the compression framing.
//
// Keys have a limited lifetime: [DataChannel.Rekey] installs new key
// material under the next key_id, and the packet ID space of a key is
// exhausted after 2^32-1 packets.
//
// A DataChannel serves a single session and is not safe for concurrent use.
package datachannel
