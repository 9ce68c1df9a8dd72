// Package vpntest provides utilities for data channel testing.
package vpntest

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/ooni/ovpndata/internal/model"
)

// ICMPEcho describes an ICMP echo request carried inside an IPv4 packet, the
// kind of traffic a tunnel typically carries.
type ICMPEcho struct {
	// Src is the source address.
	Src net.IP

	// Dst is the destination address.
	Dst net.IP

	// ID is the ICMP identifier.
	ID uint16

	// Seq is the ICMP sequence number.
	Seq uint16

	// TTL is the IPv4 time to live.
	TTL uint8

	// Payload is the ICMP payload.
	Payload []byte
}

// Serialize crafts the IPv4 packet, using the gopacket library.
func (e *ICMPEcho) Serialize() ([]byte, error) {
	ip := &layers.IPv4{}
	ip.Version = 4
	ip.Protocol = layers.IPProtocolICMPv4
	ip.SrcIP = e.Src.To4()
	ip.DstIP = e.Dst.To4()
	ip.TTL = e.TTL

	icmp := &layers.ICMPv4{}
	icmp.TypeCode = layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)
	icmp.Id = e.ID
	icmp.Seq = e.Seq

	opts := gopacket.SerializeOptions{}
	opts.ComputeChecksums = true
	opts.FixLengths = true

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, opts, ip, icmp, gopacket.Payload(e.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ErrNotICMPEcho means that the packet is not an IPv4 ICMP echo.
var ErrNotICMPEcho = errors.New("vpntest: not an ICMP echo packet")

// ParseICMPEcho parses a packet produced by [ICMPEcho.Serialize].
func ParseICMPEcho(data []byte) (*ICMPEcho, error) {
	ip := layers.IPv4{}
	icmp := layers.ICMPv4{}
	payload := gopacket.Payload{}
	decoded := []gopacket.LayerType{}
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, &ip, &icmp, &payload)

	if err := parser.DecodeLayers(data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotICMPEcho, err)
	}
	if len(decoded) < 2 || decoded[1] != layers.LayerTypeICMPv4 {
		return nil, ErrNotICMPEcho
	}
	return &ICMPEcho{
		Src:     ip.SrcIP,
		Dst:     ip.DstIP,
		ID:      icmp.Id,
		Seq:     icmp.Seq,
		TTL:     ip.TTL,
		Payload: append([]byte{}, payload.Payload()...),
	}, nil
}

// NewICMPEchoSequence returns count serialized echo requests from src to dst
// with sequence numbers starting at 1 and a payload of the given size.
func NewICMPEchoSequence(src, dst string, count, size int) ([][]byte, error) {
	out := make([][]byte, 0, count)
	for i := 1; i <= count; i++ {
		payload := make([]byte, size)
		for j := range payload {
			payload[j] = byte(i + j)
		}
		echo := &ICMPEcho{
			Src:     net.ParseIP(src),
			Dst:     net.ParseIP(dst),
			ID:      0x4242,
			Seq:     uint16(i),
			TTL:     64,
			Payload: payload,
		}
		data, err := echo.Serialize()
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

var rangePattern = regexp.MustCompile(`^\[(\d+)\.\.(\d+)\]$`)

// ExpandPacketIDs parses a compact notation for packet ID sequences, as in
// "5 3 [10..12] 1000", which expands to 5, 3, 10, 11, 12, 1000.
func ExpandPacketIDs(s string) ([]model.PacketID, error) {
	ids := []model.PacketID{}
	for _, item := range strings.Fields(s) {
		if m := rangePattern.FindStringSubmatch(item); m != nil {
			from, err := parsePacketID(m[1])
			if err != nil {
				return nil, err
			}
			to, err := parsePacketID(m[2])
			if err != nil {
				return nil, err
			}
			if from > to {
				return nil, fmt.Errorf("vpntest: invalid range %s", item)
			}
			for id := uint64(from); id <= uint64(to); id++ {
				ids = append(ids, model.PacketID(id))
			}
			continue
		}
		id, err := parsePacketID(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parsePacketID(s string) (model.PacketID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("vpntest: invalid packet id %q: %w", s, err)
	}
	return model.PacketID(v), nil
}
