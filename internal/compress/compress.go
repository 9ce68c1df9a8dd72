// Package compress implements the compression framing of the OpenVPN data
// channel: the marker byte (or bytes) that precede the payload and tell the
// peer whether, and how, the payload is compressed.
//
// There are four framings:
//
// 1. [Disabled]: no marker at all;
//
// 2. [CompLZO]: the legacy comp-lzo framing, a one-byte prefix;
//
// 3. [Compress]: the "compress" v1 framing, where the marker replaces the
// first payload byte and the first byte is moved to the end ("swap");
//
// 4. [CompressV2]: the "compress" v2 framing, where uncompressed payloads go
// out unchanged unless they start with the v2 indicator byte.
//
// Compression never expands traffic: when the compressor does not shrink
// the payload we send it uncompressed.
package compress

import (
	"errors"
	"fmt"

	"github.com/ooni/ovpndata/internal/model"
)

// ErrMalformed means that we could not deframe an incoming payload.
var ErrMalformed = errors.New("compress: malformed payload")

// ErrUnsupported means that the framing and algorithm cannot be combined.
var ErrUnsupported = errors.New("compress: unsupported combination")

// Framing is the compression framing negotiated for a session.
type Framing int

const (
	// Disabled means no framing.
	Disabled = Framing(iota)

	// CompLZO is the legacy comp-lzo framing.
	CompLZO

	// Compress is the compress v1 framing.
	Compress

	// CompressV2 is the compress v2 framing.
	CompressV2
)

// String implements fmt.Stringer.
func (f Framing) String() string {
	switch f {
	case Disabled:
		return "disabled"
	case CompLZO:
		return "comp-lzo"
	case Compress:
		return "compress"
	case CompressV2:
		return "compress-v2"
	default:
		return "unknown"
	}
}

// Algorithm is the compressor plugged into a framing.
type Algorithm int

const (
	// Stub never compresses.
	Stub = Algorithm(iota)

	// LZO is LZO1X.
	LZO

	// LZ4 is the LZ4 block format.
	LZ4
)

// String implements fmt.Stringer.
func (a Algorithm) String() string {
	switch a {
	case Stub:
		return "stub"
	case LZO:
		return "lzo"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Marker bytes, as defined by OpenVPN.
const (
	noCompressByte     = 0xfa
	noCompressByteSwap = 0xfb
	lzoCompressByte    = 0x66
	lz4CompressByte    = 0x69

	v2IndicatorByte  = 0x50
	v2Uncompressed   = 0x00
	v2LZ4CompressAlg = 0x01
)

// compressThreshold is the minimum payload size worth compressing.
const compressThreshold = 100

// MaxDecompressedSize bounds the output of decompression.
const MaxDecompressedSize = 1 << 16

// Codec frames and deframes payloads. It is stateless and safe for
// concurrent use.
type Codec struct {
	framing   Framing
	algorithm Algorithm
}

// New returns a [Codec] for the given framing and algorithm.
func New(framing Framing, algorithm Algorithm) (*Codec, error) {
	ok := false
	switch framing {
	case Disabled:
		ok = algorithm == Stub
	case CompLZO:
		ok = algorithm == Stub || algorithm == LZO
	case Compress:
		ok = algorithm == Stub || algorithm == LZO || algorithm == LZ4
	case CompressV2:
		ok = algorithm == Stub || algorithm == LZ4
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s with %s", ErrUnsupported, framing, algorithm)
	}
	return &Codec{framing: framing, algorithm: algorithm}, nil
}

// Default returns the codec used by the package-level functions: the
// stub for every framing except CompLZO, which uses LZO.
func Default(framing Framing) *Codec {
	algorithm := Stub
	if framing == CompLZO {
		algorithm = LZO
	}
	return &Codec{framing: framing, algorithm: algorithm}
}

// NewFromCompression maps a configured [model.Compression] to a [Codec].
func NewFromCompression(c model.Compression) (*Codec, error) {
	switch c {
	case model.CompressionNone:
		return New(Disabled, Stub)
	case model.CompressionEmpty, model.CompressionStub:
		return New(Compress, Stub)
	case model.CompressionLZ4:
		return New(Compress, LZ4)
	case model.CompressionStubV2:
		return New(CompressV2, Stub)
	case model.CompressionLZ4V2:
		return New(CompressV2, LZ4)
	case model.CompressionLZONo:
		return New(CompLZO, Stub)
	case model.CompressionLZO, model.CompressionLZOYes:
		// "compress lzo" uses the same prefix framing as comp-lzo
		return New(CompLZO, LZO)
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", ErrUnsupported, c)
	}
}

// Framing returns the framing.
func (c *Codec) Framing() Framing {
	return c.framing
}

// Algorithm returns the algorithm.
func (c *Codec) Algorithm() Algorithm {
	return c.algorithm
}

// FrameOutgoing frames the payload with the default codec for framing.
func FrameOutgoing(framing Framing, payload []byte) []byte {
	return Default(framing).FrameOutgoing(payload)
}

// DeframeIncoming deframes b with the default codec for framing.
func DeframeIncoming(framing Framing, b []byte) ([]byte, error) {
	return Default(framing).DeframeIncoming(b)
}

// FrameOutgoing returns a new slice containing the framed payload. The
// payload is left untouched.
func (c *Codec) FrameOutgoing(payload []byte) []byte {
	if len(payload) == 0 || c.framing == Disabled {
		return append([]byte{}, payload...)
	}
	switch c.framing {
	case CompLZO:
		if out, ok := c.shrink(payload, 1); ok {
			return prepend(lzoCompressByte, out)
		}
		return prepend(noCompressByte, payload)

	case Compress:
		if out, ok := c.shrink(payload, 1); ok {
			return swapIn(c.markerV1(), out)
		}
		return swapIn(noCompressByteSwap, payload)

	default: // CompressV2
		if out, ok := c.shrink(payload, 2); ok {
			return append([]byte{v2IndicatorByte, v2LZ4CompressAlg}, out...)
		}
		if payload[0] != v2IndicatorByte {
			return append([]byte{}, payload...)
		}
		return append([]byte{v2IndicatorByte, v2Uncompressed}, payload...)
	}
}

// markerV1 returns the v1 marker of the configured compressor.
func (c *Codec) markerV1() byte {
	if c.algorithm == LZ4 {
		return lz4CompressByte
	}
	return lzoCompressByte
}

// shrink compresses the payload and returns the result only when it is
// smaller than the payload once the framing overhead is added. Payloads
// larger than MaxDecompressedSize are never compressed, since the peer
// would not be able to decompress them.
func (c *Codec) shrink(payload []byte, overhead int) ([]byte, bool) {
	if c.algorithm == Stub || len(payload) < compressThreshold || len(payload) > MaxDecompressedSize {
		return nil, false
	}
	var (
		out []byte
		err error
	)
	switch c.algorithm {
	case LZO:
		out, err = compressLZO(payload)
	case LZ4:
		out, err = compressLZ4(payload)
	}
	if err != nil || len(out) == 0 || len(out)+overhead > len(payload) {
		return nil, false
	}
	return out, true
}

// DeframeIncoming strips the framing from b and decompresses it if needed.
// It returns a new slice; b is left untouched.
func (c *Codec) DeframeIncoming(b []byte) ([]byte, error) {
	if len(b) == 0 || c.framing == Disabled {
		return append([]byte{}, b...), nil
	}
	switch c.framing {
	case CompLZO:
		marker, body := b[0], b[1:]
		return decompressByMarker(marker, body, noCompressByte)

	case Compress:
		marker, body := swapOut(b)
		return decompressByMarker(marker, body, noCompressByteSwap)

	default: // CompressV2
		if b[0] != v2IndicatorByte {
			return append([]byte{}, b...), nil
		}
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: truncated v2 header", ErrMalformed)
		}
		switch b[1] {
		case v2Uncompressed:
			return append([]byte{}, b[2:]...), nil
		case v2LZ4CompressAlg:
			return decompressLZ4(b[2:])
		default:
			return nil, fmt.Errorf("%w: unknown v2 algorithm 0x%02x", ErrMalformed, b[1])
		}
	}
}

// decompressByMarker handles the v1 and comp-lzo marker values. We decompress
// whatever algorithm the peer used, regardless of our own compressor.
func decompressByMarker(marker byte, body []byte, passthrough byte) ([]byte, error) {
	switch marker {
	case passthrough:
		return append([]byte{}, body...), nil
	case lzoCompressByte:
		return decompressLZO(body)
	case lz4CompressByte:
		if passthrough != noCompressByteSwap {
			break
		}
		return decompressLZ4(body)
	}
	return nil, fmt.Errorf("%w: unknown marker 0x%02x", ErrMalformed, marker)
}

// prepend returns marker||body in a new slice.
func prepend(marker byte, body []byte) []byte {
	out := make([]byte, 0, len(body)+1)
	out = append(out, marker)
	return append(out, body...)
}

// swapIn returns a new slice where the first byte of body is moved to the
// end and the marker takes its place.
func swapIn(marker byte, body []byte) []byte {
	out := make([]byte, 0, len(body)+1)
	out = append(out, marker)
	out = append(out, body[1:]...)
	return append(out, body[0])
}

// swapOut reverses swapIn, returning the marker and a new body slice.
func swapOut(b []byte) (byte, []byte) {
	marker := b[0]
	if len(b) == 1 {
		return marker, []byte{}
	}
	body := make([]byte, 0, len(b)-1)
	body = append(body, b[len(b)-1])
	body = append(body, b[1:len(b)-1]...)
	return marker, body
}
