// Package replay implements the anti-replay check of the data channel: a
// sliding window over the packet IDs that we have already accepted.
//
// The window has bounded memory. Packet IDs that fall below the window
// floor are rejected even if we never saw them, which is the same trade-off
// that OpenVPN makes for out-of-order UDP delivery.
//
// Protectors are not safe for concurrent use: the caller processes the
// incoming packets of a session one at a time.
package replay

import (
	"errors"
	"fmt"

	"github.com/ooni/ovpndata/internal/model"
	"github.com/ooni/ovpndata/internal/optional"
	"golang.zx2c4.com/wireguard/replay"
)

// ErrWindowSize means that the requested window size is not supported.
var ErrWindowSize = errors.New("replay: unsupported window size")

// Protector accepts or rejects incoming packet IDs.
type Protector interface {
	// Accept returns true if the id has not been seen before and is not
	// too old, and records it as seen.
	Accept(id model.PacketID) bool

	// Reset forgets everything.
	Reset()
}

const (
	// SmallWindow is the default window size.
	SmallWindow = 64

	// LargeWindow is the largest size backed by a bitmask [Window].
	LargeWindow = 128

	// WideWindow is the size of the window used for sizes above LargeWindow.
	WideWindow = model.MaxReplayWindow
)

// New returns a [Protector] for the given window size. Sizes up to
// [LargeWindow] get a bitmask [Window]; sizes up to [WideWindow] get a
// wide filter whose effective size is always [WideWindow].
func New(size int) (Protector, error) {
	switch {
	case size > 0 && size <= LargeWindow:
		return NewWindow(size)
	case size > LargeWindow && size <= WideWindow:
		return &wideFilter{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrWindowSize, size)
	}
}

// Window is a bitmask sliding window. Bit i of the mask records whether
// highest-i was seen; bit 0 is the highest accepted id itself.
type Window struct {
	highest optional.Value[model.PacketID]
	mask    [2]uint64
	size    uint64
}

var _ Protector = &Window{}

// NewWindow returns a [Window] tracking the given number of packet IDs
// (at most [LargeWindow]).
func NewWindow(size int) (*Window, error) {
	if size <= 0 || size > LargeWindow {
		return nil, fmt.Errorf("%w: %d", ErrWindowSize, size)
	}
	return &Window{
		highest: optional.None[model.PacketID](),
		size:    uint64(size),
	}, nil
}

// Accept implements Protector.
func (w *Window) Accept(id model.PacketID) bool {
	if w.highest.IsNone() {
		w.highest = optional.Some(id)
		w.mask = [2]uint64{1, 0}
		return true
	}
	highest := w.highest.Unwrap()
	switch {
	case id > highest:
		w.shift(uint64(id - highest))
		w.mask[0] |= 1
		w.highest = optional.Some(id)
		return true

	default:
		diff := uint64(highest - id)
		if diff >= w.size {
			// below the window floor
			return false
		}
		word, bit := diff/64, uint64(1)<<(diff%64)
		if w.mask[word]&bit != 0 {
			return false
		}
		w.mask[word] |= bit
		return true
	}
}

// shift moves the window forward by n positions. Bits only ever move
// towards older positions, so stale bits beyond the window size are never
// consulted again.
func (w *Window) shift(n uint64) {
	if n >= w.size {
		w.mask = [2]uint64{}
		return
	}
	if n >= 64 {
		w.mask[1] = w.mask[0] << (n - 64)
		w.mask[0] = 0
	} else {
		w.mask[1] = w.mask[1]<<n | w.mask[0]>>(64-n)
		w.mask[0] <<= n
	}
}

// Reset implements Protector.
func (w *Window) Reset() {
	w.highest = optional.None[model.PacketID]()
	w.mask = [2]uint64{}
}

// Size returns the number of ids tracked by the window.
func (w *Window) Size() int {
	return int(w.size)
}

// wideFilter adapts the wireguard replay filter, which tracks the last
// [WideWindow] counters in a ring of bitmask blocks.
type wideFilter struct {
	filter replay.Filter
}

// counterLimit rejects counters that do not fit into a packet ID.
const counterLimit = uint64(1) << 32

// Accept implements Protector.
func (f *wideFilter) Accept(id model.PacketID) bool {
	return f.filter.ValidateCounter(uint64(id), counterLimit)
}

// Reset implements Protector.
func (f *wideFilter) Reset() {
	f.filter.Reset()
}
