// Package securebuf implements an owned container for secret bytes (keys,
// seeds, decrypted plaintext) whose backing memory is overwritten with zeroes
// before release.
//
// A [Buffer] must not be copied by value: pass it around as a pointer and let
// exactly one owner call [Buffer.Destroy]. Destroy is idempotent, and a
// finalizer calls it for buffers that are dropped without being destroyed.
package securebuf

import (
	"errors"
	"runtime"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrRandom indicates that the random source could not fill the buffer.
var ErrRandom = errors.New("securebuf: cannot generate random bytes")

// wipeBytes overwrites the given slice with zeroes. Tests override it
// to count the number of wipe passes.
var wipeBytes = memguard.WipeBytes

// noCopy lets go vet's copylocks check flag accidental copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Buffer holds secret bytes. The zero value is an empty, destroyed buffer.
type Buffer struct {
	_ noCopy

	buf  []byte
	once sync.Once
}

// New returns a zero-filled buffer of the given size.
func New(size int) *Buffer {
	return track(&Buffer{buf: make([]byte, size)})
}

// FromBytes moves src into a new buffer: the bytes are copied and src is
// wiped, so that the secret only lives in the returned buffer.
func FromBytes(src []byte) *Buffer {
	b := New(len(src))
	copy(b.buf, src)
	wipeBytes(src)
	return b
}

// Wipe overwrites b with zeroes. Use it for transient copies of secrets
// that do not live in a [Buffer].
func Wipe(b []byte) {
	wipeBytes(b)
}

// Random returns a buffer of the given size filled by fill, which is
// expected to be a CSPRNG. A failing fill destroys the buffer.
func Random(size int, fill func([]byte) bool) (*Buffer, error) {
	b := New(size)
	if !fill(b.buf) {
		b.Destroy()
		return nil, ErrRandom
	}
	return b, nil
}

// Scoped allocates a buffer of the given size, passes it to fn and destroys
// it when fn returns, including when fn fails or panics.
func Scoped(size int, fn func(*Buffer) error) error {
	b := New(size)
	defer b.Destroy()
	return fn(b)
}

func track(b *Buffer) *Buffer {
	runtime.SetFinalizer(b, (*Buffer).Destroy)
	return b
}

// Bytes returns the underlying slice. The slice is borrowed: it is only
// valid until Destroy is called, and it must not be retained.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Len returns the length of the buffer.
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Slice returns a borrowed view on buf[from:to].
func (b *Buffer) Slice(from, to int) []byte {
	return b.buf[from:to]
}

// Destroy overwrites the contents with zeroes and releases them. Calling
// Destroy more than once is safe; only the first call wipes.
func (b *Buffer) Destroy() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		if len(b.buf) > 0 {
			wipeBytes(b.buf)
		}
		b.buf = nil
		runtime.SetFinalizer(b, nil)
	})
}

// IsDestroyed returns whether Destroy has been called.
func (b *Buffer) IsDestroyed() bool {
	return b.buf == nil
}
