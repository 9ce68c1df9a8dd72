// Package bytesx provides functions operating on bytes.
//
// Specifically we implement these operations:
//
// 1. big-endian integer encoding for the OpenVPN data channel headers;
//
// 2. PKCS#7 padding and unpadding.
package bytesx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/ooni/ovpndata/internal/runtimex"
)

var (
	// ErrPaddingPKCS7 indicates that a PKCS#7 padding error has occurred.
	ErrPaddingPKCS7 = errors.New("PKCS#7 padding error")

	// ErrUnpaddingPKCS7 indicates that a PKCS#7 unpadding error has occurred.
	ErrUnpaddingPKCS7 = errors.New("PKCS#7 unpadding error")
)

// BytesUnpadPKCS7 performs the PKCS#7 unpadding of a byte array. All the
// padding bytes are checked, and the check does not exit early on the first
// mismatching byte.
func BytesUnpadPKCS7(b []byte, blockSize int) ([]byte, error) {
	// 1. check whether we can unpad at all
	if blockSize > math.MaxUint8 {
		return nil, fmt.Errorf("%w: blockSize too large", ErrUnpaddingPKCS7)
	}
	// 2. trivial case
	if len(b) <= 0 {
		return nil, fmt.Errorf("%w: passed empty buffer", ErrUnpaddingPKCS7)
	}
	// 3. read the padding size
	psiz := int(b[len(b)-1])
	// 4. enforce padding size constraints
	if psiz <= 0x00 {
		return nil, fmt.Errorf("%w: padding size cannot be zero", ErrUnpaddingPKCS7)
	}
	if psiz > blockSize || psiz > len(b) {
		return nil, fmt.Errorf("%w: padding size cannot be larger than blockSize", ErrUnpaddingPKCS7)
	}
	// 5. every padding byte must carry the padding size
	var bad byte
	for _, c := range b[len(b)-psiz:] {
		bad |= c ^ byte(psiz)
	}
	if bad != 0 {
		return nil, fmt.Errorf("%w: inconsistent padding", ErrUnpaddingPKCS7)
	}
	// 6. compute the padding offset
	off := len(b) - psiz
	runtimex.Assert(off >= 0 && off <= len(b), "off is out of bounds")
	return b[:off], nil
}

// BytesPadPKCS7 returns the PKCS#7 padding of a byte array.
func BytesPadPKCS7(b []byte, blockSize int) ([]byte, error) {
	runtimex.PanicIfTrue(blockSize <= 0, "blocksize cannot be negative or zero")

	// If lth mod blockSize == 0, then the input gets appended a whole block size
	// See https://datatracker.ietf.org/doc/html/rfc5652#section-6.3
	if blockSize > math.MaxUint8 {
		// This padding method is well defined iff blockSize is less than 256.
		return nil, ErrPaddingPKCS7
	}
	psiz := blockSize - len(b)%blockSize
	padding := bytes.Repeat([]byte{byte(psiz)}, psiz)
	return append(b, padding...), nil
}

// ReadUint32 is a convenience function that reads a uint32 from a 4-byte
// buffer, returning an error if the operation failed.
func ReadUint32(buf *bytes.Buffer) (uint32, error) {
	var numBuf [4]byte
	_, err := io.ReadFull(buf, numBuf[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(numBuf[:]), nil
}

// WriteUint32 is a convenience function that appends to the given buffer
// 4 bytes containing the big-endian representation of the given uint32 value.
// Caller is responsible to ensure the passed value does not overflow the
// maximal capacity of 4 bytes.
func WriteUint32(buf *bytes.Buffer, val uint32) {
	var numBuf [4]byte
	binary.BigEndian.PutUint32(numBuf[:], val)
	buf.Write(numBuf[:])
}

// WriteUint24 is a convenience function that appends to the given buffer
// 3 bytes containing the big-endian representation of the given uint32 value.
// Caller is responsible to ensure the passed value does not overflow the
// maximal capacity of 3 bytes.
func WriteUint24(buf *bytes.Buffer, val uint32) {
	var numBuf [4]byte
	binary.BigEndian.PutUint32(numBuf[:], val)
	buf.Write(numBuf[1:])
}
