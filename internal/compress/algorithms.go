package compress

//
// Compressors
//

import (
	"bytes"
	"fmt"

	"github.com/pierrec/lz4/v4"
	lzo "github.com/rasky/go-lzo"
)

// compressLZO compresses with LZO1X-1, the algorithm used by comp-lzo.
func compressLZO(payload []byte) ([]byte, error) {
	return lzo.Compress1X(payload), nil
}

// decompressLZO decompresses an LZO1X stream.
func decompressLZO(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty lzo stream", ErrMalformed)
	}
	out, err := lzo.Decompress1X(bytes.NewReader(body), len(body), 2*len(body))
	if err != nil {
		return nil, fmt.Errorf("%w: lzo: %s", ErrMalformed, err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, fmt.Errorf("%w: lzo: output too large", ErrMalformed)
	}
	return out, nil
}

// compressLZ4 compresses into a raw LZ4 block (no frame header), as
// OpenVPN does. It returns an empty slice when the
// payload is not compressible.
func compressLZ4(payload []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(payload)))
	n, err := lz4.CompressBlock(payload, dst, nil)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// decompressLZ4 decompresses a raw LZ4 block.
func decompressLZ4(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty lz4 block", ErrMalformed)
	}
	dst := make([]byte, MaxDecompressedSize)
	n, err := lz4.UncompressBlock(body, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %s", ErrMalformed, err)
	}
	return dst[:n], nil
}
