package rosbag

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Decompressor turns a compressed chunk payload into exactly
// uncompressedSize bytes of decompressed chunk data.
type Decompressor func(compressed []byte, uncompressedSize uint32) ([]byte, error)

// decompressors is the compression-tag dispatch table. It is a plain map,
// not a registration function, so adding a codec is a one-line addition;
// only "none" and "lz4" are wired per this spec's Non-goals.
var decompressors = map[string]Decompressor{
	"none": decompressNone,
	"lz4":  decompressLZ4,
}

// Decompress dispatches to the decompressor registered for tag, failing
// with ErrUnsupportedCompression if none is registered.
func Decompress(tag string, compressed []byte, uncompressedSize uint32) ([]byte, error) {
	fn, ok := decompressors[tag]
	if !ok {
		return nil, &ErrUnsupportedCompression{Tag: tag}
	}
	return fn(compressed, uncompressedSize)
}

func decompressNone(compressed []byte, uncompressedSize uint32) ([]byte, error) {
	return compressed, nil
}

// decompressLZ4 uses the LZ4 frame reader, matching how bag2mcap.go's
// per-chunk compression dispatch wraps chunk bytes in an lz4.Reader rather
// than calling the block-level codec directly.
func decompressLZ4(compressed []byte, uncompressedSize uint32) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(compressed))
	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, &ErrDecompressionDetail{Cause: err}
	}
	return out, nil
}

// ErrDecompressionDetail wraps a codec-specific decompression failure.
type ErrDecompressionDetail struct {
	Cause error
}

func (e *ErrDecompressionDetail) Error() string {
	return "chunk decompression failed: " + e.Cause.Error()
}

func (e *ErrDecompressionDetail) Unwrap() error {
	return ErrDecompression
}
