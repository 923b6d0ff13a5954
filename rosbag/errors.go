package rosbag

import (
	"errors"
	"fmt"
)

// ErrInvalidMagic indicates the file does not begin with the ROS bag v2.0
// magic string.
var ErrInvalidMagic = errors.New("invalid rosbag magic")

// ErrTruncatedHeader indicates the file is shorter than the minimum header
// envelope requires.
var ErrTruncatedHeader = errors.New("truncated bag header")

// ErrHeaderTooLarge indicates the declared header length does not fit
// within the buffer available to read it from.
var ErrHeaderTooLarge = errors.New("bag header length exceeds available buffer")

// ErrMissingEquals indicates a record header field had no "=" separator.
var ErrMissingEquals = errors.New("record header field missing '=' separator")

// ErrDecompression indicates a registered decompressor failed to produce
// the declared uncompressed size.
var ErrDecompression = errors.New("chunk decompression failed")

// ErrEmptyBag indicates a file with a zero chunk count, which this
// implementation rejects rather than synthesizing sentinel times (see
// DESIGN.md Open Question: empty-bag behavior).
var ErrEmptyBag = errors.New("bag has no chunks")

// ErrUnsupportedCompression is returned when a chunk declares a compression
// tag with no registered decompressor.
type ErrUnsupportedCompression struct {
	Tag string
}

func (e *ErrUnsupportedCompression) Error() string {
	return fmt.Sprintf("unsupported compression: %q", e.Tag)
}

func (e *ErrUnsupportedCompression) Is(target error) bool {
	_, ok := target.(*ErrUnsupportedCompression)
	return ok
}

// ErrTruncatedRecord indicates a record's declared length ran past the end
// of the buffer it was read from.
type ErrTruncatedRecord struct {
	Offset int64
	Want   int
	Have   int
}

func (e *ErrTruncatedRecord) Error() string {
	return fmt.Sprintf("truncated record at offset %d: wanted %d bytes, had %d", e.Offset, e.Want, e.Have)
}

func (e *ErrTruncatedRecord) Is(target error) bool {
	_, ok := target.(*ErrTruncatedRecord)
	return ok
}
