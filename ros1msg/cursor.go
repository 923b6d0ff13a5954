package ros1msg

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ziadastih/rosbag-rx/rosbag"
)

// cursor is a forward-only read position over a message's byte payload.
// Field reads are pure over the cursor: nothing outside it is mutated, so
// concurrent decodes of distinct messages never share state (see
// SPEC_FULL.md §5).
type cursor struct {
	buf    []byte
	offset int
}

func (c *cursor) take(n int) ([]byte, error) {
	if len(c.buf)-c.offset < n {
		return nil, fmt.Errorf("short buffer: need %d bytes, have %d", n, len(c.buf)-c.offset)
	}
	b := c.buf[c.offset : c.offset+n]
	c.offset += n
	return b, nil
}

func readBool(c *cursor) (any, error) {
	b, err := c.take(1)
	if err != nil {
		return nil, err
	}
	return b[0] != 0, nil
}

func readInt8(c *cursor) (any, error) {
	b, err := c.take(1)
	if err != nil {
		return nil, err
	}
	return int8(b[0]), nil
}

func readUint8(c *cursor) (any, error) {
	b, err := c.take(1)
	if err != nil {
		return nil, err
	}
	return uint8(b[0]), nil
}

func readInt16(c *cursor) (any, error) {
	b, err := c.take(2)
	if err != nil {
		return nil, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func readUint16(c *cursor) (any, error) {
	b, err := c.take(2)
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func readInt32(c *cursor) (any, error) {
	b, err := c.take(4)
	if err != nil {
		return nil, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func readUint32(c *cursor) (any, error) {
	b, err := c.take(4)
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// readInt64 and readUint64 preserve full 64-bit range using Go's native
// integer types, per SPEC_FULL.md §4.4 (the teacher's source narrows
// 64-bit values to float64, losing precision above 2^53; this is called
// out as a latent bug in spec.md §9 and deliberately not repeated here).
func readInt64(c *cursor) (any, error) {
	b, err := c.take(8)
	if err != nil {
		return nil, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func readUint64(c *cursor) (any, error) {
	b, err := c.take(8)
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func readFloat32(c *cursor) (any, error) {
	b, err := c.take(4)
	if err != nil {
		return nil, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func readFloat64(c *cursor) (any, error) {
	b, err := c.take(8)
	if err != nil {
		return nil, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func readString(c *cursor) (any, error) {
	lenBytes, err := c.take(4)
	if err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint32(lenBytes))
	strBytes, err := c.take(length)
	if err != nil {
		return nil, err
	}
	return string(strBytes), nil
}

func readTime(c *cursor) (any, error) {
	b, err := c.take(8)
	if err != nil {
		return nil, err
	}
	return rosbag.Time{
		Sec:  binary.LittleEndian.Uint32(b[0:4]),
		Nsec: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

func readJSON(c *cursor) (any, error) {
	return nil, nil
}

// primitiveReaders dispatches by normalized key_type for fields that are
// not arrays, constants or nested-type references.
var primitiveReaders = map[string]func(*cursor) (any, error){
	"bool":     readBool,
	"int8":     readInt8,
	"byte":     readInt8,
	"uint8":    readUint8,
	"char":     readUint8,
	"int16":    readInt16,
	"uint16":   readUint16,
	"int32":    readInt32,
	"uint32":   readUint32,
	"int64":    readInt64,
	"uint64":   readUint64,
	"float32":  readFloat32,
	"float64":  readFloat64,
	"string":   readString,
	"time":     readTime,
	"duration": readTime,
	"json":     readJSON,
}
