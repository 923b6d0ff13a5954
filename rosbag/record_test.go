package rosbag

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lengthPrefixed(entries ...string) []byte {
	var out []byte
	for _, e := range entries {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e)))
		out = append(out, lenBuf[:]...)
		out = append(out, e...)
	}
	return out
}

func TestExtractFields(t *testing.T) {
	buf := lengthPrefixed("a=hello", "b=xy ")
	fields, err := ExtractFields(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", fields.Get("a"))
	assert.Equal(t, "xy ", fields.Get("b"))
}

func TestExtractFieldsMissingEquals(t *testing.T) {
	buf := lengthPrefixed("nosep")
	_, err := ExtractFields(buf)
	assert.ErrorIs(t, err, ErrMissingEquals)
}

func TestExtractFieldsRoundTrip(t *testing.T) {
	fields := Fields{
		"topic": []byte("/imu/data"),
		"conn":  []byte{0x01, 0x00, 0x00, 0x00},
	}
	order := []string{"topic", "conn"}
	buf := serializeFields(order, fields)
	got, err := ExtractFields(buf)
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

// buildRecord constructs one hlen|header|dlen|data record envelope.
func buildRecord(header []byte, data []byte) []byte {
	var out []byte
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(header)))
	out = append(out, lenBuf[:]...)
	out = append(out, header...)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	out = append(out, lenBuf[:]...)
	out = append(out, data...)
	return out
}

func TestShallowRead(t *testing.T) {
	header := lengthPrefixed("op=\x02", "conn=\x00\x00\x00\x00")
	data := []byte("payload")
	buf := buildRecord(header, data)

	rec, err := ShallowRead(buf, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.RecordOffset)
	assert.Equal(t, int64(len(buf)), rec.RecordLength)
	assert.Equal(t, int64(100+4+len(header)+4), rec.DataOffset)
	assert.Equal(t, "payload", string(rec.Data))
	assert.Equal(t, "\x02", rec.Header.Get("op"))
}

func TestRetrieveRecords(t *testing.T) {
	rec1 := buildRecord(lengthPrefixed("n=1"), []byte("aa"))
	rec2 := buildRecord(lengthPrefixed("n=2"), []byte("bbb"))
	buf := append(append([]byte{}, rec1...), rec2...)

	type out struct{ n string }
	values, next, err := RetrieveRecords(buf, 2, 0, 0, func(rec *ShallowRecord) (out, error) {
		return out{n: rec.Header.Get("n")}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "1", values[0].n)
	assert.Equal(t, "2", values[1].n)
	assert.Equal(t, len(buf), next)
}
