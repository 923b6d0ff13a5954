package chunkcache

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadastih/rosbag-rx/rosbag"
)

type memSource struct {
	buf []byte
}

func (m *memSource) Length() int64 { return int64(len(m.buf)) }

func (m *memSource) ReadAt(_ context.Context, offset int64, length int64) ([]byte, error) {
	end := offset + length
	if end > int64(len(m.buf)) {
		end = int64(len(m.buf))
	}
	return m.buf[offset:end], nil
}

func field(name, value string) []byte {
	entry := name + "=" + value
	out := make([]byte, 4, 4+len(entry))
	binary.LittleEndian.PutUint32(out, uint32(len(entry)))
	return append(out, entry...)
}

func fieldBytes(name string, value []byte) []byte {
	entry := append([]byte(name+"="), value...)
	out := make([]byte, 4, 4+len(entry))
	binary.LittleEndian.PutUint32(out, uint32(len(entry)))
	return append(out, entry...)
}

func record(header, data []byte) []byte {
	out := make([]byte, 0, 4+len(header)+4+len(data))
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(header)))
	out = append(out, lenBuf...)
	out = append(out, header...)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	out = append(out, lenBuf...)
	out = append(out, data...)
	return out
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func timeBytes8(sec, nsec uint32) []byte {
	return append(u32(sec), u32(nsec)...)
}

func TestReadChunkDecodesSortsAndCaches(t *testing.T) {
	connections := map[uint32]*rosbag.Connection{
		0: {Conn: 0, TopicName: "/a", MessageType: "foo", MessageDefinition: "int32 x\n"},
		1: {Conn: 1, TopicName: "/b", MessageType: "bar", MessageDefinition: "string y\n"},
	}

	// message records, in encounter (unsorted) order within the
	// decompressed chunk data.
	msgA := record(append(append([]byte{}, fieldBytes("conn", u32(0))...), fieldBytes("time", timeBytes8(1, 0))...), u32(42))
	hiBytes := append(u32(2), []byte("hi")...)
	msgB := record(append(append([]byte{}, fieldBytes("conn", u32(1))...), fieldBytes("time", timeBytes8(0, 500_000_000))...), hiBytes)
	msgC := record(append(append([]byte{}, fieldBytes("conn", u32(0))...), fieldBytes("time", timeBytes8(2, 0))...), u32(7))

	decompressed := append(append(append([]byte{}, msgA...), msgB...), msgC...)
	offsetA := 0
	offsetB := len(msgA)
	offsetC := len(msgA) + len(msgB)

	chunkHeader := append(append([]byte{}, field("compression", "none")...), fieldBytes("size", u32(uint32(len(decompressed))))...)
	chunkRecord := record(chunkHeader, decompressed)

	idx0Header := append(append(append([]byte{}, fieldBytes("ver", u32(1))...), fieldBytes("conn", u32(0))...), fieldBytes("count", u32(2))...)
	idx0Data := append(append([]byte{}, timeBytes8(1, 0)...), u32(uint32(offsetA))...)
	idx0Data = append(idx0Data, timeBytes8(2, 0)...)
	idx0Data = append(idx0Data, u32(uint32(offsetC))...)
	indexRecConn0 := record(idx0Header, idx0Data)

	idx1Header := append(append(append([]byte{}, fieldBytes("ver", u32(1))...), fieldBytes("conn", u32(1))...), fieldBytes("count", u32(1))...)
	idx1Data := append(append([]byte{}, timeBytes8(0, 500_000_000)...), u32(uint32(offsetB))...)
	indexRecConn1 := record(idx1Header, idx1Data)

	chunkPosition := int64(1000)
	raw := append(append(append([]byte{}, chunkRecord...), indexRecConn0...), indexRecConn1...)

	buf := make([]byte, chunkPosition)
	buf = append(buf, raw...)
	src := &memSource{buf: buf}

	info := &rosbag.ChunkInfo{
		Idx:               0,
		ChunkPosition:     uint64(chunkPosition),
		NextChunkPosition: uint64(len(buf)),
		StartTime:         rosbag.Time{0, 500_000_000},
		EndTime:           rosbag.Time{2, 0},
		PerConnCounts:     map[uint32]uint32{0: 2, 1: 1},
	}

	dec := NewDecoder(src, nil)
	messages, err := dec.ReadChunk(context.Background(), info, connections)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	assert.Equal(t, "/b", messages[0].Topic)
	assert.Equal(t, rosbag.Time{0, 500_000_000}, messages[0].Time)
	assert.Equal(t, "hi", messages[0].Data["y"])

	assert.Equal(t, "/a", messages[1].Topic)
	assert.Equal(t, rosbag.Time{1, 0}, messages[1].Time)
	assert.Equal(t, int32(42), messages[1].Data["x"])

	assert.Equal(t, "/a", messages[2].Topic)
	assert.Equal(t, rosbag.Time{2, 0}, messages[2].Time)
	assert.Equal(t, int32(7), messages[2].Data["x"])

	assert.True(t, dec.IsCached(0))
	assert.Equal(t, int64(len(raw)), dec.CachedBytes())

	// second read is served from cache without touching the source.
	messages2, err := dec.ReadChunk(context.Background(), info, connections)
	require.NoError(t, err)
	assert.Equal(t, messages, messages2)
}

func TestReadChunkSkipsUnknownConnection(t *testing.T) {
	connections := map[uint32]*rosbag.Connection{
		0: {Conn: 0, TopicName: "/a", MessageType: "foo", MessageDefinition: "int32 x\n"},
	}

	msgUnknown := record(append(append([]byte{}, fieldBytes("conn", u32(9))...), fieldBytes("time", timeBytes8(1, 0))...), u32(1))
	msgKnown := record(append(append([]byte{}, fieldBytes("conn", u32(0))...), fieldBytes("time", timeBytes8(2, 0))...), u32(5))
	decompressed := append(append([]byte{}, msgUnknown...), msgKnown...)

	chunkHeader := append(append([]byte{}, field("compression", "none")...), fieldBytes("size", u32(uint32(len(decompressed))))...)
	chunkRecord := record(chunkHeader, decompressed)

	idxHeader := append(append(append([]byte{}, fieldBytes("ver", u32(1))...), fieldBytes("conn", u32(0))...), fieldBytes("count", u32(2))...)
	idxData := append(append([]byte{}, timeBytes8(1, 0)...), u32(0)...)
	idxData = append(idxData, timeBytes8(2, 0)...)
	idxData = append(idxData, u32(uint32(len(msgUnknown)))...)
	idxRecord := record(idxHeader, idxData)

	raw := append(append([]byte{}, chunkRecord...), idxRecord...)
	src := &memSource{buf: raw}

	info := &rosbag.ChunkInfo{
		Idx:               0,
		ChunkPosition:     0,
		NextChunkPosition: uint64(len(raw)),
		PerConnCounts:     map[uint32]uint32{0: 1, 9: 1},
	}

	dec := NewDecoder(src, nil)
	messages, err := dec.ReadChunk(context.Background(), info, connections)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "/a", messages[0].Topic)
	assert.Equal(t, int32(5), messages[0].Data["x"])
}
