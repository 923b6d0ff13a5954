package rosbag

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
)

// Magic is the 13-byte ROS bag v2.0 magic string every bag file begins
// with.
var Magic = []byte("#ROSBAG V2.0\n")

// HeaderPadding is the number of bytes the file header record is padded to.
const HeaderPadding = 4096

// magicLen is the width of the magic string itself; kept distinct from
// HeaderPadding since the two constants mean different things (one is a
// fixed literal, the other a padding target).
const magicLen = 13

// Inspect reads a bag's file header and trailing index region from src,
// returning connections and a time-sorted chunk index. It performs no
// chunk decoding; see package chunkcache for that.
func Inspect(ctx context.Context, src Source) (*BagMetadata, error) {
	headerBuf, err := readHeaderRegion(ctx, src)
	if err != nil {
		return nil, err
	}

	indexPos, connCount, chunkCount, err := parseFileHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	fileLength := src.Length()
	indexBuf, err := src.ReadAt(ctx, int64(indexPos), fileLength-int64(indexPos))
	if err != nil {
		return nil, fmt.Errorf("read index region: %w", err)
	}

	connections, nextOffset, err := RetrieveRecords(indexBuf, int(connCount), 0, int64(indexPos), parseConnectionRecord)
	if err != nil {
		return nil, fmt.Errorf("parse connection records: %w", err)
	}

	chunksInfo, _, err := RetrieveRecords(indexBuf, int(chunkCount), nextOffset, int64(indexPos), parseChunkInfoRecord)
	if err != nil {
		return nil, fmt.Errorf("parse chunk-info records: %w", err)
	}
	if len(chunksInfo) == 0 {
		return nil, ErrEmptyBag
	}

	sortChunkInfos(chunksInfo, fileLength)

	connMap := make(map[uint32]*Connection, len(connections))
	for _, c := range connections {
		connMap[c.Conn] = c
	}

	return &BagMetadata{
		Connections: connMap,
		ChunksInfo:  chunksInfo,
		StartTime:   chunksInfo[0].StartTime,
		EndTime:     chunksInfo[len(chunksInfo)-1].EndTime,
		FileLength:  fileLength,
	}, nil
}

func readHeaderRegion(ctx context.Context, src Source) ([]byte, error) {
	want := int64(HeaderPadding)
	if src.Length() < want {
		want = src.Length()
	}
	buf, err := src.ReadAt(ctx, 0, want)
	if err != nil {
		return nil, fmt.Errorf("read bag header region: %w", err)
	}
	if len(buf) < magicLen || string(buf[:magicLen]) != string(Magic) {
		return nil, ErrInvalidMagic
	}
	if len(buf) < magicLen+8 {
		return nil, ErrTruncatedHeader
	}
	return buf, nil
}

// parseFileHeader parses the file header record at offset magicLen,
// returning index_pos, conn_count and chunk_count from its header fields.
func parseFileHeader(buf []byte) (indexPos uint64, connCount int32, chunkCount int32, err error) {
	headerLength := binary.LittleEndian.Uint32(buf[magicLen : magicLen+4])
	if int64(magicLen)+8+int64(headerLength) > int64(len(buf)) {
		return 0, 0, 0, ErrHeaderTooLarge
	}
	fieldsStart := magicLen + 4
	fields, err := ExtractFields(buf[fieldsStart : fieldsStart+int(headerLength)])
	if err != nil {
		return 0, 0, 0, err
	}

	indexPosBytes, ok := fields["index_pos"]
	if !ok || len(indexPosBytes) < 8 {
		return 0, 0, 0, ErrMissingEquals
	}
	indexPos = binary.LittleEndian.Uint64(indexPosBytes)

	connCountBytes, ok := fields["conn_count"]
	if !ok || len(connCountBytes) < 4 {
		return 0, 0, 0, ErrMissingEquals
	}
	connCount = int32(binary.LittleEndian.Uint32(connCountBytes))

	chunkCountBytes, ok := fields["chunk_count"]
	if !ok || len(chunkCountBytes) < 4 {
		return 0, 0, 0, ErrMissingEquals
	}
	chunkCount = int32(binary.LittleEndian.Uint32(chunkCountBytes))

	return indexPos, connCount, chunkCount, nil
}

func parseConnectionRecord(rec *ShallowRecord) (*Connection, error) {
	connBytes, ok := rec.Header["conn"]
	if !ok || len(connBytes) < 4 {
		return nil, ErrMissingEquals
	}
	conn := binary.LittleEndian.Uint32(connBytes)
	topic := rec.Header.Get("topic")

	dataFields, err := ExtractFields(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("parse connection data fields: %w", err)
	}

	return &Connection{
		Conn:              conn,
		TopicName:         topic,
		MessageType:       dataFields.Get("type"),
		MD5Sum:            dataFields.Get("md5sum"),
		MessageDefinition: dataFields.Get("message_definition"),
	}, nil
}

func parseChunkInfoRecord(rec *ShallowRecord) (*ChunkInfo, error) {
	verBytes, ok := rec.Header["ver"]
	if !ok || len(verBytes) < 4 {
		return nil, ErrMissingEquals
	}
	chunkPosBytes, ok := rec.Header["chunk_pos"]
	if !ok || len(chunkPosBytes) < 8 {
		return nil, ErrMissingEquals
	}
	startBytes, ok := rec.Header["start_time"]
	if !ok || len(startBytes) < 8 {
		return nil, ErrMissingEquals
	}
	endBytes, ok := rec.Header["end_time"]
	if !ok || len(endBytes) < 8 {
		return nil, ErrMissingEquals
	}
	countBytes, ok := rec.Header["count"]
	if !ok || len(countBytes) < 4 {
		return nil, ErrMissingEquals
	}

	count := binary.LittleEndian.Uint32(countBytes)
	perConn := make(map[uint32]uint32, count)
	offset := 0
	for i := uint32(0); i < count; i++ {
		if len(rec.Data)-offset < 8 {
			return nil, &ErrTruncatedRecord{Offset: rec.DataOffset + int64(offset), Want: 8, Have: len(rec.Data) - offset}
		}
		c := binary.LittleEndian.Uint32(rec.Data[offset : offset+4])
		n := binary.LittleEndian.Uint32(rec.Data[offset+4 : offset+8])
		perConn[c] = n
		offset += 8
	}

	return &ChunkInfo{
		Version:       binary.LittleEndian.Uint32(verBytes),
		ChunkPosition: binary.LittleEndian.Uint64(chunkPosBytes),
		StartTime:     parseTimeBytes(startBytes),
		EndTime:       parseTimeBytes(endBytes),
		Count:         binary.LittleEndian.Uint32(countBytes),
		PerConnCounts: perConn,
	}, nil
}

func parseTimeBytes(b []byte) Time {
	return Time{
		Sec:  binary.LittleEndian.Uint32(b[0:4]),
		Nsec: binary.LittleEndian.Uint32(b[4:8]),
	}
}

// sortChunkInfos stably sorts chunks by StartTime, then assigns Idx and
// NextChunkPosition in sorted order.
func sortChunkInfos(chunks []*ChunkInfo, fileLength int64) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return Compare(chunks[i].StartTime, chunks[j].StartTime) < 0
	})
	for i, c := range chunks {
		c.Idx = i
		if i+1 < len(chunks) {
			c.NextChunkPosition = chunks[i+1].ChunkPosition
		} else {
			c.NextChunkPosition = uint64(fileLength)
		}
	}
}
