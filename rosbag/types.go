package rosbag

import "context"

// Connection describes one logical topic stream: a topic name, a message
// type, and the message-definition text needed to compile a schema for it.
type Connection struct {
	Conn              uint32
	TopicName         string
	MessageType       string
	MD5Sum            string
	MessageDefinition string
}

// ChunkInfo describes one chunk's position and time span, after
// time-sorting across the whole file.
type ChunkInfo struct {
	Version           uint32
	ChunkPosition     uint64
	StartTime         Time
	EndTime           Time
	Count             uint32
	PerConnCounts     map[uint32]uint32
	Idx               int
	NextChunkPosition uint64
}

// IndexDataMsg is one message pointer from a chunk's embedded index: a
// timestamp plus an offset into the decompressed chunk data region.
type IndexDataMsg struct {
	ReceivedTime  Time
	MsgDataOffset uint32
}

// RosbagMessage is one decoded message ready for delivery to a consumer.
type RosbagMessage struct {
	Topic string
	Time  Time
	Data  map[string]any
}

// BagMetadata is the read-only result of inspecting a bag file: its
// connections and time-sorted chunk index.
type BagMetadata struct {
	Connections map[uint32]*Connection
	ChunksInfo  []*ChunkInfo
	StartTime   Time
	EndTime     Time
	FileLength  int64
}

// Source is the random-access byte source a Bag reads from. It is the
// external collaborator spec.md describes as out of scope for the core
// ("a file abstraction providing length() and read(offset, length) ->
// bytes"); this interface and FileSource are included so the module is
// runnable end to end.
type Source interface {
	// Length returns the total size of the underlying data in bytes.
	Length() int64
	// ReadAt returns exactly length bytes starting at offset, or an error.
	ReadAt(ctx context.Context, offset int64, length int64) ([]byte, error)
}
