package rosbag

import (
	"bytes"
	"encoding/binary"
)

// Fields is a name -> raw value mapping extracted from a record's header or
// data blob. Names are unique within a record; iteration order is not
// meaningful.
type Fields map[string][]byte

// Get returns the string value of a field, or "" if absent.
func (f Fields) Get(name string) string {
	v, ok := f[name]
	if !ok {
		return ""
	}
	return string(v)
}

// ExtractFields parses a concatenation of `len:u32 | name "=" value` entries
// into a Fields map. It fails with ErrMissingEquals if any entry lacks a
// '=' separator, and with ErrTruncatedRecord if a declared entry length
// runs past the end of buf.
func ExtractFields(buf []byte) (Fields, error) {
	fields := make(Fields)
	offset := 0
	for offset < len(buf) {
		if len(buf)-offset < 4 {
			return nil, &ErrTruncatedRecord{Offset: int64(offset), Want: 4, Have: len(buf) - offset}
		}
		entryLen := int(binary.LittleEndian.Uint32(buf[offset : offset+4]))
		offset += 4
		if len(buf)-offset < entryLen {
			return nil, &ErrTruncatedRecord{Offset: int64(offset), Want: entryLen, Have: len(buf) - offset}
		}
		entry := buf[offset : offset+entryLen]
		offset += entryLen

		sep := bytes.IndexByte(entry, '=')
		if sep < 0 {
			return nil, ErrMissingEquals
		}
		name := string(entry[:sep])
		value := make([]byte, len(entry)-sep-1)
		copy(value, entry[sep+1:])
		fields[name] = value
	}
	return fields, nil
}

// serializeFields is the inverse of ExtractFields, used only by tests to
// exercise the round-trip invariant in §8.
func serializeFields(order []string, fields Fields) []byte {
	var buf bytes.Buffer
	for _, name := range order {
		value := fields[name]
		entry := make([]byte, 0, len(name)+1+len(value))
		entry = append(entry, name...)
		entry = append(entry, '=')
		entry = append(entry, value...)
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(entry)))
		buf.Write(lenBuf[:])
		buf.Write(entry)
	}
	return buf.Bytes()
}

// ShallowRecord is a view (no copy) onto one length-prefixed record within
// a buffer. RecordOffset is the record's position in the logical file
// coordinate space, which may differ from its index into buf when buf is
// itself a slice starting partway through the file (e.g. the index
// region).
type ShallowRecord struct {
	RecordOffset int64
	RecordLength int64
	DataOffset   int64
	Header       Fields
	Data         []byte
}

// ShallowRead reads one record's header and data length/bytes from buf
// starting at localOffset, returning a ShallowRecord whose RecordOffset
// reflects fileOffset (the record's position in the logical file space).
func ShallowRead(buf []byte, localOffset int, fileOffset int64) (*ShallowRecord, error) {
	if len(buf)-localOffset < 4 {
		return nil, &ErrTruncatedRecord{Offset: fileOffset, Want: 4, Have: len(buf) - localOffset}
	}
	hlen := int(binary.LittleEndian.Uint32(buf[localOffset : localOffset+4]))
	headerStart := localOffset + 4
	if len(buf)-headerStart < hlen {
		return nil, &ErrTruncatedRecord{Offset: fileOffset, Want: hlen, Have: len(buf) - headerStart}
	}
	header, err := ExtractFields(buf[headerStart : headerStart+hlen])
	if err != nil {
		return nil, err
	}

	dlenStart := headerStart + hlen
	if len(buf)-dlenStart < 4 {
		return nil, &ErrTruncatedRecord{Offset: fileOffset, Want: 4, Have: len(buf) - dlenStart}
	}
	dlen := int(binary.LittleEndian.Uint32(buf[dlenStart : dlenStart+4]))
	dataStart := dlenStart + 4
	if len(buf)-dataStart < dlen {
		return nil, &ErrTruncatedRecord{Offset: fileOffset, Want: dlen, Have: len(buf) - dataStart}
	}

	recordLength := int64(4 + hlen + 4 + dlen)
	return &ShallowRecord{
		RecordOffset: fileOffset,
		RecordLength: recordLength,
		DataOffset:   fileOffset + int64(4+hlen+4),
		Header:       header,
		Data:         buf[dataStart : dataStart+dlen],
	}, nil
}

// RetrieveRecords applies parse count times over buf, advancing by each
// record's RecordLength. startingOffset is the local index into buf where
// the first record begins; fileBase is added to each record's local offset
// to produce its logical-file RecordOffset. It returns the parsed values
// plus the local offset just past the last consumed record, so a caller
// can chain a second RetrieveRecords call immediately after this one.
func RetrieveRecords[T any](
	buf []byte,
	count int,
	startingOffset int,
	fileBase int64,
	parse func(*ShallowRecord) (T, error),
) (values []T, nextOffset int, err error) {
	out := make([]T, 0, count)
	offset := startingOffset
	for i := 0; i < count; i++ {
		rec, err := ShallowRead(buf, offset, fileBase+int64(offset))
		if err != nil {
			return nil, 0, err
		}
		v, err := parse(rec)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
		offset += int(rec.RecordLength)
	}
	return out, offset, nil
}
