package ros1msg

import (
	"encoding/binary"
	"sync"
)

// Decoder decodes message payloads against a compiled MsgSchema, memoizing
// nested-type decoder closures by normalized type name. A Decoder is built
// once per message type on first use and retained for the owning file's
// lifetime (see chunkcache.schemaRegistry); it is never shared across files,
// since two files can define the same type name differently.
type Decoder struct {
	schema *MsgSchema

	mu   sync.Mutex
	memo map[string]func(*cursor) (map[string]any, error)
}

// NewDecoder compiles nothing eagerly; nested-type decoders are built on
// first reference and cached thereafter.
func NewDecoder(schema *MsgSchema) *Decoder {
	return &Decoder{
		schema: schema,
		memo:   make(map[string]func(*cursor) (map[string]any, error)),
	}
}

// Decode reads one message's fields from data in schema order. A fresh
// result map is allocated for every call and for every nested record
// within it, so concurrent or recursive decodes never alias an
// accumulator (see cursor's doc comment).
func (d *Decoder) Decode(data []byte) (map[string]any, error) {
	c := &cursor{buf: data}
	return d.decodeFields(c, d.schema.TopLevelKeys)
}

func (d *Decoder) decodeFields(c *cursor, fields []*MsgField) (map[string]any, error) {
	result := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := d.decodeField(c, f)
		if err != nil {
			return nil, &ErrMessageDecode{Field: f.Key, Cause: err}
		}
		result[f.Key] = v
	}
	return result, nil
}

func (d *Decoder) decodeField(c *cursor, f *MsgField) (any, error) {
	if f.HasConstant {
		return f.ConstantValue, nil
	}
	if f.IsArray {
		return d.decodeArray(c, f)
	}
	if reader, ok := primitiveReaders[f.KeyType]; ok {
		return reader(c)
	}
	nested, err := d.compileNested(f.KeyType)
	if err != nil {
		return nil, err
	}
	return nested(c)
}

func (d *Decoder) decodeArray(c *cursor, f *MsgField) (any, error) {
	length := f.ArrayLength
	if !f.HasArrayLength {
		b, err := c.take(4)
		if err != nil {
			return nil, err
		}
		length = int(binary.LittleEndian.Uint32(b))
	}

	elem := &MsgField{Key: f.Key, KeyType: f.KeyType}
	out := make([]any, length)
	for i := 0; i < length; i++ {
		v, err := d.decodeField(c, elem)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// compileNested builds and memoizes the decoder closure for a nested type
// referenced by normalized name, compiling on first miss. The mutex makes
// this safe under the bounded-concurrency decode workers described in
// SPEC_FULL.md §5; the lock is held only for the map lookup and, separately,
// the map insert, never across a decode. Two concurrent misses for the same
// type may each build a closure; the later insert replaces the earlier one.
func (d *Decoder) compileNested(typeName string) (func(*cursor) (map[string]any, error), error) {
	d.mu.Lock()
	if fn, ok := d.memo[typeName]; ok {
		d.mu.Unlock()
		return fn, nil
	}
	d.mu.Unlock()

	nested, ok := d.schema.NestedTypes[typeName]
	if !ok {
		return nil, &ErrUnknownType{Name: typeName}
	}
	fn := func(c *cursor) (map[string]any, error) {
		return d.decodeFields(c, nested.NestedKeys)
	}

	d.mu.Lock()
	d.memo[typeName] = fn
	d.mu.Unlock()
	return fn, nil
}
