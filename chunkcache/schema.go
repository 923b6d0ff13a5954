package chunkcache

import (
	"fmt"
	"sync"

	"github.com/ziadastih/rosbag-rx/ros1msg"
)

// schemaRegistry memoizes compiled decoders by message_type string, scoped
// to one Decoder's lifetime (one open bag), per spec.md §9's note that the
// source's process-global memo table is a mistake to avoid: two files
// defining the same type name differently must not share decoders.
type schemaRegistry struct {
	mu       sync.Mutex
	decoders map[string]*ros1msg.Decoder
}

func newSchemaRegistry() *schemaRegistry {
	return &schemaRegistry{decoders: make(map[string]*ros1msg.Decoder)}
}

// get returns the memoized decoder for messageType, compiling it from
// definitionText on first miss.
func (r *schemaRegistry) get(messageType, definitionText string) (*ros1msg.Decoder, error) {
	r.mu.Lock()
	if dec, ok := r.decoders[messageType]; ok {
		r.mu.Unlock()
		return dec, nil
	}
	r.mu.Unlock()

	schema, err := ros1msg.CompileSchema(definitionText)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", messageType, err)
	}
	dec := ros1msg.NewDecoder(schema)

	r.mu.Lock()
	if existing, ok := r.decoders[messageType]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.decoders[messageType] = dec
	r.mu.Unlock()
	return dec, nil
}

func (r *schemaRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders = make(map[string]*ros1msg.Decoder)
}
