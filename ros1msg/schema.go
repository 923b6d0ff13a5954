// Package ros1msg compiles ROS1 message-definition text into a typed
// schema tree and decodes binary-serialized messages against it.
//
// Grounded on github.com/foxglove/mcap/go/ros's MSG:-boundary text scan
// (message_definition_parser.go) and go/ros/ros1msg's field-line regex and
// array/constant parsing (ros1msg_parser.go), generalized to this
// package's lazy, memoized decoder-closure model: the teacher flattens a
// definition into one field list eagerly and has no notion of a decoder
// function; this package instead keeps nested type bodies separate and
// compiles a decoder per type on first use.
package ros1msg

import (
	"regexp"
	"strconv"
	"strings"
)

// MsgField is one compiled schema tree node: either a field of a message
// (with Key/KeyType set) or, when it appears as the value in
// MsgSchema.NestedTypes, the root of a nested type's own field list
// (NestedKeys).
type MsgField struct {
	Key            string
	KeyType        string
	IsArray        bool
	ArrayLength    int  // fixed length; used only when HasArrayLength is set
	HasArrayLength bool // false for "[]": the length is read from the stream
	ConstantValue  string
	HasConstant    bool
	NestedKeys     []*MsgField
}

// MsgSchema is the compiled representation of one connection's
// message-definition text: its top-level field list plus a map of nested
// type definitions referenced from it (or from each other).
type MsgSchema struct {
	TopLevelKeys []*MsgField
	NestedTypes  map[string]*MsgField
}

// arrayTypeRe matches a key_type of the form "type[N]" or "type[]".
var arrayTypeRe = regexp.MustCompile(`^(.+)\[(\d*)\]$`)

// msgBoundaryPrefix marks the start of a nested-type section.
const msgBoundaryPrefix = "MSG:"

// CompileSchema parses a ROS1 message-definition text into a MsgSchema, per
// the line grammar and state machine in SPEC_FULL.md §4.4.
func CompileSchema(definitionText string) (*MsgSchema, error) {
	schema := &MsgSchema{
		NestedTypes: make(map[string]*MsgField),
	}

	var pendingNested *MsgField
	lines := strings.Split(definitionText, "\n")
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "==") {
			continue
		}

		firstToken := strings.Fields(trimmed)[0]
		if strings.EqualFold(firstToken, msgBoundaryPrefix) {
			if pendingNested != nil && pendingNested.Key != "" {
				finalizeNested(schema, pendingNested)
			}
			typeName := strings.TrimSpace(trimmed[len(msgBoundaryPrefix):])
			pendingNested = &MsgField{Key: typeName}
			continue
		}

		field, err := parseFieldLine(trimmed)
		if err != nil {
			return nil, &ErrSchemaParse{Line: i, Text: trimmed, Cause: err}
		}

		if pendingNested != nil {
			pendingNested.NestedKeys = append(pendingNested.NestedKeys, field)
		} else {
			schema.TopLevelKeys = append(schema.TopLevelKeys, field)
		}
	}
	if pendingNested != nil && pendingNested.Key != "" {
		finalizeNested(schema, pendingNested)
	}

	return schema, nil
}

// finalizeNested derives the nested type's lookup name (last '/' segment
// of its declared name, lowercased) and inserts it into nested_types.
func finalizeNested(schema *MsgSchema, nested *MsgField) {
	name := normalizeTypeName(nested.Key)
	schema.NestedTypes[name] = nested
}

func normalizeTypeName(keyType string) string {
	if idx := strings.LastIndex(keyType, "/"); idx >= 0 {
		keyType = keyType[idx+1:]
	}
	return strings.ToLower(keyType)
}

// parseFieldLine parses one retained definition line into an MsgField, per
// the line grammar: split on whitespace into [key_type, key, rest...];
// array brackets on key_type; constants via "= value" trailing tokens or a
// "key=value" key token.
func parseFieldLine(line string) (*MsgField, error) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return nil, &errMalformedLine{line}
	}
	keyType := parts[0]
	key := parts[1]
	rest := parts[2:]

	field := &MsgField{}

	if m := arrayTypeRe.FindStringSubmatch(keyType); m != nil {
		field.IsArray = true
		keyType = m[1]
		if m[2] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, &errMalformedLine{line}
			}
			field.ArrayLength = n
			field.HasArrayLength = true
		}
	}

	if strings.Contains(key, "=") {
		segs := strings.SplitN(key, "=", 2)
		key = segs[0]
		field.ConstantValue = segs[1]
		field.HasConstant = true
	} else if len(rest) == 2 && rest[0] == "=" {
		field.ConstantValue = rest[1]
		field.HasConstant = true
	}

	field.Key = key
	field.KeyType = normalizeTypeName(keyType)
	return field, nil
}

type errMalformedLine struct {
	line string
}

func (e *errMalformedLine) Error() string {
	return "malformed field line: " + e.line
}
