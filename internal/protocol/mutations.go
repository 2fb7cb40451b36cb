package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Mutation is one state mutation: a prefixed accessor key and its value
type Mutation struct {
	Key   string
	Value json.RawMessage
}

// Mutations keeps the mutation object in wire order so later keys
// override earlier ones the way the backend emitted them
type Mutations []Mutation

// UnmarshalJSON decodes a JSON object, preserving key order
func (m *Mutations) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("mutations: expected object, got %v", tok)
	}

	out := Mutations{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("mutations: unexpected key %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("mutations: %s: %w", key, err)
		}
		out = append(out, Mutation{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// MarshalJSON encodes the mutations as an object in slice order
func (m Mutations) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, mut := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(mut.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(mut.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(mut.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
