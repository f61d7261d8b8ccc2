package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is a single named value inside a Record
type Field struct {
	Key   string
	Value any
}

// Record is an ordered mapping of group or field names to values.
// Values are scalars (string, bool, int64, float64, nil), nested Records or []any.
type Record []Field

// Index returns the position of key, or -1 when absent
func (r Record) Index(key string) int {
	for i := range r {
		if r[i].Key == key {
			return i
		}
	}
	return -1
}

// Get returns the value stored under key
func (r Record) Get(key string) (any, bool) {
	if i := r.Index(key); i >= 0 {
		return r[i].Value, true
	}
	return nil, false
}

// GetString returns the value under key rendered as a string
func (r Record) GetString(key string) (string, bool) {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return "", false
	}
	if s, isString := v.(string); isString {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Set replaces the value under key in place, or appends a new field
func (r *Record) Set(key string, value any) {
	if i := r.Index(key); i >= 0 {
		(*r)[i].Value = value
		return
	}
	*r = append(*r, Field{Key: key, Value: value})
}

// Delete removes key and returns its previous value
func (r *Record) Delete(key string) (any, bool) {
	i := r.Index(key)
	if i < 0 {
		return nil, false
	}
	value := (*r)[i].Value
	*r = append((*r)[:i], (*r)[i+1:]...)
	return value, true
}

// Keys returns the field names in order
func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i := range r {
		keys[i] = r[i].Key
	}
	return keys
}

// Clone returns a deep copy; nested Records and sequences are copied too
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for i, f := range r {
		out[i] = Field{Key: f.Key, Value: cloneValue(f.Value)}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case []Record:
		out := make([]Record, len(t))
		for i := range t {
			out[i] = t[i].Clone()
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// MarshalJSON encodes the record as a JSON object keeping field order
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %q: %w", f.Key, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping field order
func (r *Record) UnmarshalJSON(data []byte) error {
	value, err := Decode(data)
	if err != nil {
		return err
	}
	rec, ok := value.(Record)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", value)
	}
	*r = rec
	return nil
}

// Decode parses JSON into the ordered value tree: objects become Records,
// arrays []any, integral numbers int64 and other numbers float64
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	value, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return value, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeRecord(dec)
		case '[':
			return decodeList(dec)
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		if f, err := t.Float64(); err == nil {
			return f, nil
		}
		return t.String(), nil
	default:
		return t, nil
	}
}

func decodeRecord(dec *json.Decoder) (Record, error) {
	rec := Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v", tok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		rec.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to close object: %w", err)
	}
	return rec, nil
}

func decodeList(dec *json.Decoder) ([]any, error) {
	list := []any{}
	for dec.More() {
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		list = append(list, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to close array: %w", err)
	}
	return list, nil
}
