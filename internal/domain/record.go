package domain

import (
	"bytes"
	"encoding/json"
)

// Record is an ordered field mapping. Field order is the order of first Set
// and is preserved through JSON encoding. Values are scalars, *Record for a
// single related object, or []*Record for a relation list.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord creates an empty record with capacity for n fields.
func NewRecord(n int) *Record {
	return &Record{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// Set assigns a field. Re-setting an existing field keeps its position.
func (r *Record) Set(key string, value any) *Record {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
	return r
}

// Get returns the value of a field.
func (r *Record) Get(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether the field is present.
func (r *Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Delete removes a field.
func (r *Record) Delete(key string) {
	if r == nil {
		return
	}
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Map returns a plain map copy, recursing into nested records.
func (r *Record) Map() map[string]any {
	if r == nil {
		return nil
	}
	out := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		switch v := r.values[k].(type) {
		case *Record:
			out[k] = v.Map()
		case []*Record:
			list := make([]map[string]any, len(v))
			for i, item := range v {
				list[i] = item.Map()
			}
			out[k] = list
		default:
			out[k] = v
		}
	}
	return out
}

// MarshalJSON encodes the record as an object keeping field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Recorder is implemented by typed entities that can present themselves as a Record.
type Recorder interface {
	Record() *Record
}
