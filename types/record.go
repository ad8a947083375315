package types

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/melkeydev/dbplus/value"
)

type Field struct {
	Name  string
	Value value.Value
}

// F builds a Field from a native Go value.
func F(name string, v any) Field {
	return Field{Name: name, Value: value.Of(v)}
}

// Record is an ordered set of named values bound to a table at write time.
type Record []Field

// FromMap builds a Record with keys in lexical order.
func FromMap(m map[string]any) Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := make(Record, 0, len(keys))
	for _, k := range keys {
		rec = append(rec, F(k, m[k]))
	}
	return rec
}

func (r Record) Get(name string) (value.Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of name or appends it.
func (r *Record) Set(name string, v any) {
	val := value.Of(v)
	for i := range *r {
		if (*r)[i].Name == name {
			(*r)[i].Value = val
			return
		}
	}
	*r = append(*r, Field{Name: name, Value: val})
}

// DeleteFunc removes every field whose name matches.
func (r *Record) DeleteFunc(match func(name string) bool) {
	out := (*r)[:0]
	for _, f := range *r {
		if !match(f.Name) {
			out = append(out, f)
		}
	}
	*r = out
}

func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Name
	}
	return keys
}

func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	copy(out, r)
	return out
}

// Map flattens the record into native Go values.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r))
	for _, f := range r {
		m[f.Name] = value.Native(f.Value)
	}
	return m
}

// MarshalJSON writes the record as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(value.Native(f.Value))
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
