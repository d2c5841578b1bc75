package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ValueKind discriminates the variants of a schema-free extracted value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// Value is a single extracted field value. Extraction output is schema-free,
// so a value may be a scalar, an array, or a nested object.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Arr  []Value
	Obj  *Fields
}

// String values

func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func NullValue() Value            { return Value{Kind: KindNull} }
func ArrayValue(vs ...Value) Value {
	return Value{Kind: KindArray, Arr: vs}
}
func ObjectValue(f *Fields) Value { return Value{Kind: KindObject, Obj: f} }

// Render returns the value formatted for a spreadsheet cell.
func (v Value) Render() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Equal reports deep equality between two values.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	case KindArray:
		if len(v.Arr) != len(o.Arr) {
			return false
		}
		for i := range v.Arr {
			if !v.Arr[i].Equal(o.Arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.Obj.Equal(o.Obj)
	}
	return false
}

// MarshalJSON encodes the value as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindArray:
		if v.Arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Arr)
	case KindObject:
		if v.Obj == nil {
			return []byte("{}"), nil
		}
		return v.Obj.MarshalJSON()
	}
	return nil, eris.Errorf("model: unknown value kind %d", v.Kind)
}

// UnmarshalJSON decodes arbitrary JSON into the tagged union.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// Fields is an ordered mapping of field name to value. Key order is the
// order fields were first set (or first appeared in the source JSON), which
// keeps export columns stable across runs.
type Fields struct {
	keys []string
	vals map[string]Value
}

// NewFields returns an empty ordered field map.
func NewFields() *Fields {
	return &Fields{vals: make(map[string]Value)}
}

// Set stores a value, appending the key on first insert.
func (f *Fields) Set(key string, v Value) {
	if f.vals == nil {
		f.vals = make(map[string]Value)
	}
	if _, ok := f.vals[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.vals[key] = v
}

// Get returns the value for key and whether it was present.
func (f *Fields) Get(key string) (Value, bool) {
	if f == nil || f.vals == nil {
		return Value{}, false
	}
	v, ok := f.vals[key]
	return v, ok
}

// Delete removes a key, preserving the order of the remaining keys.
func (f *Fields) Delete(key string) {
	if f == nil || f.vals == nil {
		return
	}
	if _, ok := f.vals[key]; !ok {
		return
	}
	delete(f.vals, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in insertion order.
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Clone returns a deep copy.
func (f *Fields) Clone() *Fields {
	if f == nil {
		return nil
	}
	out := NewFields()
	for _, k := range f.keys {
		v := f.vals[k]
		out.Set(k, cloneValue(v))
	}
	return out
}

func cloneValue(v Value) Value {
	switch v.Kind {
	case KindArray:
		arr := make([]Value, len(v.Arr))
		for i := range v.Arr {
			arr[i] = cloneValue(v.Arr[i])
		}
		v.Arr = arr
	case KindObject:
		v.Obj = v.Obj.Clone()
	}
	return v
}

// Equal reports deep equality, including key order.
func (f *Fields) Equal(o *Fields) bool {
	if f.Len() != o.Len() {
		return false
	}
	if f == nil || o == nil {
		return true
	}
	for i, k := range f.keys {
		if o.keys[i] != k {
			return false
		}
		if !f.vals[k].Equal(o.vals[k]) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the object with keys in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, eris.Wrap(err, "model: marshal field key")
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := f.vals[k].MarshalJSON()
		if err != nil {
			return nil, eris.Wrapf(err, "model: marshal field %s", k)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, preserving key order from the source.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "model: decode fields")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return eris.New("model: fields payload is not a JSON object")
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*f = *parsed
	return nil
}

// decodeObject consumes object members up to and including the closing brace.
// The opening brace must already have been consumed.
func decodeObject(dec *json.Decoder) (*Fields, error) {
	f := NewFields()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, eris.Wrap(err, "model: decode object key")
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, eris.Errorf("model: object key is %T, want string", keyTok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, eris.Wrapf(err, "model: decode value for %q", key)
		}
		f.Set(key, v)
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, eris.Wrap(err, "model: decode object end")
	}
	return f, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, eris.Wrap(err, "model: decode value")
	}
	switch t := tok.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, eris.Wrapf(err, "model: parse number %s", t)
		}
		return NumberValue(n), nil
	case json.Delim:
		switch t {
		case '{':
			obj, err := decodeObject(dec)
			if err != nil {
				return Value{}, err
			}
			return ObjectValue(obj), nil
		case '[':
			arr := []Value{}
			for dec.More() {
				elem, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, elem)
			}
			if _, err := dec.Token(); err != nil { // closing ']'
				return Value{}, eris.Wrap(err, "model: decode array end")
			}
			return Value{Kind: KindArray, Arr: arr}, nil
		}
	}
	return Value{}, eris.Errorf("model: unexpected token %v", tok)
}

// SetPath stores a value at a dot-notation path, creating intermediate
// objects as needed. A non-object on the way is replaced.
func (f *Fields) SetPath(path string, v Value) {
	if f == nil {
		return
	}
	for {
		i := strings.Index(path, ".")
		if i < 0 {
			f.Set(path, v)
			return
		}
		head, rest := path[:i], path[i+1:]
		cur, ok := f.Get(head)
		if !ok || cur.Kind != KindObject || cur.Obj == nil {
			cur = ObjectValue(NewFields())
			f.Set(head, cur)
		}
		f = cur.Obj
		path = rest
	}
}

// FlatField is one leaf of a flattened field mapping.
type FlatField struct {
	Path  string
	Value Value
}

// Flatten walks the mapping depth-first in key order and returns leaf
// values keyed by dot-notation path. Nested objects extend the path with a
// dot. Single-element arrays are inlined at the parent path; multi-element
// arrays suffix each element with its index.
func (f *Fields) Flatten() []FlatField {
	var out []FlatField
	f.flattenInto("", &out)
	return out
}

func (f *Fields) flattenInto(prefix string, out *[]FlatField) {
	if f == nil {
		return
	}
	for _, k := range f.keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		flattenValue(path, f.vals[k], out)
	}
}

func flattenValue(path string, v Value, out *[]FlatField) {
	switch v.Kind {
	case KindObject:
		v.Obj.flattenInto(path, out)
	case KindArray:
		if len(v.Arr) == 1 {
			flattenValue(path, v.Arr[0], out)
			return
		}
		for i, elem := range v.Arr {
			flattenValue(fmt.Sprintf("%s.%d", path, i), elem, out)
		}
	default:
		*out = append(*out, FlatField{Path: path, Value: v})
	}
}
