package cell

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// ValueKind is the discriminant of a Value
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBoolean
	KindInteger
	KindNumber
	KindString
	KindObject
	KindArray
	KindTable
	KindImage
)

var kindNames = [...]string{
	KindNull:    "null",
	KindBoolean: "boolean",
	KindInteger: "integer",
	KindNumber:  "number",
	KindString:  "string",
	KindObject:  "object",
	KindArray:   "array",
	KindTable:   "table",
	KindImage:   "image",
}

func (k ValueKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func parseKind(name string) (ValueKind, bool) {
	for i, n := range kindNames {
		if n == name {
			return ValueKind(i), true
		}
	}
	return 0, false
}

// Value is the result of executing a cell. the set of implementations is
// closed, values are immutable once attached to a cell.
type Value interface {
	Kind() ValueKind
	isValue()
}

type (
	Null    struct{}
	Boolean bool
	Integer int64
	Number  float64
	String  string
	Object  map[string]Value
	Array   []Value
)

// Table is a column-oriented table, every column has the same length
type Table struct {
	Columns []Column
}

type Column struct {
	Name   string
	Values []Value
}

// Image references image data by URL or data URI
type Image struct {
	MIME string
	Src  string
}

func (Null) Kind() ValueKind    { return KindNull }
func (Boolean) Kind() ValueKind { return KindBoolean }
func (Integer) Kind() ValueKind { return KindInteger }
func (Number) Kind() ValueKind  { return KindNumber }
func (String) Kind() ValueKind  { return KindString }
func (Object) Kind() ValueKind  { return KindObject }
func (Array) Kind() ValueKind   { return KindArray }
func (Table) Kind() ValueKind   { return KindTable }
func (Image) Kind() ValueKind   { return KindImage }

func (Null) isValue()    {}
func (Boolean) isValue() {}
func (Integer) isValue() {}
func (Number) isValue()  {}
func (String) isValue()  {}
func (Object) isValue()  {}
func (Array) isValue()   {}
func (Table) isValue()   {}
func (Image) isValue()   {}

// Rows returns the number of rows of the table
func (t Table) Rows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// Column returns the column with the given name
func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// envelope is the wire form {"type": ..., "data": ...}
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type tableData struct {
	Columns []columnData `json:"columns"`
}

type columnData struct {
	Name   string            `json:"name"`
	Values []json.RawMessage `json:"values"`
}

type imageData struct {
	MIME string `json:"mime"`
	Src  string `json:"src"`
}

// EncodeValue marshals a value into its tagged wire form. a nil value
// encodes as null.
func EncodeValue(v Value) ([]byte, error) {
	if v == nil {
		v = Null{}
	}
	var (
		data any
		err  error
	)
	switch val := v.(type) {
	case Null:
		data = nil
	case Boolean:
		data = bool(val)
	case Integer:
		data = int64(val)
	case Number:
		data = float64(val)
	case String:
		data = string(val)
	case Object:
		fields := make(map[string]json.RawMessage, len(val))
		for key, field := range val {
			if fields[key], err = EncodeValue(field); err != nil {
				return nil, err
			}
		}
		data = fields
	case Array:
		if data, err = encodeValues(val); err != nil {
			return nil, err
		}
	case Table:
		td := tableData{Columns: make([]columnData, 0, len(val.Columns))}
		for _, col := range val.Columns {
			values, err := encodeValues(col.Values)
			if err != nil {
				return nil, err
			}
			td.Columns = append(td.Columns, columnData{Name: col.Name, Values: values})
		}
		data = td
	case Image:
		data = imageData{MIME: val.MIME, Src: val.Src}
	default:
		return nil, fmt.Errorf("cannot encode value of type %T", v)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s value: %w", v.Kind(), err)
	}
	return json.Marshal(envelope{Type: v.Kind().String(), Data: raw})
}

func encodeValues(values []Value) ([]json.RawMessage, error) {
	result := make([]json.RawMessage, 0, len(values))
	for _, value := range values {
		raw, err := EncodeValue(value)
		if err != nil {
			return nil, err
		}
		result = append(result, raw)
	}
	return result, nil
}

// DecodeValue is the inverse of EncodeValue
func DecodeValue(raw []byte) (Value, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	kind, ok := parseKind(env.Type)
	if !ok {
		return nil, fmt.Errorf("unknown value type %q", env.Type)
	}

	switch kind {
	case KindNull:
		return Null{}, nil
	case KindBoolean:
		var b bool
		err := json.Unmarshal(env.Data, &b)
		return Boolean(b), err
	case KindInteger:
		var i int64
		err := json.Unmarshal(env.Data, &i)
		return Integer(i), err
	case KindNumber:
		var f float64
		err := json.Unmarshal(env.Data, &f)
		return Number(f), err
	case KindString:
		var s string
		err := json.Unmarshal(env.Data, &s)
		return String(s), err
	case KindObject:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(env.Data, &fields); err != nil {
			return nil, err
		}
		obj := make(Object, len(fields))
		for key, field := range fields {
			value, err := DecodeValue(field)
			if err != nil {
				return nil, err
			}
			obj[key] = value
		}
		return obj, nil
	case KindArray:
		var items []json.RawMessage
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return nil, err
		}
		values, err := decodeValues(items)
		return Array(values), err
	case KindTable:
		var td tableData
		if err := json.Unmarshal(env.Data, &td); err != nil {
			return nil, err
		}
		table := Table{Columns: make([]Column, 0, len(td.Columns))}
		for _, col := range td.Columns {
			values, err := decodeValues(col.Values)
			if err != nil {
				return nil, err
			}
			table.Columns = append(table.Columns, Column{Name: col.Name, Values: values})
		}
		return table, nil
	default:
		var img imageData
		err := json.Unmarshal(env.Data, &img)
		return Image{MIME: img.MIME, Src: img.Src}, err
	}
}

func decodeValues(items []json.RawMessage) ([]Value, error) {
	values := make([]Value, 0, len(items))
	for _, item := range items {
		value, err := DecodeValue(item)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// FormatValue renders a value for display
func FormatValue(v Value) string {
	switch val := v.(type) {
	case nil:
		return ""
	case Null:
		return "null"
	case Boolean:
		return strconv.FormatBool(bool(val))
	case Integer:
		return strconv.FormatInt(int64(val), 10)
	case Number:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case String:
		return string(val)
	case Object:
		parts := make([]string, 0, len(val))
		for _, key := range slices.Sorted(maps.Keys(val)) {
			parts = append(parts, key+": "+FormatValue(val[key]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case Array:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, FormatValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Table:
		return fmt.Sprintf("table(%d x %d)", val.Rows(), len(val.Columns))
	case Image:
		return fmt.Sprintf("image(%s)", val.MIME)
	default:
		return fmt.Sprintf("%v", v)
	}
}
