package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldType tags the declared type of a source field.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeInteger   FieldType = "integer"
	TypeLong      FieldType = "long"
	TypeDouble    FieldType = "double"
	TypeBoolean   FieldType = "boolean"
	TypeTimestamp FieldType = "timestamp"
	TypeAny       FieldType = "any"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseFieldType normalises a type name. Unknown names are an error.
func ParseFieldType(name string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string", "str", "text":
		return TypeString, nil
	case "integer", "int":
		return TypeInteger, nil
	case "long", "bigint":
		return TypeLong, nil
	case "double", "float":
		return TypeDouble, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "timestamp", "time":
		return TypeTimestamp, nil
	case "any", "":
		return TypeAny, nil
	}
	return "", fmt.Errorf("unknown field type: %q", name)
}

// UnmarshalText lets config and schema files use any accepted alias.
func (t *FieldType) UnmarshalText(text []byte) error {
	ft, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*t = ft
	return nil
}

// Cast converts raw text into a value of type t.
func Cast(raw string, t FieldType) (Value, error) {
	switch t {
	case TypeString, TypeAny:
		return raw, nil
	case TypeInteger:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			return nil, err
		}
		return int32(v), nil
	case TypeLong:
		return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	case TypeDouble:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case TypeBoolean:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case TypeTimestamp:
		s := strings.TrimSpace(raw)
		var lastErr error
		for _, layout := range timestampLayouts {
			ts, err := time.Parse(layout, s)
			if err == nil {
				return ts, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
	return nil, fmt.Errorf("unsupported field type %q", t)
}

// CastFields builds a typed record from raw fields. When indices is nil every
// field is kept in source order; otherwise fields are taken in indices order.
// schema is indexed by source position; a nil schema keeps raw strings.
func CastFields(fields []string, indices []int, schema []FieldType) (Record, error) {
	if indices == nil {
		out := make(Record, len(fields))
		for i, raw := range fields {
			v, err := castAt(raw, i, schema)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	out := make(Record, len(indices))
	for j, i := range indices {
		if i < 0 || i >= len(fields) {
			return nil, fmt.Errorf("%w: index %d, record has %d fields", ErrProjectionOutOfRange, i, len(fields))
		}
		v, err := castAt(fields[i], i, schema)
		if err != nil {
			return nil, err
		}
		out[j] = v
	}
	return out, nil
}

func castAt(raw string, i int, schema []FieldType) (Value, error) {
	if schema == nil {
		return raw, nil
	}
	if i >= len(schema) {
		return nil, fmt.Errorf("%w: field %d, schema has %d types", ErrSchemaMismatch, i, len(schema))
	}
	v, err := Cast(raw, schema[i])
	if err != nil {
		return nil, &CastError{Field: i, Type: schema[i], Raw: raw, Err: err}
	}
	return v, nil
}

// FormatValue renders a value the way it is written to text sinks.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
