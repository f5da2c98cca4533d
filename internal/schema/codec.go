package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for every timestamp written
// to the local store, so lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime formats t in TimeLayout after converting it to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses any RFC 3339 timestamp, including TimeLayout.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// ToLocal converts v into the storage encoding for column c.
// Booleans become 0/1, structured values become JSON text and times become
// TimeLayout strings.
func ToLocal(c Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case Text:
		switch val := v.(type) {
		case string:
			return val, nil
		case []byte:
			return string(val), nil
		default:
			return fmt.Sprint(val), nil
		}
	case Integer:
		return toInt64(c, v)
	case Real:
		return toFloat64(c, v)
	case Bool:
		b, err := toBool(c, v)
		if err != nil {
			return nil, err
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case JSON:
		return toJSONText(c, v)
	case Time:
		switch val := v.(type) {
		case time.Time:
			return FormatTime(val), nil
		case *time.Time:
			if val == nil {
				return nil, nil
			}
			return FormatTime(*val), nil
		case string:
			t, err := ParseTime(val)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %q is not a timestamp", ErrInvalidValue, c.Name, val)
			}
			return FormatTime(t), nil
		default:
			return nil, fmt.Errorf("%w: %s: unsupported time value %T", ErrInvalidValue, c.Name, v)
		}
	default:
		return v, nil
	}
}

// ToRemote converts a locally stored (or JSON-decoded) value back into its
// canonical remote shape.
func ToRemote(c Column, v any) any {
	if v == nil {
		return nil
	}
	switch c.Type {
	case Bool:
		if b, err := toBool(c, v); err == nil {
			return b
		}
		return v
	case JSON:
		var raw []byte
		switch val := v.(type) {
		case string:
			raw = []byte(val)
		case []byte:
			raw = val
		case json.RawMessage:
			raw = val
		default:
			return v
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return string(raw)
		}
		return out
	case Integer:
		if n, err := toInt64(c, v); err == nil {
			return n
		}
		return v
	case Real:
		if f, err := toFloat64(c, v); err == nil {
			return f
		}
		return v
	default:
		return v
	}
}

// EncodeRow converts caller-supplied fields into local encodings.
// Returns ErrUnknownColumn for fields the table does not declare.
func (t TableSchema) EncodeRow(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		c, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w %s.%s", ErrUnknownColumn, t.Name, name)
		}
		enc, err := ToLocal(c, v)
		if err != nil {
			return nil, err
		}
		out[name] = enc
	}
	return out, nil
}

// RemoteRow converts a locally encoded row into the remote shape, dropping
// local-only and undeclared columns.
func (t TableSchema) RemoteRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for name, v := range row {
		c, ok := t.Column(name)
		if !ok || c.LocalOnly {
			continue
		}
		out[name] = ToRemote(c, v)
	}
	return out
}

// LocalRowFromRemote converts a remote row into local encodings, dropping
// columns the local table does not declare.
func (t TableSchema) LocalRowFromRemote(row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(row))
	for name, v := range row {
		c, ok := t.Column(name)
		if !ok || c.LocalOnly {
			continue
		}
		enc, err := ToLocal(c, v)
		if err != nil {
			return nil, err
		}
		out[name] = enc
	}
	return out, nil
}

func toInt64(c Column, v any) (int64, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		return int64(val), nil
	case float32:
		return int64(val), nil
	case float64:
		return int64(val), nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return val.Int64()
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %q is not an integer", ErrInvalidValue, c.Name, val)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s: unsupported integer value %T", ErrInvalidValue, c.Name, v)
	}
}

func toFloat64(c Column, v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %q is not a number", ErrInvalidValue, c.Name, val)
		}
		return f, nil
	default:
		n, err := toInt64(c, v)
		if err != nil {
			return 0, err
		}
		return float64(n), nil
	}
}

func toBool(c Column, v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(val) {
		case "1", "true", "t", "yes":
			return true, nil
		case "0", "false", "f", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("%w: %s: %q is not a boolean", ErrInvalidValue, c.Name, val)
	default:
		n, err := toFloat64(c, v)
		if err != nil {
			return false, err
		}
		return n != 0, nil
	}
}

func toJSONText(c Column, v any) (string, error) {
	switch val := v.(type) {
	case json.RawMessage:
		return string(val), nil
	case []byte:
		if json.Valid(val) {
			return string(val), nil
		}
	case string:
		if json.Valid([]byte(val)) {
			return val, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidValue, c.Name, err)
	}
	return string(b), nil
}
