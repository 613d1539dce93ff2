package store

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// Payload is a schema-free JSON object stored in a TEXT column (seed
// diagnostics, metric raw values, score breakdowns, run meta). Values are
// scalars, slices or nested maps.
type Payload map[string]any

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan payload: unsupported type %T", src)
	}
	if len(data) == 0 {
		*p = Payload{}
		return nil
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("scan payload: %w", err)
	}
	*p = m
	return nil
}

// Float returns the numeric value under key, or 0.
func (p Payload) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// Int returns the numeric value under key truncated to int64, or 0.
func (p Payload) Int(key string) int64 {
	switch v := p[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, _ := v.Float64()
			return int64(f)
		}
		return n
	}
	return int64(p.Float(key))
}

// String returns the string under key, or "".
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Bool returns the boolean under key, or false.
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Map returns the nested object under key, or nil.
func (p Payload) Map(key string) Payload {
	switch v := p[key].(type) {
	case Payload:
		return v
	case map[string]any:
		return Payload(v)
	}
	return nil
}
