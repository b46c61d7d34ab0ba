package valuation

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Payload is the untyped result body reported by an agent. Accessors
// return an explicit ok flag instead of masking absent fields with
// defaults, so degrade-to-zero decisions stay at the call site.
type Payload map[string]any

// Has reports whether a key is present in the payload.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Number returns the value of a key coerced to float64. String-encoded
// numbers are accepted; anything else reports ok=false.
func (p Payload) Number(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// String returns the value of a key as a string.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// toFloat coerces a decoded JSON scalar to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
