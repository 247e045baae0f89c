package store

import (
	"github.com/goccy/go-json"
)

// Canonical returns the canonical JSON representation of a value. Map keys are
// sorted and numbers of different Go types with the same value are encoded
// the same way, so two values are structurally equal exactly if their canonical
// forms are equal.
func Canonical(v interface{}) string {
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return ""
	}
	return string(b)
}

// Equal compares two values structurally
func Equal(a, b interface{}) bool {
	return Canonical(a) == Canonical(b)
}

// normalize converts all integer types to float64 so that 1 and 1.0 compare equal
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = normalize(e)
		}
		return m
	case []interface{}:
		a := make([]interface{}, len(t))
		for i, e := range t {
			a[i] = normalize(e)
		}
		return a
	}
	return v
}
