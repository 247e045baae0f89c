package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	assert.True(t, Equal(int64(5), 5.0))
	assert.True(t, Equal(int32(5), 5))
	assert.False(t, Equal("5", 5))
	assert.True(t, Equal(
		map[string]interface{}{"a": 1, "b": []interface{}{"x", int64(2)}},
		map[string]interface{}{"b": []interface{}{"x", 2.0}, "a": 1.0},
	))
	assert.False(t, Equal(
		map[string]interface{}{"a": 1},
		map[string]interface{}{"a": 1, "b": nil},
	))
	assert.True(t, Equal(nil, nil))
	assert.Equal(t, `{"a":1,"b":"x"}`, Canonical(map[string]interface{}{"b": "x", "a": int64(1)}))
}
