package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func noteFields() map[string]Field {
	return map[string]Field{
		"index":       {Type: TypeNumber, IDField: true, AutoIncrement: true, Min: ptr(1.0)},
		"title":       {Type: TypeString, Required: true, MaxLength: ptr(20)},
		"description": {Type: TypeString},
		"status":      {Type: TypeString, Enum: []interface{}{"new", "done"}, Default: "new"},
		"due":         {Type: TypeDate, Default: DefaultNow},
		"priority":    {Type: TypeNumber, Min: ptr(0.0), Max: ptr(5.0)},
		"urgent":      {Type: TypeBoolean},
	}
}

func TestCompile(t *testing.T) {
	d, err := Compile("Note", noteFields(), Options{Strict: true, OwnerField: "_user"})
	require.NoError(t, err)
	assert.Equal(t, "index", d.IDField())
	assert.Equal(t, TypeNumber, d.IDType())
	ok, startAt, incrementBy := d.AutoIncrement()
	assert.True(t, ok)
	assert.Equal(t, int64(1), startAt)
	assert.Equal(t, int64(1), incrementBy)
}

func TestCompileErrors(t *testing.T) {
	testCases := []struct {
		name       string
		collection string
		fields     map[string]Field
	}{
		{"invalid name", "no-dashes", map[string]Field{"id": {Type: TypeString, IDField: true}}},
		{"no fields", "Empty", map[string]Field{}},
		{"no id field", "Task", map[string]Field{"title": {Type: TypeString}}},
		{"two id fields", "Task", map[string]Field{
			"a": {Type: TypeString, IDField: true},
			"b": {Type: TypeString, IDField: true},
		}},
		{"unknown type", "Task", map[string]Field{"id": {Type: "uuid", IDField: true}}},
		{"missing type", "Task", map[string]Field{"id": {IDField: true}}},
		{"auto increment on string", "Task", map[string]Field{"id": {Type: TypeString, IDField: true, AutoIncrement: true}}},
		{"auto increment on non id", "Task", map[string]Field{
			"id":    {Type: TypeString, IDField: true},
			"count": {Type: TypeNumber, AutoIncrement: true},
		}},
		{"boolean id", "Task", map[string]Field{"id": {Type: TypeBoolean, IDField: true}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.collection, tc.fields, Options{})
			assert.Error(t, err)
		})
	}
}

func TestAutoIncrementStart(t *testing.T) {
	d, err := Compile("Counter", map[string]Field{
		"n": {Type: TypeNumber, IDField: true, AutoIncrement: true, StartAt: 10, Min: ptr(100.0), IncrementBy: 5},
	}, Options{})
	require.NoError(t, err)
	_, startAt, incrementBy := d.AutoIncrement()
	assert.Equal(t, int64(100), startAt)
	assert.Equal(t, int64(5), incrementBy)
}

func TestValidate(t *testing.T) {
	d, err := Compile("Note", noteFields(), Options{Strict: true, OwnerField: "_user"})
	require.NoError(t, err)

	valid := map[string]interface{}{"title": "hello", "status": "new", "_user": "alice"}
	assert.NoError(t, d.Validate(valid, false))

	err = d.Validate(map[string]interface{}{"status": "new", "_user": "alice"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "title")

	// partial validation does not require fields
	assert.NoError(t, d.Validate(map[string]interface{}{"description": "x"}, true))

	invalid := []map[string]interface{}{
		{"title": "hello", "_user": "alice", "status": "unknown"},
		{"title": "this title is way too long for the schema", "_user": "alice"},
		{"title": "hello", "_user": "alice", "priority": 6},
		{"title": "hello", "_user": "alice", "urgent": "yes"},
		{"title": "hello", "_user": "alice", "due": "yesterday"},
		{"title": "hello"},
	}
	for _, record := range invalid {
		assert.Error(t, d.Validate(record, false), "%v", record)
	}

	// optional fields can be cleared
	assert.NoError(t, d.Validate(map[string]interface{}{"description": nil, "status": nil}, true))
}

func TestApplyDefaultsAndStrip(t *testing.T) {
	d, err := Compile("Note", noteFields(), Options{Strict: true, OwnerField: "_user"})
	require.NoError(t, err)

	record := map[string]interface{}{"title": "a", "status": "done", "unknown": 1, "_user": "alice"}
	d.Strip(record)
	d.ApplyDefaults(record)
	assert.NotContains(t, record, "unknown")
	assert.Equal(t, "alice", record["_user"])
	assert.Equal(t, "done", record["status"])
	due, ok := record["due"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339Nano, due)
	assert.NoError(t, err)

	lenient, err := Compile("Note", noteFields(), Options{})
	require.NoError(t, err)
	record = map[string]interface{}{"title": "a", "unknown": 1}
	lenient.Strip(record)
	assert.Contains(t, record, "unknown")
}

func TestCoerceAndParseID(t *testing.T) {
	d, err := Compile("Note", noteFields(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3.0, d.Coerce("priority", "3"))
	assert.Equal(t, "high", d.Coerce("priority", "high"))
	assert.Equal(t, true, d.Coerce("urgent", "true"))
	assert.Equal(t, "12", d.Coerce("title", "12"))
	assert.Equal(t, "x", d.Coerce("nothere", "x"))

	id, ok := d.ParseID("42")
	assert.True(t, ok)
	assert.Equal(t, 42.0, id)
	_, ok = d.ParseID("abc")
	assert.False(t, ok)

	task, err := Compile("Task", map[string]Field{"id": {Type: TypeString, IDField: true}}, Options{})
	require.NoError(t, err)
	id, ok = task.ParseID("abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	assert.True(t, Hidden("_user"))
	assert.True(t, Hidden("__v"))
	assert.False(t, Hidden("title"))
}
