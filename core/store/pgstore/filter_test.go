package pgstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhere(t *testing.T) {
	testCases := []struct {
		name   string
		filter map[string]interface{}
		want   string
		args   int
	}{
		{"empty", nil, "TRUE", 0},
		{"equal", map[string]interface{}{"name": "apple"},
			"COALESCE((document #> $1::text[]) = $2::jsonb OR (jsonb_typeof((document #> $1::text[])) = 'array' AND (document #> $1::text[]) @> $2::jsonb), FALSE)", 2},
		{"null", map[string]interface{}{"name": nil},
			"((document #> $1::text[]) IS NULL OR (document #> $1::text[]) = 'null'::jsonb)", 1},
		{"exists", map[string]interface{}{"name": map[string]interface{}{"$exists": false}},
			"((document #> $1::text[]) IS NULL)", 1},
		{"regex", map[string]interface{}{"name": map[string]interface{}{"$regex": "^a", "$options": "i"}},
			"(COALESCE((document #>> $1::text[]) ~* $2, FALSE))", 2},
		{"empty or", map[string]interface{}{"$or": []interface{}{}}, "FALSE", 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := &sqlBuilder{}
			got, err := b.where(tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Len(t, b.args, tc.args)
		})
	}
}

func TestWhereErrors(t *testing.T) {
	for _, filter := range []map[string]interface{}{
		{"name": map[string]interface{}{"$near": 1}},
		{"name": map[string]interface{}{"$regex": 1}},
		{"$and": "x"},
		{"$or": []interface{}{"x"}},
	} {
		b := &sqlBuilder{}
		_, err := b.where(filter)
		assert.Error(t, err, "%v", filter)
	}
}
