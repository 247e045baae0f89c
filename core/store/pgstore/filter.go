package pgstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
)

// sqlBuilder collects positional arguments while a statement is assembled
type sqlBuilder struct {
	args []interface{}
}

func (b *sqlBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) jsonArg(v interface{}) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cannot encode filter value: %w", err)
	}
	return b.arg(string(body)) + "::jsonb", nil
}

func (b *sqlBuilder) path(field string) string {
	return "(document #> " + b.arg(pq.Array(strings.Split(field, "."))) + "::text[])"
}

func (b *sqlBuilder) textPath(field string) string {
	return "(document #>> " + b.arg(pq.Array(strings.Split(field, "."))) + "::text[])"
}

// where translates a filter into a SQL condition on the document column
func (b *sqlBuilder) where(filter map[string]interface{}) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}
	var conditions []string
	for key, cond := range filter {
		var (
			c   string
			err error
		)
		switch key {
		case "$and", "$or":
			c, err = b.logical(key, cond)
		default:
			if ops, ok := cond.(map[string]interface{}); ok && isOperatorObject(ops) {
				c, err = b.operators(key, ops)
			} else {
				c, err = b.equal(key, cond)
			}
		}
		if err != nil {
			return "", err
		}
		conditions = append(conditions, c)
	}
	return strings.Join(conditions, " AND "), nil
}

func (b *sqlBuilder) logical(op string, cond interface{}) (string, error) {
	list, ok := cond.([]interface{})
	if !ok {
		return "", fmt.Errorf("%s requires an array", op)
	}
	if len(list) == 0 {
		if op == "$or" {
			return "FALSE", nil
		}
		return "TRUE", nil
	}
	var parts []string
	for _, sub := range list {
		m, ok := sub.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("%s requires an array of objects", op)
		}
		c, err := b.where(m)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+c+")")
	}
	joiner := " AND "
	if op == "$or" {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

// equal matches a value, or an element of an array value
func (b *sqlBuilder) equal(field string, value interface{}) (string, error) {
	p := b.path(field)
	if value == nil {
		return "(" + p + " IS NULL OR " + p + " = 'null'::jsonb)", nil
	}
	v, err := b.jsonArg(value)
	if err != nil {
		return "", err
	}
	return "COALESCE(" + p + " = " + v + " OR (jsonb_typeof(" + p + ") = 'array' AND " + p + " @> " + v + "), FALSE)", nil
}

func (b *sqlBuilder) operators(field string, ops map[string]interface{}) (string, error) {
	var conditions []string
	for op, operand := range ops {
		var c string
		switch op {
		case "$eq", "$ne":
			eq, err := b.equal(field, operand)
			if err != nil {
				return "", err
			}
			c = eq
			if op == "$ne" {
				c = "NOT " + eq
			}
		case "$gt", "$gte", "$lt", "$lte":
			v, err := b.jsonArg(operand)
			if err != nil {
				return "", err
			}
			sqlOp := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op]
			p := b.path(field)
			// jsonb orders across types, restrict to values of the same type
			c = "COALESCE(jsonb_typeof(" + p + ") = jsonb_typeof(" + v + ") AND " + p + " " + sqlOp + " " + v + ", FALSE)"
		case "$in", "$nin":
			v, err := b.jsonArg(operand)
			if err != nil {
				return "", err
			}
			p := b.path(field)
			c = "EXISTS (SELECT 1 FROM jsonb_array_elements(" + v + ") e WHERE e = " + p +
				" OR (jsonb_typeof(" + p + ") = 'array' AND " + p + " @> e))"
			if op == "$nin" {
				c = "NOT " + c
			}
		case "$exists":
			want, _ := operand.(bool)
			c = b.path(field) + " IS NOT NULL"
			if !want {
				c = strings.TrimSuffix(c, " IS NOT NULL") + " IS NULL"
			}
		case "$regex":
			pattern, ok := operand.(string)
			if !ok {
				return "", fmt.Errorf("$regex requires a string")
			}
			sqlOp := "~"
			if options, _ := ops["$options"].(string); strings.Contains(options, "i") {
				sqlOp = "~*"
			}
			c = "COALESCE(" + b.textPath(field) + " " + sqlOp + " " + b.arg(pattern) + ", FALSE)"
		case "$options":
			continue
		default:
			return "", fmt.Errorf("unsupported filter operator %s", op)
		}
		conditions = append(conditions, c)
	}
	if len(conditions) == 0 {
		return "TRUE", nil
	}
	return "(" + strings.Join(conditions, " AND ") + ")", nil
}

func isOperatorObject(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}
