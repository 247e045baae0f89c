package memstore

import (
	"regexp"
	"strings"

	"github.com/relabs-tech/restifier/core/store"
)

// matches evaluates a normalized filter against a document
func matches(doc store.Document, filter map[string]interface{}) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			for _, sub := range asList(cond) {
				if m, ok := sub.(map[string]interface{}); !ok || !matches(doc, m) {
					return false
				}
			}
			continue
		case "$or":
			matched := false
			for _, sub := range asList(cond) {
				if m, ok := sub.(map[string]interface{}); ok && matches(doc, m) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}

		value, exists := lookup(doc, key)
		if ops, ok := cond.(map[string]interface{}); ok && isOperatorObject(ops) {
			if !matchOperators(value, exists, ops) {
				return false
			}
			continue
		}
		if !matchEqual(value, exists, cond) {
			return false
		}
	}
	return true
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

func asList(v interface{}) []interface{} {
	l, _ := v.([]interface{})
	return l
}

// lookup resolves a dotted path
func lookup(doc store.Document, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// matchEqual matches scalars, and elements of arrays like a document store does
func matchEqual(value interface{}, exists bool, cond interface{}) bool {
	if !exists {
		return cond == nil
	}
	if store.Equal(value, cond) {
		return true
	}
	if list, ok := value.([]interface{}); ok {
		for _, e := range list {
			if store.Equal(e, cond) {
				return true
			}
		}
	}
	return false
}

func matchOperators(value interface{}, exists bool, ops map[string]interface{}) bool {
	for op, operand := range ops {
		switch op {
		case "$eq":
			if !matchEqual(value, exists, operand) {
				return false
			}
		case "$ne":
			if matchEqual(value, exists, operand) {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !exists {
				return false
			}
			c, ok := compare(value, operand)
			if !ok {
				return false
			}
			switch {
			case op == "$gt" && c <= 0,
				op == "$gte" && c < 0,
				op == "$lt" && c >= 0,
				op == "$lte" && c > 0:
				return false
			}
		case "$in":
			found := false
			for _, candidate := range asList(operand) {
				if matchEqual(value, exists, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$nin":
			for _, candidate := range asList(operand) {
				if matchEqual(value, exists, candidate) {
					return false
				}
			}
		case "$exists":
			want, _ := operand.(bool)
			if want != exists {
				return false
			}
		case "$regex":
			s, ok := value.(string)
			pattern, isString := operand.(string)
			if !ok || !isString {
				return false
			}
			if options, _ := ops["$options"].(string); strings.Contains(options, "i") {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil || !re.MatchString(s) {
				return false
			}
		case "$options":
			// consumed by $regex
		default:
			// unknown operators match nothing
			return false
		}
	}
	return true
}

// compare orders two values of the same kind. It returns false if the values
// are not comparable.
func compare(a, b interface{}) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// rank orders values of different kinds for sorting
func rank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case map[string]interface{}:
		return 3
	case []interface{}:
		return 4
	case bool:
		return 5
	}
	return 6
}

func less(a, b store.Document, sortFields []store.SortField) bool {
	for _, s := range sortFields {
		x, _ := lookup(a, s.Field)
		y, _ := lookup(b, s.Field)
		c, ok := compare(x, y)
		if !ok {
			c = rank(x) - rank(y)
			if c == 0 {
				c = strings.Compare(store.Canonical(x), store.Canonical(y))
			}
		}
		if c == 0 {
			continue
		}
		if s.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}
