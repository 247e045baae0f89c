package query

import (
	"strings"

	"github.com/relabs-tech/restifier/core/schema"
)

// Projection selects the fields of a response item
type Projection struct {
	Include []string
	Exclude []string
}

// ParseProjection parses a comma separated field list. Fields prefixed with "-" are excluded.
func ParseProjection(fields string) Projection {
	var p Projection
	for _, f := range strings.Split(fields, ",") {
		f = strings.TrimSpace(f)
		switch {
		case f == "" || f == "-":
		case strings.HasPrefix(f, "-"):
			p.Exclude = append(p.Exclude, f[1:])
		default:
			p.Include = append(p.Include, f)
		}
	}
	return p
}

// Requested returns true if the caller asked for specific fields
func (p Projection) Requested() bool {
	return len(p.Include) > 0 || len(p.Exclude) > 0
}

// Apply returns the projected item. Hidden fields are only returned if they are
// explicitly included.
func (p Projection) Apply(item map[string]interface{}) map[string]interface{} {
	result := map[string]interface{}{}
	if len(p.Include) > 0 {
		for _, f := range p.Include {
			if v, ok := item[f]; ok {
				result[f] = v
			}
		}
		return result
	}
	for k, v := range item {
		if !schema.Hidden(k) {
			result[k] = v
		}
	}
	for _, f := range p.Exclude {
		delete(result, f)
	}
	return result
}
