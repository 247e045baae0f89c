package schema

import (
	"strconv"
)

// Coerce converts a query string value to the type of the named field. Values which
// cannot be converted, and values of unknown fields, are returned unchanged.
func (d *Descriptor) Coerce(field, value string) interface{} {
	f, ok := d.Fields[field]
	if !ok {
		return value
	}
	switch f.Type {
	case TypeNumber:
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n
		}
	case TypeBoolean:
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}

// ParseID converts an identifier from a path parameter. It returns false if the
// identifier cannot be of the type of the identifier field.
func (d *Descriptor) ParseID(id string) (interface{}, bool) {
	if d.IDType() == TypeNumber {
		n, err := strconv.ParseFloat(id, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	}
	return id, len(id) > 0
}

// Hidden returns true if the field is not part of the default projection. Hidden
// fields are internal fields starting with an underscore, including the revision.
func Hidden(field string) bool {
	return len(field) > 0 && field[0] == '_'
}
