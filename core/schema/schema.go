// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package schema compiles the field definitions of a collection into a Descriptor

A Descriptor is built once when a collection is registered. It knows the
identifier field and its strategy, applies defaults, strips unknown fields,
coerces query string values and validates records with JSON schema.
*/
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// FieldType is the type of a field
type FieldType string

// all supported field types
const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeAny     FieldType = "any"
)

// DefaultNow is the default value of a date field which resolves to the current time
const DefaultNow = "$now"

// Field is the definition of a single field of a collection
type Field struct {
	Type          FieldType     `json:"type"`
	Description   string        `json:"description,omitempty"`
	Required      bool          `json:"required,omitempty"`
	Default       interface{}   `json:"default,omitempty"`
	Enum          []interface{} `json:"enum,omitempty"`
	Min           *float64      `json:"min,omitempty"`
	Max           *float64      `json:"max,omitempty"`
	MinLength     *int          `json:"minLength,omitempty"`
	MaxLength     *int          `json:"maxLength,omitempty"`
	Pattern       string        `json:"pattern,omitempty"`
	IDField       bool          `json:"idField,omitempty"`
	AutoIncrement bool          `json:"autoIncrement,omitempty"`
	StartAt       int64         `json:"startAt,omitempty"`
	IncrementBy   int64         `json:"incrementBy,omitempty"`
}

// Options control how a descriptor treats records beyond the field definitions
type Options struct {
	// Strict drops fields which are not part of the schema
	Strict bool
	// OwnerField is the ownership field which is maintained by the backend. It is
	// always allowed, even in strict mode.
	OwnerField string
}

// Descriptor is a compiled schema of a collection
type Descriptor struct {
	Name    string
	Fields  map[string]Field
	Options Options

	idField     string
	startAt     int64
	incrementBy int64

	full    *gojsonschema.Schema
	partial *gojsonschema.Schema
}

var nameRegex = regexp.MustCompile(`^[a-zA-Z_]+$`)

// Compile validates the field definitions and returns the descriptor
func Compile(name string, fields map[string]Field, options Options) (*Descriptor, error) {
	if !nameRegex.MatchString(name) {
		return nil, fmt.Errorf("invalid collection name '%s', only letters and underscores are allowed", name)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("collection %s: schema has no fields", name)
	}

	d := &Descriptor{
		Name:    name,
		Fields:  fields,
		Options: options,
	}

	var idFields []string
	for fieldName, field := range fields {
		switch field.Type {
		case TypeString, TypeNumber, TypeBoolean, TypeDate, TypeObject, TypeArray, TypeAny:
		case "":
			return nil, fmt.Errorf("collection %s: field %s has no type", name, fieldName)
		default:
			return nil, fmt.Errorf("collection %s: field %s has unknown type '%s'", name, fieldName, field.Type)
		}
		if field.IDField {
			idFields = append(idFields, fieldName)
		}
		if field.AutoIncrement {
			if field.Type != TypeNumber {
				return nil, fmt.Errorf("collection %s: autoIncrement field %s must be of type number", name, fieldName)
			}
			if !field.IDField {
				return nil, fmt.Errorf("collection %s: autoIncrement is only supported on the id field, not on %s", name, fieldName)
			}
		}
	}
	sort.Strings(idFields)
	switch len(idFields) {
	case 1:
	case 0:
		return nil, fmt.Errorf("collection %s: exactly one field must be the idField, found none", name)
	default:
		return nil, fmt.Errorf("collection %s: exactly one field must be the idField, found %v", name, idFields)
	}
	d.idField = idFields[0]

	idDef := fields[d.idField]
	if idDef.Type != TypeString && idDef.Type != TypeNumber {
		return nil, fmt.Errorf("collection %s: idField %s must be of type string or number", name, d.idField)
	}
	if idDef.AutoIncrement {
		d.startAt = idDef.StartAt
		if idDef.Min != nil && int64(*idDef.Min) > d.startAt {
			d.startAt = int64(*idDef.Min)
		}
		if d.startAt < 1 {
			d.startAt = 1
		}
		d.incrementBy = idDef.IncrementBy
		if d.incrementBy == 0 {
			d.incrementBy = 1
		}
	}

	var err error
	if d.full, err = compileJSONSchema(d, false); err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	if d.partial, err = compileJSONSchema(d, true); err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	return d, nil
}

// IDField returns the name of the identifier field
func (d *Descriptor) IDField() string {
	return d.idField
}

// IDType returns the type of the identifier field
func (d *Descriptor) IDType() FieldType {
	return d.Fields[d.idField].Type
}

// AutoIncrement returns true if identifiers are assigned from a sequence. It also
// returns the first value and the increment of the sequence.
func (d *Descriptor) AutoIncrement() (ok bool, startAt int64, incrementBy int64) {
	return d.Fields[d.idField].AutoIncrement, d.startAt, d.incrementBy
}

// Has returns true if the field is declared in the schema
func (d *Descriptor) Has(field string) bool {
	_, ok := d.Fields[field]
	return ok
}

// ApplyDefaults sets the default value of every absent field which has one
func (d *Descriptor) ApplyDefaults(record map[string]interface{}) {
	for name, field := range d.Fields {
		if field.Default == nil {
			continue
		}
		if _, ok := record[name]; ok {
			continue
		}
		if field.Type == TypeDate && field.Default == DefaultNow {
			record[name] = time.Now().UTC().Format(time.RFC3339Nano)
			continue
		}
		record[name] = field.Default
	}
}

// Strip removes all fields which are not part of the schema if the descriptor is strict.
func (d *Descriptor) Strip(record map[string]interface{}) {
	if !d.Options.Strict {
		return
	}
	for name := range record {
		if name == d.Options.OwnerField && name != "" {
			continue
		}
		if !d.Has(name) {
			delete(record, name)
		}
	}
}

// ErrValidation is wrapped by all validation errors
var ErrValidation = errors.New("validation failed")

// ValidationError is returned when records do not match the schema. Fields maps
// field names to a description of what is wrong with them.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ErrValidation.Error() + ":"
	for _, k := range keys {
		s += fmt.Sprintf(" %s: %s;", k, e.Fields[k])
	}
	return s
}

// Unwrap makes errors.Is(err, ErrValidation) work
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
