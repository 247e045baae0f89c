package schema

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// compileJSONSchema translates the field definitions into a JSON schema. The partial
// variant has no required properties and is used to validate updates.
func compileJSONSchema(d *Descriptor, partial bool) (*gojsonschema.Schema, error) {
	properties := map[string]interface{}{}
	required := []string{}

	autoIncrement, _, _ := d.AutoIncrement()
	for name, field := range d.Fields {
		properties[name] = fieldSchema(field)
		if !partial && field.Required && !(name == d.idField && autoIncrement) {
			required = append(required, name)
		}
	}
	if d.Options.OwnerField != "" {
		properties[d.Options.OwnerField] = map[string]interface{}{"type": "string"}
		if !partial {
			required = append(required, d.Options.OwnerField)
		}
	}

	doc := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	sl := gojsonschema.NewSchemaLoader()
	s, err := sl.Compile(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("cannot compile schema: %w", err)
	}
	return s, nil
}

func fieldSchema(field Field) map[string]interface{} {
	s := map[string]interface{}{}
	var jsonType string
	switch field.Type {
	case TypeString:
		jsonType = "string"
		if field.MinLength != nil {
			s["minLength"] = *field.MinLength
		}
		if field.MaxLength != nil {
			s["maxLength"] = *field.MaxLength
		}
		if field.Pattern != "" {
			s["pattern"] = field.Pattern
		}
	case TypeNumber:
		jsonType = "number"
		if field.Min != nil {
			s["minimum"] = *field.Min
		}
		if field.Max != nil {
			s["maximum"] = *field.Max
		}
	case TypeBoolean:
		jsonType = "boolean"
	case TypeDate:
		jsonType = "string"
		s["format"] = "date-time"
	case TypeObject:
		jsonType = "object"
	case TypeArray:
		jsonType = "array"
	case TypeAny:
		return s
	}

	// optional fields may be explicitly cleared with null
	if field.Required {
		s["type"] = jsonType
	} else {
		s["type"] = []string{jsonType, "null"}
	}
	if len(field.Enum) > 0 {
		enum := append([]interface{}{}, field.Enum...)
		if !field.Required {
			enum = append(enum, nil)
		}
		s["enum"] = enum
	}
	return s
}

// Validate validates a record. For partial validation required fields may be absent,
// which is what updates need. The returned error is a *ValidationError.
func (d *Descriptor) Validate(record map[string]interface{}, partial bool) error {
	s := d.full
	if partial {
		s = d.partial
	}
	body, err := json.Marshal(record)
	if err != nil {
		return &ValidationError{Fields: map[string]string{"(root)": err.Error()}}
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("cannot validate %s: %w", d.Name, err)
	}
	if result.Valid() {
		return nil
	}
	fields := map[string]string{}
	for _, e := range result.Errors() {
		field := e.Field()
		if e.Type() == "required" {
			if property, ok := e.Details()["property"].(string); ok {
				field = property
			}
		}
		if _, ok := fields[field]; !ok {
			fields[field] = e.Description()
		}
	}
	return &ValidationError{Fields: fields}
}
