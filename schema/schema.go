// Package schema defines collection schemas and validates records against them.
//
// A schema maps each field name to a descriptor:
//
//	{
//	  "id":    {"type": "number", "primary": true},
//	  "title": {"type": "string", "required": true},
//	  "tags":  {"type": "object"}
//	}
//
// Supported types are string, number, boolean and object. Exactly one field
// must be marked primary.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/stevemurr/jsondb/dberr"
)

// Field types accepted in a descriptor.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
)

var validTypes = []string{TypeString, TypeNumber, TypeBoolean, TypeObject}

// Field describes a single schema field.
type Field struct {
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Primary  bool   `json:"primary,omitempty"`
}

// Schema maps field names to their descriptors.
type Schema map[string]Field

// PrimaryKey returns the name of the primary field, or "" if there is none.
func (s Schema) PrimaryKey() string {
	for _, name := range s.fieldNames() {
		if s[name].Primary {
			return name
		}
	}
	return ""
}

// Required returns the sorted names of all fields marked required.
func (s Schema) Required() []string {
	var names []string
	for _, name := range s.fieldNames() {
		if s[name].Required {
			names = append(names, name)
		}
	}
	return names
}

func (s Schema) fieldNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const opSchema = "validate schema"

// Validate checks a typed schema: it must be non-empty, every field must use
// a supported type and exactly one field must be primary.
func Validate(s Schema) error {
	if len(s) == 0 {
		return dberr.Newf(dberr.InvalidSchemaShape, opSchema, "", "schema must have at least one field")
	}
	primaries := 0
	for _, name := range s.fieldNames() {
		f := s[name]
		if f.Type == "" {
			return dberr.Newf(dberr.InvalidFieldDescriptor, opSchema, name, "missing type")
		}
		if !slices.Contains(validTypes, f.Type) {
			return dberr.Newf(dberr.InvalidFieldDescriptor, opSchema, name, "unsupported type %q", f.Type)
		}
		if f.Primary {
			primaries++
		}
	}
	switch {
	case primaries > 1:
		return dberr.Newf(dberr.MultiplePrimaryKeys, opSchema, "", "found %d primary fields", primaries)
	case primaries == 0:
		return dberr.Newf(dberr.MissingPrimaryKey, opSchema, "", "schema must mark one field primary")
	}
	return nil
}

// Parse converts a decoded JSON value into a Schema, rejecting anything that
// is not a valid schema definition.
func Parse(raw any) (Schema, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, dberr.Newf(dberr.InvalidSchemaShape, opSchema, "", "schema must be an object, got %s", jsonType(raw))
	}
	if len(obj) == 0 {
		return nil, dberr.Newf(dberr.InvalidSchemaShape, opSchema, "", "schema must have at least one field")
	}
	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	s := make(Schema, len(obj))
	for _, name := range names {
		desc, ok := obj[name].(map[string]any)
		if !ok {
			return nil, dberr.Newf(dberr.InvalidFieldDescriptor, opSchema, name, "descriptor must be an object")
		}
		typ, ok := desc["type"].(string)
		if !ok {
			return nil, dberr.Newf(dberr.InvalidFieldDescriptor, opSchema, name, "missing type")
		}
		f := Field{Type: typ}
		for _, opt := range []struct {
			key string
			dst *bool
		}{{"required", &f.Required}, {"primary", &f.Primary}} {
			flag, present := desc[opt.key]
			if !present {
				continue
			}
			b, ok := flag.(bool)
			if !ok {
				return nil, dberr.Newf(dberr.InvalidFieldDescriptor, opSchema, name, "%s must be a boolean", opt.key)
			}
			*opt.dst = b
		}
		s[name] = f
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseJSON decodes and parses a schema document.
func ParseJSON(data []byte) (Schema, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, dberr.Newf(dberr.InvalidSchemaShape, opSchema, "", "invalid JSON: %v", err)
	}
	return Parse(raw)
}

const opRecord = "validate record"

// ValidateRecord checks record against s. Fields are visited in sorted order
// so the reported failure is stable for a given input.
func ValidateRecord(s Schema, record any) error {
	obj, ok := record.(map[string]any)
	if !ok {
		obj, ok = asObject(record)
	}
	if !ok {
		return dberr.Newf(dberr.InvalidRecordShape, opRecord, "", "record must be an object, got %s", jsonType(record))
	}
	if len(obj) == 0 {
		return dberr.Newf(dberr.InvalidRecordShape, opRecord, "", "record must have at least one field")
	}

	pk := s.PrimaryKey()
	if _, exists := obj[pk]; !exists {
		return dberr.New(dberr.MissingPrimaryKeyField, opRecord, pk)
	}

	var missing []string
	for _, name := range s.Required() {
		if _, exists := obj[name]; !exists {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return dberr.Newf(dberr.MissingRequiredField, opRecord, missing[0], "missing %s", strings.Join(missing, ", "))
	}

	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, declared := s[name]; !declared {
			return dberr.New(dberr.UnknownField, opRecord, name)
		}
	}
	for _, name := range names {
		if err := checkType(s[name].Type, obj[name], name); err != nil {
			return err
		}
	}
	return nil
}

// asObject accepts named map types such as store.Record.
func asObject(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	target := reflect.TypeOf(map[string]any{})
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || !rv.Type().ConvertibleTo(target) {
		return nil, false
	}
	m, ok := rv.Convert(target).Interface().(map[string]any)
	return m, ok
}

func checkType(expected string, value any, field string) error {
	if actual := jsonType(value); actual != expected {
		return dberr.Newf(dberr.TypeMismatch, opRecord, field, "expected %s, got %s", expected, actual)
	}
	if expected == TypeNumber && !finite(value) {
		return dberr.Newf(dberr.TypeMismatch, opRecord, field, "%v is not a JSON number", value)
	}
	return nil
}

// finite reports whether a number can be written as JSON. NaN and the
// infinities cannot.
func finite(v any) bool {
	var f float64
	if n, ok := v.(json.Number); ok {
		var err error
		if f, err = n.Float64(); err != nil {
			return false
		}
	} else {
		rv := reflect.ValueOf(v)
		if k := rv.Kind(); k != reflect.Float32 && k != reflect.Float64 {
			return true
		}
		f = rv.Float()
	}
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// jsonType names the schema type a decoded value satisfies. Arrays count as
// objects; null satisfies nothing.
func jsonType(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case map[string]any, []any:
		return TypeObject
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return TypeNumber
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return TypeObject
	case reflect.String:
		return TypeString
	case reflect.Bool:
		return TypeBoolean
	case reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeNumber
	}
	return fmt.Sprintf("%T", v)
}
