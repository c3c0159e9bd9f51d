package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/invopop/jsonschema"
)

// PayloadSchema describes the shape enumerator adapters promise their
// payloads will have. It is generated once per unit_type (from a
// representative Go struct supplied by the adapter, or from a sample
// payload) and stored on the Job so that the structured-document-array
// and user-supplied-code enumerators — whose output is otherwise
// untyped JSON — have something concrete for a human reviewer to
// approve against during the dynamic-enumerator approval gate.
type PayloadSchema struct {
	Raw json.RawMessage `json:"raw"`
}

// SchemaFor reflects a Go value into a JSON schema describing the
// shape enumerator payloads of this unit_type are expected to have.
func SchemaFor(sample interface{}) (PayloadSchema, error) {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(sample)
	raw, err := json.Marshal(schema)
	if err != nil {
		return PayloadSchema{}, fmt.Errorf("marshal payload schema: %w", err)
	}
	return PayloadSchema{Raw: raw}, nil
}

// SchemaForPayload reflects a sample Payload into a PayloadSchema. It
// builds an anonymous Go struct whose fields mirror the payload's keys
// (one exported field per key, JSON-tagged with the original key so
// the reflected schema's property names match exactly) and hands that
// to SchemaFor, since invopop/jsonschema only produces named
// "properties" entries for struct types, not for a bare
// map[string]interface{}. This is how CreateJob derives the schema a
// dynamic enumerator's output is checked against.
func SchemaForPayload(p Payload) (PayloadSchema, error) {
	fields := make([]reflect.StructField, 0, len(p))
	seen := make(map[string]bool, len(p))
	for i, e := range p {
		name := exportedFieldName(e.Key, i)
		if seen[name] {
			continue
		}
		seen[name] = true

		t := reflect.TypeOf(e.Value)
		if t == nil {
			t = reflect.TypeOf((*interface{})(nil)).Elem()
		}
		fields = append(fields, reflect.StructField{
			Name: name,
			Type: t,
			Tag:  reflect.StructTag(fmt.Sprintf(`json:%q`, e.Key)),
		})
	}

	sample := reflect.New(reflect.StructOf(fields)).Elem().Interface()
	return SchemaFor(sample)
}

// exportedFieldName turns a payload key into a valid exported Go
// identifier for use with reflect.StructOf: underscores and spaces
// become word breaks camelCased into the field name, and a key that
// still doesn't start with a letter after that falls back to a
// positional placeholder.
func exportedFieldName(key string, idx int) string {
	var b strings.Builder
	upperNext := true
	for _, r := range key {
		if r == '_' || r == '-' || r == ' ' {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" || !unicode.IsLetter(rune(name[0])) {
		name = fmt.Sprintf("Field%d%s", idx, name)
	}
	return name
}

// Validate checks that payload's keys are a subset of the schema's
// declared properties. This is a deliberately shallow check — full
// JSON Schema validation is out of scope — just enough to catch an
// enumerator adapter whose output drifted from what was approved.
func (s PayloadSchema) Validate(payload Payload) error {
	if len(s.Raw) == 0 {
		return nil
	}
	var parsed struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(s.Raw, &parsed); err != nil {
		return fmt.Errorf("parse payload schema: %w", err)
	}
	if len(parsed.Properties) == 0 {
		return nil
	}
	for _, entry := range payload {
		if _, ok := parsed.Properties[entry.Key]; !ok {
			return fmt.Errorf("payload key %q not present in approved schema", entry.Key)
		}
	}
	return nil
}
