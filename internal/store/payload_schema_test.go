package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestSchemaForReflectsStructFields(t *testing.T) {
	schema, err := SchemaFor(samplePayload{})
	require.NoError(t, err)
	require.Contains(t, string(schema.Raw), `"id"`)
	require.Contains(t, string(schema.Raw), `"name"`)
}

func TestPayloadSchemaValidateAcceptsDeclaredKeys(t *testing.T) {
	schema, err := SchemaFor(samplePayload{})
	require.NoError(t, err)

	payload := NewPayload(map[string]interface{}{"id": "1", "name": "widget"}, []string{"id", "name"})
	require.NoError(t, schema.Validate(payload))
}

func TestPayloadSchemaValidateRejectsUndeclaredKey(t *testing.T) {
	schema, err := SchemaFor(samplePayload{})
	require.NoError(t, err)

	payload := NewPayload(map[string]interface{}{"id": "1", "extra": "surprise"}, []string{"id", "extra"})
	err = schema.Validate(payload)
	require.Error(t, err)
	require.Contains(t, err.Error(), "extra")
}

func TestPayloadSchemaValidateEmptySchemaAllowsAnything(t *testing.T) {
	var schema PayloadSchema
	payload := NewPayload(map[string]interface{}{"anything": "goes"}, []string{"anything"})
	require.NoError(t, schema.Validate(payload))
}

func TestSchemaForPayloadReflectsPayloadKeys(t *testing.T) {
	sample := NewPayload(map[string]interface{}{"file_path": "a.txt"}, []string{"file_path"})
	schema, err := SchemaForPayload(sample)
	require.NoError(t, err)
	require.Contains(t, string(schema.Raw), `"file_path"`)

	require.NoError(t, schema.Validate(sample))

	drifted := NewPayload(map[string]interface{}{"file_path": "b.txt", "extra": "unexpected"}, []string{"file_path", "extra"})
	err = schema.Validate(drifted)
	require.Error(t, err)
	require.Contains(t, err.Error(), "extra")
}
