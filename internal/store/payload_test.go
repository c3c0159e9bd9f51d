package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPayloadPreservesGivenOrder(t *testing.T) {
	p := NewPayload(map[string]interface{}{"b": 2, "a": 1, "c": 3}, []string{"c", "a", "b"})
	require.Equal(t, []string{"c", "a", "b"}, keys(p))
}

func TestPayloadMarshalJSONPreservesOrder(t *testing.T) {
	p := NewPayload(map[string]interface{}{"z": "last", "a": "first"}, []string{"a", "z"})
	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.Equal(t, `{"a":"first","z":"last"}`, string(data))
}

func TestPayloadUnmarshalJSONPreservesWireOrder(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"a":2,"m":3}`), &p))
	require.Equal(t, []string{"z", "a", "m"}, keys(p))
}

func TestPayloadRoundTrip(t *testing.T) {
	original := NewPayload(map[string]interface{}{"id": "42", "name": "widget"}, []string{"id", "name"})
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Payload
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, keys(original), keys(decoded))

	v, ok := decoded.Get("name")
	require.True(t, ok)
	require.Equal(t, "widget", v)
}

func TestRenderTemplateSubstitutesPresentKeys(t *testing.T) {
	payload := NewPayload(map[string]interface{}{"file": "a.go", "line": 12}, []string{"file", "line"})
	out := RenderTemplate("review {file} at line {line}", payload)
	require.Equal(t, "review a.go at line 12", out)
}

func TestRenderTemplateMissingKeyLeavesInlineMarker(t *testing.T) {
	payload := NewPayload(map[string]interface{}{"file": "a.go"}, []string{"file"})
	out := RenderTemplate("review {file}, severity {severity}", payload)
	require.Contains(t, out, "review a.go")
	require.Contains(t, out, "{severity}[[MISSING PAYLOAD KEY: severity]]")
}

func TestRenderTemplateNeverErrors(t *testing.T) {
	out := RenderTemplate("{a}{b}{c}", NewPayload(nil, nil))
	require.Contains(t, out, "MISSING PAYLOAD KEY: a")
	require.Contains(t, out, "MISSING PAYLOAD KEY: b")
	require.Contains(t, out, "MISSING PAYLOAD KEY: c")
}

func keys(p Payload) []string {
	out := make([]string, len(p))
	for i, e := range p {
		out[i] = e.Key
	}
	return out
}
