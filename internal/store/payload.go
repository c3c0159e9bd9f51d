package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// PayloadEntry is one key/value pair of a WorkUnit payload.
type PayloadEntry struct {
	Key   string
	Value interface{}
}

// Payload is an ordered mapping from string key to JSON-representable
// value. Go's map has no stable iteration order, so ordering is
// carried explicitly as a slice of entries; MarshalJSON
// emits them in that order and UnmarshalJSON preserves the order found
// on the wire.
type Payload []PayloadEntry

// Get returns the value for key and whether it was present.
func (p Payload) Get(key string) (interface{}, bool) {
	for _, e := range p {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Map returns the payload as a plain map, discarding order. Useful for
// handing payloads to components that don't care about ordering (the
// enumerator adapters, the HTTP API).
func (p Payload) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(p))
	for _, e := range p {
		m[e.Key] = e.Value
	}
	return m
}

// NewPayload builds an ordered Payload from a map plus an explicit key
// order. Keys not present in order are appended afterward in map
// iteration order (best-effort; callers that care about order should
// always pass a complete order slice).
func NewPayload(m map[string]interface{}, order []string) Payload {
	seen := make(map[string]bool, len(order))
	p := make(Payload, 0, len(m))
	for _, k := range order {
		if v, ok := m[k]; ok {
			p = append(p, PayloadEntry{Key: k, Value: v})
			seen[k] = true
		}
	}
	for k, v := range m {
		if !seen[k] {
			p = append(p, PayloadEntry{Key: k, Value: v})
		}
	}
	return p
}

func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("payload: expected object, got %v", tok)
	}

	var out Payload
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("payload: expected string key, got %v", keyTok)
		}

		var val interface{}
		if err := dec.Decode(&val); err != nil {
			return err
		}
		out = append(out, PayloadEntry{Key: key, Value: val})
	}

	if _, err := dec.Token(); err != nil { // closing '}'
		return err
	}

	*p = out
	return nil
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// RenderTemplate substitutes every {key} in template with
// str(payload[key]). Missing keys leave an inline error marker rather
// than aborting — rendering is a total function so a bad payload never
// masquerades as an agent failure and the rendered prompt stays
// reproducible.
func RenderTemplate(template string, payload Payload) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		val, ok := payload.Get(key)
		if !ok {
			return fmt.Sprintf("%s[[MISSING PAYLOAD KEY: %s]]", match, key)
		}
		return stringify(val)
	})
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
