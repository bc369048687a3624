// Package types holds the flattened records shared between the engine and
// its sinks.
package types

import "encoding/json"

// Event is the string-keyed rendering of an engine event.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// MarshalAttributes encodes the attributes as a JSON object with sorted keys.
// A nil event or attribute set encodes as {}.
func (e *Event) MarshalAttributes() ([]byte, error) {
	if e == nil || e.Attributes == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Attributes)
}

// UnmarshalAttributes is the inverse of MarshalAttributes.
func UnmarshalAttributes(raw []byte) (map[string]string, error) {
	attrs := map[string]string{}
	if len(raw) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}
