package airport

import (
	"encoding/json"
	"fmt"
)

// ParseEnvelope maps an envelope name back to its value
func ParseEnvelope(name string) (Envelope, error) {
	switch name {
	case "items":
		return EnvelopeItems, nil
	case "list":
		return EnvelopeList, nil
	default:
		return EnvelopeUnknown, fmt.Errorf("unknown envelope %q (want items or list)", name)
	}
}

// Encode wraps raw airport elements in the given envelope
func Encode(env Envelope, elems []json.RawMessage) ([]byte, error) {
	if elems == nil {
		elems = []json.RawMessage{}
	}
	switch env {
	case EnvelopeItems:
		return json.Marshal(struct {
			Items []json.RawMessage `json:"items"`
		}{elems})
	case EnvelopeList:
		return json.Marshal(elems)
	default:
		return nil, fmt.Errorf("cannot encode envelope %s", env)
	}
}
