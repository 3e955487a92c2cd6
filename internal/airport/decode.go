package airport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope identifies the top-level JSON shape wrapping airport records
type Envelope int

const (
	EnvelopeUnknown Envelope = iota
	EnvelopeItems            // {"items": [...]}
	EnvelopeList             // [...]
)

// String returns the envelope name used in logs and metrics
func (e Envelope) String() string {
	switch e {
	case EnvelopeItems:
		return "items"
	case EnvelopeList:
		return "list"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownEnvelope is returned for payloads that are neither an object nor an array
	ErrUnknownEnvelope = errors.New("airport: payload is neither an object nor an array")
	// ErrMalformed is returned for payloads that are not valid JSON for the detected envelope
	ErrMalformed = errors.New("airport: malformed payload")
)

var utf8BOM = []byte("\xef\xbb\xbf")

// DecodeResult holds the records decoded from one payload
type DecodeResult struct {
	Envelope Envelope
	Airports []Airport
	// Skipped counts list elements that are not JSON objects
	Skipped int
}

// DetectEnvelope inspects the first non-whitespace byte of the payload
func DetectEnvelope(payload []byte) Envelope {
	trimmed := bytes.TrimPrefix(payload, utf8BOM)
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	if len(trimmed) == 0 {
		return EnvelopeUnknown
	}
	switch trimmed[0] {
	case '{':
		return EnvelopeItems
	case '[':
		return EnvelopeList
	default:
		return EnvelopeUnknown
	}
}

// Decode parses a raw payload into airport records.
//
// The envelope is chosen once from the first JSON token. A payload that
// matches neither shape, or is not valid JSON, yields no records together
// with ErrUnknownEnvelope or ErrMalformed. Callers drop such messages; the
// error only exists for logging and metrics. List elements that are not
// JSON objects are skipped without affecting their siblings; fields of the
// wrong type inside an element decode as null.
func Decode(payload []byte) (DecodeResult, error) {
	env, elems, err := Elements(payload)
	res := DecodeResult{Envelope: env}
	if err != nil {
		return res, err
	}

	res.Airports = make([]Airport, 0, len(elems))
	for _, raw := range elems {
		a, ok := decodeAirport(raw)
		if !ok {
			res.Skipped++
			continue
		}
		res.Airports = append(res.Airports, a)
	}
	return res, nil
}

// Elements splits a payload into its raw list elements without decoding them
func Elements(payload []byte) (Envelope, []json.RawMessage, error) {
	payload = bytes.TrimPrefix(payload, utf8BOM)
	env := DetectEnvelope(payload)

	var elems []json.RawMessage
	switch env {
	case EnvelopeItems:
		var wrapped struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(payload, &wrapped); err != nil {
			return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		elems = wrapped.Items
	case EnvelopeList:
		if err := json.Unmarshal(payload, &elems); err != nil {
			return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	default:
		return env, nil, ErrUnknownEnvelope
	}
	return env, elems, nil
}

// decodeAirport decodes one list element. A JSON null element is kept as an
// airport with every field null so the validator drops it like any other
// keyless record.
func decodeAirport(raw json.RawMessage) (Airport, bool) {
	var a Airport
	if isNull(raw) {
		return a, true
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return Airport{}, false
	}
	return a, true
}
