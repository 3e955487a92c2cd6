package airport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Text is a nullable JSON string. Numeric tokens are accepted and keep their
// literal text, matching how the upstream feed sometimes sends identifiers.
type Text struct {
	Value string
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Text{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text{Value: s, Valid: true}
		return nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*t = Text{Value: n.String(), Valid: true}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*t = Text{Value: fmt.Sprint(b), Valid: true}
		return nil
	}

	return fmt.Errorf("airport: cannot decode %s into text", truncate(data, 32))
}

// Ptr returns nil for a null value
func (t Text) Ptr() *string {
	if !t.Valid {
		return nil
	}
	s := t.Value
	return &s
}

// Airport is one decoded airport record.
//
// Every struct of the model decodes field by field: a value whose JSON type
// does not fit its field leaves that field null instead of rejecting the
// whole record. Only a record that is not a JSON object fails to decode.
type Airport struct {
	ID        Text       `json:"_id"`
	Name      Text       `json:"name"`
	ICAOCode  Text       `json:"icaoCode"`
	IATACode  Text       `json:"iataCode"`
	Type      *int       `json:"type"`
	Country   Text       `json:"country"`
	Geometry  *Geometry  `json:"geometry"`
	Elevation *Elevation `json:"elevation"`
	Runways   []*Runway  `json:"runways"`
	CreatedAt Text       `json:"createdAt"`
	UpdatedAt Text       `json:"updatedAt"`
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Airport) UnmarshalJSON(data []byte) error {
	raw, err := objectFields(data)
	if err != nil {
		return err
	}
	*a = Airport{}
	field(raw, "_id", &a.ID)
	field(raw, "name", &a.Name)
	field(raw, "icaoCode", &a.ICAOCode)
	field(raw, "iataCode", &a.IATACode)
	optional(raw, "type", &a.Type)
	field(raw, "country", &a.Country)
	optional(raw, "geometry", &a.Geometry)
	optional(raw, "elevation", &a.Elevation)
	list(raw, "runways", &a.Runways)
	field(raw, "createdAt", &a.CreatedAt)
	field(raw, "updatedAt", &a.UpdatedAt)
	return nil
}

// Geometry is a GeoJSON-like point. Coordinates are [lon, lat].
type Geometry struct {
	Type        Text       `json:"type"`
	Coordinates []*float64 `json:"coordinates"`
}

// UnmarshalJSON implements json.Unmarshaler
func (g *Geometry) UnmarshalJSON(data []byte) error {
	raw, err := objectFields(data)
	if err != nil {
		return err
	}
	*g = Geometry{}
	field(raw, "type", &g.Type)
	list(raw, "coordinates", &g.Coordinates)
	return nil
}

// Elevation of the airport reference point
type Elevation struct {
	Value          *float64 `json:"value"`
	Unit           *int     `json:"unit"`
	ReferenceDatum *int     `json:"referenceDatum"`
}

// UnmarshalJSON implements json.Unmarshaler
func (e *Elevation) UnmarshalJSON(data []byte) error {
	raw, err := objectFields(data)
	if err != nil {
		return err
	}
	*e = Elevation{}
	optional(raw, "value", &e.Value)
	optional(raw, "unit", &e.Unit)
	optional(raw, "referenceDatum", &e.ReferenceDatum)
	return nil
}

// Runway belongs to exactly one Airport
type Runway struct {
	Designator  Text       `json:"designator"`
	TrueHeading *float64   `json:"trueHeading"`
	MainRunway  *bool      `json:"mainRunway"`
	Surface     *Surface   `json:"surface"`
	Dimension   *Dimension `json:"dimension"`
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Runway) UnmarshalJSON(data []byte) error {
	raw, err := objectFields(data)
	if err != nil {
		return err
	}
	*r = Runway{}
	field(raw, "designator", &r.Designator)
	optional(raw, "trueHeading", &r.TrueHeading)
	optional(raw, "mainRunway", &r.MainRunway)
	optional(raw, "surface", &r.Surface)
	optional(raw, "dimension", &r.Dimension)
	return nil
}

// Surface composition codes
type Surface struct {
	Composition   []*int `json:"composition"`
	MainComposite *int   `json:"mainComposite"`
	Condition     *int   `json:"condition"`
}

// UnmarshalJSON implements json.Unmarshaler
func (s *Surface) UnmarshalJSON(data []byte) error {
	raw, err := objectFields(data)
	if err != nil {
		return err
	}
	*s = Surface{}
	list(raw, "composition", &s.Composition)
	optional(raw, "mainComposite", &s.MainComposite)
	optional(raw, "condition", &s.Condition)
	return nil
}

// Dimension holds runway length and width
type Dimension struct {
	Length *Measure `json:"length"`
	Width  *Measure `json:"width"`
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Dimension) UnmarshalJSON(data []byte) error {
	raw, err := objectFields(data)
	if err != nil {
		return err
	}
	*d = Dimension{}
	optional(raw, "length", &d.Length)
	optional(raw, "width", &d.Width)
	return nil
}

// Measure is a value with its unit code
type Measure struct {
	Value *float64 `json:"value"`
	Unit  *int     `json:"unit"`
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Measure) UnmarshalJSON(data []byte) error {
	raw, err := objectFields(data)
	if err != nil {
		return err
	}
	*m = Measure{}
	optional(raw, "value", &m.Value)
	optional(raw, "unit", &m.Unit)
	return nil
}

// LengthValue returns the runway length value, nil when any level is missing
func (r *Runway) LengthValue() *float64 {
	if r == nil || r.Dimension == nil || r.Dimension.Length == nil {
		return nil
	}
	return r.Dimension.Length.Value
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// objectFields splits a JSON object into its raw members
func objectFields(data []byte) (map[string]json.RawMessage, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return nil, fmt.Errorf("airport: %s is not an object", truncate(data, 32))
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// field decodes raw[key] into dst, leaving dst untouched when the key is
// absent or the value does not fit
func field[T any](raw map[string]json.RawMessage, key string, dst *T) {
	v, ok := raw[key]
	if !ok {
		return
	}
	var tmp T
	if err := json.Unmarshal(v, &tmp); err == nil {
		*dst = tmp
	}
}

// optional decodes raw[key] into a nullable field; null and values that do
// not fit leave it nil
func optional[T any](raw map[string]json.RawMessage, key string, dst **T) {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return
	}
	var tmp T
	if err := json.Unmarshal(v, &tmp); err == nil {
		*dst = &tmp
	}
}

// list decodes raw[key] element by element. An element that does not fit
// is nil at its position so positional fields keep their meaning.
func list[T any](raw map[string]json.RawMessage, key string, dst *[]*T) {
	v, ok := raw[key]
	if !ok {
		return
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(v, &elems); err != nil || elems == nil {
		return
	}
	out := make([]*T, len(elems))
	for i, e := range elems {
		if isNull(e) {
			continue
		}
		var tmp T
		if err := json.Unmarshal(e, &tmp); err == nil {
			out[i] = &tmp
		}
	}
	*dst = out
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
