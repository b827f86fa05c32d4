package inference

import (
	"encoding/json"
	"fmt"
)

// Box holds a detection's bbox exactly as the endpoint sent it. Anything
// that is not a numeric array decodes without error so one bad detection
// cannot reject a whole response; Coords reports whether it is usable.
type Box struct {
	coords []float64
	raw    json.RawMessage
}

// NewBox builds a box from corner coordinates.
func NewBox(coords ...float64) *Box {
	return &Box{coords: coords}
}

// Coords returns the four corners when the box is a 4-element numeric array.
func (b *Box) Coords() ([4]float64, bool) {
	var out [4]float64
	if b == nil || len(b.coords) != 4 {
		return out, false
	}
	copy(out[:], b.coords)
	return out, true
}

// Value returns the box as a generic JSON value (numbers as float64).
func (b *Box) Value() interface{} {
	if b == nil {
		return []interface{}{}
	}
	if b.raw == nil {
		vals := make([]interface{}, len(b.coords))
		for i, c := range b.coords {
			vals[i] = c
		}
		return vals
	}
	var v interface{}
	if err := json.Unmarshal(b.raw, &v); err != nil {
		return []interface{}{}
	}
	return v
}

// String renders the box for diagnostics.
func (b *Box) String() string {
	if b == nil {
		return "<nil>"
	}
	if b.raw != nil {
		return string(b.raw)
	}
	return fmt.Sprint(b.coords)
}

// UnmarshalJSON keeps the raw value and extracts numeric coordinates when possible.
func (b *Box) UnmarshalJSON(data []byte) error {
	b.raw = append(json.RawMessage(nil), data...)
	b.coords = nil
	var coords []float64
	if err := json.Unmarshal(data, &coords); err == nil {
		b.coords = coords
	}
	return nil
}

// MarshalJSON re-emits the box unchanged.
func (b Box) MarshalJSON() ([]byte, error) {
	if b.raw != nil {
		return b.raw, nil
	}
	if b.coords == nil {
		return []byte("null"), nil
	}
	return json.Marshal(b.coords)
}
