package airport

import "time"

// FlatRow is the tabular projection of an Airport written to the sinks
type FlatRow struct {
	AirportID        *string
	Name             *string
	ICAO             *string
	IATA             *string
	Country          *string
	Lat              *float64
	Lon              *float64
	ElevationM       *float64
	RunwayCount      int
	MaxRunwayLengthM float64
	IngestedAt       time.Time // assigned by the sink at write time
}

// ID returns the airport id, empty when null
func (r FlatRow) ID() string {
	if r.AirportID == nil {
		return ""
	}
	return *r.AirportID
}

// Flatten projects one Airport into a FlatRow. It never fails: missing
// nested values become nil.
func Flatten(a Airport) FlatRow {
	row := FlatRow{
		AirportID:        a.ID.Ptr(),
		Name:             a.Name.Ptr(),
		ICAO:             a.ICAOCode.Ptr(),
		IATA:             a.IATACode.Ptr(),
		Country:          a.Country.Ptr(),
		RunwayCount:      len(a.Runways),
		MaxRunwayLengthM: MaxRunwayLength(a.Runways),
	}

	if a.Geometry != nil {
		row.Lon = coordinateAt(a.Geometry.Coordinates, 0)
		row.Lat = coordinateAt(a.Geometry.Coordinates, 1)
	}
	if a.Elevation != nil {
		row.ElevationM = copyFloat(a.Elevation.Value)
	}

	return row
}

// MaxRunwayLength folds the runway list left to right with the accumulator
// seeded at 0.0. A null length keeps the accumulator, a strictly greater
// length replaces it. The result is never below 0.0.
func MaxRunwayLength(runways []*Runway) float64 {
	acc := 0.0
	for _, r := range runways {
		v := r.LengthValue()
		if v == nil {
			continue
		}
		if *v > acc {
			acc = *v
		}
	}
	return acc
}

// coordinateAt returns coords[i], or nil when the index is out of range
func coordinateAt(coords []*float64, i int) *float64 {
	if i < 0 || i >= len(coords) {
		return nil
	}
	return copyFloat(coords[i])
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}
