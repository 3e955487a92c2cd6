package airport

// Clean applies the minimal row invariants before a row may reach a sink.
// It reports false for rows without an airport_id, which must be dropped.
// runway_count is clamped to a non-negative integer; the float columns are
// already normalised by Flatten and pass through untouched.
func Clean(row FlatRow) (FlatRow, bool) {
	if row.AirportID == nil {
		return row, false
	}
	if row.RunwayCount < 0 {
		row.RunwayCount = 0
	}
	return row, true
}

// Transform runs Decode, Flatten and Clean over one payload
func Transform(payload []byte) (TransformResult, error) {
	dec, err := Decode(payload)
	res := TransformResult{
		Envelope: dec.Envelope,
		Skipped:  dec.Skipped,
	}
	if err != nil {
		return res, err
	}

	res.Rows = make([]FlatRow, 0, len(dec.Airports))
	for _, a := range dec.Airports {
		row, ok := Clean(Flatten(a))
		if !ok {
			res.MissingID++
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// TransformResult holds the clean rows produced from one payload
type TransformResult struct {
	Envelope  Envelope
	Rows      []FlatRow
	Skipped   int // list elements that are not JSON objects
	MissingID int // rows dropped for a null airport_id
}
