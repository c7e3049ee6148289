package server

import (
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/pitchlab/pitchd/pkg/transcribe"
)

// Query parameter names on the wire.
const (
	paramOnsetThreshold = "onset_threshold"
	paramFrameThreshold = "frame_threshold"
	paramMinNoteLength  = "minimum_note_length"
	paramMinFrequency   = "minimum_frequency"
	paramMaxFrequency   = "maximum_frequency"
)

// InvalidParameterError reports a query parameter that failed to parse or
// violated its range constraint.
type InvalidParameterError struct {
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

// ResolveParams validates the detection-threshold query parameters,
// applying defaults for absent fields. Resolution fails on the first bad
// field; no partial defaults are applied for malformed values.
func ResolveParams(q url.Values) (transcribe.Params, error) {
	p := transcribe.DefaultParams()

	if err := unitFloat(q, paramOnsetThreshold, &p.OnsetThreshold); err != nil {
		return transcribe.Params{}, err
	}
	if err := unitFloat(q, paramFrameThreshold, &p.FrameThreshold); err != nil {
		return transcribe.Params{}, err
	}
	if err := positiveFloat(q, paramMinNoteLength, &p.MinNoteLengthMs); err != nil {
		return transcribe.Params{}, err
	}
	if err := positiveFloat(q, paramMinFrequency, &p.MinFrequencyHz); err != nil {
		return transcribe.Params{}, err
	}
	if err := positiveFloat(q, paramMaxFrequency, &p.MaxFrequencyHz); err != nil {
		return transcribe.Params{}, err
	}

	if p.MinFrequencyHz > 0 && p.MaxFrequencyHz > 0 && p.MinFrequencyHz > p.MaxFrequencyHz {
		return transcribe.Params{}, &InvalidParameterError{
			Field:  paramMinFrequency,
			Reason: "must not exceed " + paramMaxFrequency,
		}
	}

	return p, nil
}

// unitFloat parses an optional field constrained to [0, 1].
func unitFloat(q url.Values, field string, dst *float64) error {
	raw := q.Get(field)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return &InvalidParameterError{Field: field, Reason: "must be a number"}
	}
	if !(v >= 0 && v <= 1) {
		return &InvalidParameterError{Field: field, Reason: "must be between 0 and 1"}
	}
	*dst = v
	return nil
}

// positiveFloat parses an optional field constrained to (0, +inf).
func positiveFloat(q url.Values, field string, dst *float64) error {
	raw := q.Get(field)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return &InvalidParameterError{Field: field, Reason: "must be a number"}
	}
	if !(v > 0) || math.IsInf(v, 0) {
		return &InvalidParameterError{Field: field, Reason: "must be a positive number"}
	}
	*dst = v
	return nil
}
