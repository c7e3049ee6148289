package server

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveParamsDefaults(t *testing.T) {
	p, err := ResolveParams(url.Values{})
	require.NoError(t, err)

	assert.Equal(t, 0.5, p.OnsetThreshold)
	assert.Equal(t, 0.3, p.FrameThreshold)
	assert.Equal(t, 58.0, p.MinNoteLengthMs)
	assert.Zero(t, p.MinFrequencyHz)
	assert.Zero(t, p.MaxFrequencyHz)
}

func TestResolveParamsExplicit(t *testing.T) {
	q := url.Values{}
	q.Set("onset_threshold", "0.9")
	q.Set("frame_threshold", "0")
	q.Set("minimum_note_length", "100")
	q.Set("minimum_frequency", "55")
	q.Set("maximum_frequency", "2000")

	p, err := ResolveParams(q)
	require.NoError(t, err)

	assert.Equal(t, 0.9, p.OnsetThreshold)
	assert.Equal(t, 0.0, p.FrameThreshold)
	assert.Equal(t, 100.0, p.MinNoteLengthMs)
	assert.Equal(t, 55.0, p.MinFrequencyHz)
	assert.Equal(t, 2000.0, p.MaxFrequencyHz)
}

func TestResolveParamsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value string
	}{
		{"onset not a number", "onset_threshold", "high"},
		{"onset above one", "onset_threshold", "1.5"},
		{"onset negative", "onset_threshold", "-0.1"},
		{"onset nan", "onset_threshold", "NaN"},
		{"frame above one", "frame_threshold", "2"},
		{"note length zero", "minimum_note_length", "0"},
		{"note length negative", "minimum_note_length", "-58"},
		{"note length not a number", "minimum_note_length", "fifty"},
		{"note length inf", "minimum_note_length", "Inf"},
		{"min frequency zero", "minimum_frequency", "0"},
		{"max frequency garbage", "maximum_frequency", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := url.Values{}
			q.Set(tt.field, tt.value)

			_, err := ResolveParams(q)
			require.Error(t, err)

			var paramErr *InvalidParameterError
			require.ErrorAs(t, err, &paramErr)
			assert.Equal(t, tt.field, paramErr.Field)
		})
	}
}

func TestResolveParamsFrequencyBoundsOrder(t *testing.T) {
	q := url.Values{}
	q.Set("minimum_frequency", "2000")
	q.Set("maximum_frequency", "55")

	_, err := ResolveParams(q)
	var paramErr *InvalidParameterError
	require.ErrorAs(t, err, &paramErr)

	// The ordering violation fails even when every other field is valid.
	q.Set("onset_threshold", "0.5")
	_, err = ResolveParams(q)
	require.ErrorAs(t, err, &paramErr)
}

func TestResolveParamsSingleBoundOK(t *testing.T) {
	q := url.Values{}
	q.Set("minimum_frequency", "110")

	p, err := ResolveParams(q)
	require.NoError(t, err)
	assert.Equal(t, 110.0, p.MinFrequencyHz)
	assert.Zero(t, p.MaxFrequencyHz)
}
