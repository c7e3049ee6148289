// This file decodes the model's onset/note posteriorgrams into discrete
// note events. The decode must be deterministic: identical posteriorgrams
// and thresholds always yield the same events in the same order.
package transcribe

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// energyTolFrames is how many consecutive frames may dip below the frame
// threshold before a note is closed.
const energyTolFrames = 11

// pitchIndexForHz maps a frequency to the nearest pitch row, clamped to
// the model's 88-key range.
func pitchIndexForHz(hz float64) int {
	midi := 12*math.Log2(hz/440.0) + 69
	idx := int(math.Round(midi)) - midiOffset
	if idx < 0 {
		idx = 0
	}
	if idx > numPitches-1 {
		idx = numPitches - 1
	}
	return idx
}

// onsetCandidate is a local maximum in the onset posteriorgram.
type onsetCandidate struct {
	frame  int
	pitch  int
	energy float64
}

// notesFromPosteriorgrams converts onset and frame posteriorgrams
// (time-major, 88 pitch columns) into note events using the caller's
// thresholds. A silent input yields an empty, non-nil slice.
func notesFromPosteriorgrams(onsets, frames [][]float64, p Params) []Note {
	notes := []Note{}
	if len(frames) == 0 {
		return notes
	}

	loPitch, hiPitch := 0, numPitches-1
	if p.MinFrequencyHz > 0 {
		loPitch = pitchIndexForHz(p.MinFrequencyHz)
	}
	if p.MaxFrequencyHz > 0 {
		hiPitch = pitchIndexForHz(p.MaxFrequencyHz)
	}

	minLenFrames := int(math.Round(p.MinNoteLengthMs / 1000.0 * framesPerSecond))
	if minLenFrames < 1 {
		minLenFrames = 1
	}

	numFrames := len(frames)
	consumed := make([][]bool, numFrames)
	for i := range consumed {
		consumed[i] = make([]bool, numPitches)
	}

	// Pass 1: onset-driven. Collect local maxima above the onset
	// threshold and track each forward through the frame posteriorgram.
	var candidates []onsetCandidate
	for i := 0; i < numFrames && i < len(onsets); i++ {
		for k := loPitch; k <= hiPitch; k++ {
			e := onsets[i][k]
			if e < p.OnsetThreshold {
				continue
			}
			if i > 0 && onsets[i-1][k] > e {
				continue
			}
			if i+1 < len(onsets) && onsets[i+1][k] > e {
				continue
			}
			candidates = append(candidates, onsetCandidate{frame: i, pitch: k, energy: e})
		}
	}

	// Strongest onsets claim frames first. Ties break on frame then
	// pitch so the order is stable across runs.
	sort.Slice(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if ca.energy != cb.energy {
			return ca.energy > cb.energy
		}
		if ca.frame != cb.frame {
			return ca.frame < cb.frame
		}
		return ca.pitch < cb.pitch
	})

	for _, c := range candidates {
		if consumed[c.frame][c.pitch] {
			continue
		}
		end := trackForward(frames, consumed, c.frame, c.pitch, p.FrameThreshold)
		if end-c.frame < minLenFrames {
			continue
		}
		notes = append(notes, makeNote(frames, c.frame, end, c.pitch))
	}

	// Pass 2: sustained energy without a detected onset. Seeds are
	// scanned in fixed time/pitch order and expanded both directions.
	for i := 0; i < numFrames; i++ {
		for k := loPitch; k <= hiPitch; k++ {
			if consumed[i][k] || frames[i][k] < p.FrameThreshold {
				continue
			}
			start := trackBackward(frames, consumed, i, k, p.FrameThreshold)
			end := trackForward(frames, consumed, start, k, p.FrameThreshold)
			if end-start < minLenFrames {
				continue
			}
			notes = append(notes, makeNote(frames, start, end, k))
		}
	}

	sort.Slice(notes, func(a, b int) bool {
		if notes[a].Start != notes[b].Start {
			return notes[a].Start < notes[b].Start
		}
		return notes[a].Key < notes[b].Key
	})

	return notes
}

// trackForward walks a pitch column from start while frame energy stays
// above the threshold, tolerating short dips, marking frames consumed.
// Returns the exclusive end frame.
func trackForward(frames [][]float64, consumed [][]bool, start, pitch int, thresh float64) int {
	end := start
	gap := 0
	for i := start; i < len(frames); i++ {
		if consumed[i][pitch] {
			break
		}
		if frames[i][pitch] < thresh {
			gap++
			if gap > energyTolFrames {
				break
			}
			continue
		}
		gap = 0
		end = i + 1
	}
	for i := start; i < end; i++ {
		consumed[i][pitch] = true
	}
	return end
}

// trackBackward finds the earliest unconsumed frame above the threshold
// that connects to seed without a dip longer than the tolerance.
func trackBackward(frames [][]float64, consumed [][]bool, seed, pitch int, thresh float64) int {
	start := seed
	gap := 0
	for i := seed - 1; i >= 0; i-- {
		if consumed[i][pitch] {
			break
		}
		if frames[i][pitch] < thresh {
			gap++
			if gap > energyTolFrames {
				break
			}
			continue
		}
		gap = 0
		start = i
	}
	return start
}

// makeNote builds a note event spanning [start, end) frames of a pitch
// column, with amplitude as the mean frame energy.
func makeNote(frames [][]float64, start, end, pitch int) Note {
	col := make([]float64, 0, end-start)
	for i := start; i < end; i++ {
		col = append(col, frames[i][pitch])
	}
	amp := 0.0
	if len(col) > 0 {
		amp = floats.Sum(col) / float64(len(col))
	}
	return Note{
		Start:     float64(start) / framesPerSecond,
		End:       float64(end) / framesPerSecond,
		Key:       uint8(pitch + midiOffset),
		Amplitude: amp,
	}
}
