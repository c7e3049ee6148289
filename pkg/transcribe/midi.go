// This file serializes note events into a Standard MIDI File byte stream.
package transcribe

import (
	"bytes"
	"fmt"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	midiTempoBPM   = 120.0
	midiTicksPerQN = 960
	midiChannel    = 0
	midiProgram    = 0 // acoustic grand piano
)

// secondsToTicks converts a timestamp to absolute MIDI ticks at the fixed
// tempo and resolution above.
func secondsToTicks(sec float64) uint32 {
	ticks := sec * midiTempoBPM / 60.0 * midiTicksPerQN
	if ticks < 0 {
		return 0
	}
	return uint32(ticks + 0.5)
}

// midiEvent is a note on/off pending delta-time encoding.
type midiEvent struct {
	tick uint32
	on   bool
	key  uint8
	vel  uint8
}

// NotesToMIDI encodes note events as a single-track SMF at 120 BPM.
// An empty note list still produces a structurally valid, playable file
// with tempo and end-of-track events only.
func NotesToMIDI(notes []Note) ([]byte, error) {
	events := make([]midiEvent, 0, 2*len(notes))
	for _, n := range notes {
		vel := int(n.Amplitude*127.0 + 0.5)
		if vel < 1 {
			vel = 1
		}
		if vel > 127 {
			vel = 127
		}
		events = append(events,
			midiEvent{tick: secondsToTicks(n.Start), on: true, key: n.Key, vel: uint8(vel)},
			midiEvent{tick: secondsToTicks(n.End), on: false, key: n.Key},
		)
	}

	// Offs sort before ons at the same tick so retriggered notes are not
	// cut by their own release. Key order breaks remaining ties to keep
	// the byte stream deterministic.
	sort.SliceStable(events, func(a, b int) bool {
		ea, eb := events[a], events[b]
		if ea.tick != eb.tick {
			return ea.tick < eb.tick
		}
		if ea.on != eb.on {
			return !ea.on
		}
		return ea.key < eb.key
	})

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(midiTicksPerQN)

	var tr smf.Track
	tr.Add(0, smf.MetaTempo(midiTempoBPM))
	tr.Add(0, midi.ProgramChange(midiChannel, midiProgram))

	var prevTick uint32
	for _, ev := range events {
		delta := ev.tick - prevTick
		prevTick = ev.tick
		if ev.on {
			tr.Add(delta, midi.NoteOn(midiChannel, ev.key, ev.vel))
		} else {
			tr.Add(delta, midi.NoteOff(midiChannel, ev.key))
		}
	}
	tr.Close(0)
	s.Tracks = append(s.Tracks, tr)

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write midi: %w", err)
	}
	return buf.Bytes(), nil
}
