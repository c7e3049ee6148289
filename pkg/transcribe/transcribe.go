// Package transcribe converts audio files to MIDI using a pretrained
// note-transcription model. The neural network runs via ONNX Runtime;
// audio decoding, posteriorgram decoding and MIDI serialization live here.
package transcribe

import (
	"errors"
	"fmt"
)

// Version is reported by the /health endpoint.
const Version = "1.0.0"

// Model geometry. The network consumes fixed 2 second windows of 22050 Hz
// mono audio and emits onset/note posteriorgrams at one frame per FFT hop.
const (
	SampleRate = 22050
	fftHop     = 256

	// Samples per inference window: 2 s minus one hop.
	windowSamples = 2*SampleRate - fftHop // 43844

	// Adjacent windows overlap by 30 frames; half is trimmed from each
	// side of a window's output when stitching.
	overlapFrames  = 30
	overlapSamples = overlapFrames * fftHop         // 7680
	windowHop      = windowSamples - overlapSamples // 36164

	// Posteriorgram frames per window.
	framesPerWindow = windowSamples/fftHop + 1 // 172

	// Pitch axis: 88 semitones starting at MIDI note 21 (A0).
	numPitches = 88
	midiOffset = 21
)

// framesPerSecond is the posteriorgram frame rate.
const framesPerSecond = float64(SampleRate) / float64(fftHop)

// Params are the detection thresholds applied when decoding the model's
// posteriorgrams into note events.
type Params struct {
	OnsetThreshold  float64 // [0, 1]
	FrameThreshold  float64 // [0, 1]
	MinNoteLengthMs float64 // > 0
	MinFrequencyHz  float64 // 0 means unset
	MaxFrequencyHz  float64 // 0 means unset
}

// DefaultParams returns the model's recommended thresholds.
func DefaultParams() Params {
	return Params{
		OnsetThreshold:  0.5,
		FrameThreshold:  0.3,
		MinNoteLengthMs: 58.0,
	}
}

// Result holds the finished MIDI artifact for one transcription.
type Result struct {
	MIDI []byte
}

// Transcriber turns a staged audio file into MIDI bytes. Implementations
// are safe for concurrent use; the shared model session may serialize
// inference internally.
type Transcriber interface {
	Transcribe(audioPath string, params Params) (*Result, error)
	Close() error
}

// ErrUnsupportedFormat means the audio container or codec could not be
// decoded. It is a client error, distinct from inference faults.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// InferenceError wraps a failure inside feature extraction or the model
// session. The input was readable but processing failed.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Note is a single detected note event in seconds.
type Note struct {
	Start     float64
	End       float64
	Key       uint8   // MIDI key number
	Amplitude float64 // mean frame energy over the note, [0, 1]
}
