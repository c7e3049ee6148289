//go:build tensorflow

// This file provides an alternative engine that runs the transcription
// model as a TensorFlow SavedModel via the graft bindings. Build with
// -tags tensorflow when libtensorflow is available; the ONNX engine
// remains the default.
package transcribe

import (
	"fmt"
	"sync"

	tf "github.com/wamuir/graft/tensorflow"
)

// TFTranscriber runs the note-transcription model through a TensorFlow
// SavedModel session.
type TFTranscriber struct {
	model   *tf.SavedModel
	inputOp string

	// Serialized like the ONNX session; see ONNXTranscriber.mu.
	mu sync.Mutex
}

// Serving-signature output indices. The SavedModel export orders its
// outputs alphabetically: contour, note, onset.
const (
	tfOutputNote  = 1
	tfOutputOnset = 2
)

// NewTFTranscriber loads the transcription SavedModel from dir.
func NewTFTranscriber(modelDir string) (*TFTranscriber, error) {
	model, err := tf.LoadSavedModel(modelDir, []string{"serve"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load SavedModel: %w", err)
	}

	return &TFTranscriber{
		model:   model,
		inputOp: "serving_default_input_2",
	}, nil
}

// Close releases the TensorFlow model resources.
func (t *TFTranscriber) Close() error {
	if t.model != nil && t.model.Session != nil {
		return t.model.Session.Close()
	}
	return nil
}

// Transcribe decodes the audio at path, runs windowed inference and
// returns the detected notes as MIDI bytes.
func (t *TFTranscriber) Transcribe(audioPath string, params Params) (*Result, error) {
	samples, sampleRate, err := LoadAudioMono(audioPath)
	if err != nil {
		return nil, err
	}
	if sampleRate != SampleRate {
		samples = resampleAudio(samples, sampleRate, SampleRate)
	}

	onsets, frames, err := stitchWindows(samples, t.runWindow)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	notes := notesFromPosteriorgrams(onsets, frames, params)
	midiBytes, err := NotesToMIDI(notes)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	return &Result{MIDI: midiBytes}, nil
}

// runWindow feeds one fixed-size window through the session and returns
// its onset and note posteriorgrams.
func (t *TFTranscriber) runWindow(window []float32) (onsetWin, noteWin [][]float64, err error) {
	// Input tensor shape [1, samples, 1]
	inputData := make([][][]float32, 1)
	inputData[0] = make([][]float32, len(window))
	for i, s := range window {
		inputData[0][i] = []float32{s}
	}

	inputTensor, err := tf.NewTensor(inputData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	inputOp := t.model.Graph.Operation(t.inputOp)
	if inputOp == nil {
		return nil, nil, fmt.Errorf("input operation %q not found", t.inputOp)
	}
	outputOp := t.model.Graph.Operation("StatefulPartitionedCall")
	if outputOp == nil {
		return nil, nil, fmt.Errorf("output operation not found")
	}

	t.mu.Lock()
	outputs, err := t.model.Session.Run(
		map[tf.Output]*tf.Tensor{
			inputOp.Output(0): inputTensor,
		},
		[]tf.Output{
			outputOp.Output(tfOutputOnset),
			outputOp.Output(tfOutputNote),
		},
		nil,
	)
	t.mu.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}

	onsetWin, err = posteriorgramFromTF(outputs[0].Value())
	if err != nil {
		return nil, nil, err
	}
	noteWin, err = posteriorgramFromTF(outputs[1].Value())
	if err != nil {
		return nil, nil, err
	}
	return onsetWin, noteWin, nil
}

// posteriorgramFromTF converts a [1, frames, 88] or [frames, 88] tensor
// value into time-major float64 rows.
func posteriorgramFromTF(value any) ([][]float64, error) {
	var raw [][]float32
	switch v := value.(type) {
	case [][][]float32:
		raw = v[0]
	case [][]float32:
		raw = v
	default:
		return nil, fmt.Errorf("unexpected output type: %T", value)
	}

	rows := make([][]float64, len(raw))
	for i, frame := range raw {
		row := make([]float64, len(frame))
		for k, e := range frame {
			row[k] = float64(e)
		}
		rows[i] = row
	}
	return rows, nil
}
