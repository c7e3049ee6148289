// This file runs the pretrained transcription network via ONNX Runtime.
package transcribe

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortInitOnce ensures ONNX Runtime is initialized only once
var ortInitOnce sync.Once
var ortInitErr error

// ONNXTranscriber runs the note-transcription model through a shared ONNX
// Runtime session. Construct it once at startup; the loaded graph is
// read-only and shared by all requests.
type ONNXTranscriber struct {
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputNames []string
	onsetIdx    int
	noteIdx     int

	// The session is not assumed safe for concurrent Run calls, so
	// inference is serialized. Audio staging and decoding stay
	// concurrent across requests.
	mu sync.Mutex
}

// NewONNXTranscriber loads the transcription model from the default
// location (see FindModel).
func NewONNXTranscriber() (*ONNXTranscriber, error) {
	modelPath, err := FindModel()
	if err != nil {
		return nil, err
	}
	return NewONNXTranscriberWithModel(modelPath)
}

// NewONNXTranscriberWithModel loads the transcription model from an
// explicit ONNX file path.
func NewONNXTranscriberWithModel(modelPath string) (*ONNXTranscriber, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", modelPath, err)
	}

	// Initialize ONNX Runtime (once per process)
	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(getONNXLibPath())
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", ortInitErr)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}
	if len(inputInfo) != 1 {
		return nil, fmt.Errorf("model should have 1 input, got %d", len(inputInfo))
	}

	// The graph emits onset, note and contour posteriorgrams; only the
	// first two feed note extraction. Names vary between exports, so
	// match by substring.
	t := &ONNXTranscriber{inputName: inputInfo[0].Name, onsetIdx: -1, noteIdx: -1}
	for _, info := range outputInfo {
		name := strings.ToLower(info.Name)
		switch {
		case strings.Contains(name, "onset"):
			t.onsetIdx = len(t.outputNames)
		case strings.Contains(name, "note") || strings.Contains(name, "frame"):
			t.noteIdx = len(t.outputNames)
		default:
			continue
		}
		t.outputNames = append(t.outputNames, info.Name)
	}
	if t.onsetIdx < 0 || t.noteIdx < 0 {
		return nil, fmt.Errorf("model outputs missing onset/note posteriorgrams: %v", outputNames(outputInfo))
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{t.inputName},
		t.outputNames,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	t.session = session

	return t, nil
}

func outputNames(info []ort.InputOutputInfo) []string {
	names := make([]string, len(info))
	for i, o := range info {
		names[i] = o.Name
	}
	return names
}

// FindModel locates the transcription ONNX model.
func FindModel() (string, error) {
	if path := os.Getenv("PITCHD_MODEL"); path != "" {
		return path, nil
	}

	candidates := []string{
		"models/nmp.onnx",
		"../models/nmp.onnx",
	}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "models/nmp.onnx"),
			filepath.Join(exeDir, "../models/nmp.onnx"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("transcription model not found - set PITCHD_MODEL or place it at models/nmp.onnx")
}

// getONNXLibPath returns the path to the ONNX Runtime shared library.
func getONNXLibPath() string {
	// Check environment variable first
	if path := os.Getenv("ONNXRUNTIME_LIB_PATH"); path != "" {
		return path
	}

	// Platform-specific defaults
	// macOS: brew install onnxruntime
	// Linux: apt install libonnxruntime
	candidates := []string{
		"/opt/homebrew/lib/libonnxruntime.dylib",          // macOS ARM (Homebrew)
		"/usr/local/lib/libonnxruntime.dylib",             // macOS Intel (Homebrew)
		"/usr/lib/libonnxruntime.so",                      // Linux
		"/usr/local/lib/libonnxruntime.so",                // Linux (manual install)
		"C:\\Program Files\\onnxruntime\\onnxruntime.dll", // Windows
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Fallback - let the library try to find it
	return "onnxruntime"
}

// Close releases ONNX Runtime resources.
func (t *ONNXTranscriber) Close() error {
	if t.session != nil {
		t.session.Destroy()
		t.session = nil
	}
	return nil
}

// Transcribe decodes the audio at path, runs windowed inference and
// returns the detected notes as MIDI bytes. Zero detected notes is a
// success and yields a valid tempo-only MIDI file.
func (t *ONNXTranscriber) Transcribe(audioPath string, params Params) (*Result, error) {
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

// stitchWindows runs inference over overlapping 2 s windows and stitches
// the per-window posteriorgrams back into one time-major sequence.
func stitchWindows(samples []float32, run func([]float32) ([][]float64, [][]float64, error)) (onsets, frames [][]float64, err error) {
	// Pad the front by half the overlap so the first window's trimmed
	// edge still covers the start of the audio.
	padded := make([]float32, overlapSamples/2+len(samples))
	copy(padded[overlapSamples/2:], samples)

	// Total frames the caller's audio actually covers.
	totalFrames := int(math.Floor(float64(len(samples)) / float64(fftHop)))

	for start := 0; start < len(padded); start += windowHop {
		window := make([]float32, windowSamples)
		copy(window, padded[start:min(start+windowSamples, len(padded))])

		onsetWin, noteWin, err := run(window)
		if err != nil {
			return nil, nil, err
		}

		// Trim half the overlap from each edge of the window output.
		lo := overlapFrames / 2
		if hi := len(onsetWin) - overlapFrames/2; hi > lo {
			onsets = append(onsets, onsetWin[lo:hi]...)
		}
		if hi := len(noteWin) - overlapFrames/2; hi > lo {
			frames = append(frames, noteWin[lo:hi]...)
		}
	}

	if len(onsets) > totalFrames {
		onsets = onsets[:totalFrames]
		frames = frames[:totalFrames]
	}
	return onsets, frames, nil
}

// runWindow feeds one fixed-size window through the session and returns
// its onset and note posteriorgrams as [frames][88] float64.
func (t *ONNXTranscriber) runWindow(window []float32) (onsetWin, noteWin [][]float64, err error) {
	inputShape := ort.NewShape(1, int64(windowSamples), 1)
	inputTensor, err := ort.NewTensor(inputShape, window)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// nil entries let the runtime allocate the outputs.
	outputs := make([]ort.Value, len(t.outputNames))

	t.mu.Lock()
	err = t.session.Run([]ort.Value{inputTensor}, outputs)
	t.mu.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("session run failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	onsetWin, err = posteriorgramFromTensor(outputs[t.onsetIdx])
	if err != nil {
		return nil, nil, err
	}
	noteWin, err = posteriorgramFromTensor(outputs[t.noteIdx])
	if err != nil {
		return nil, nil, err
	}
	return onsetWin, noteWin, nil
}

// posteriorgramFromTensor reshapes a [1, frames, 88] float32 tensor into
// time-major float64 rows.
func posteriorgramFromTensor(v ort.Value) ([][]float64, error) {
	tensor, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", v)
	}

	data := tensor.GetData()
	if len(data)%numPitches != 0 {
		return nil, fmt.Errorf("output length %d not divisible by %d pitches", len(data), numPitches)
	}

	numFrames := len(data) / numPitches
	rows := make([][]float64, numFrames)
	for i := range rows {
		row := make([]float64, numPitches)
		for k := range row {
			row[k] = float64(data[i*numPitches+k])
		}
		rows[i] = row
	}
	return rows, nil
}
