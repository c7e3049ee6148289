// CLI for the audio-to-MIDI transcription service.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pitchlab/pitchd/pkg/server"
	"github.com/pitchlab/pitchd/pkg/transcribe"
)

var rootCmd = &cobra.Command{
	Use:   "pitchd",
	Short: "Audio to MIDI transcription service",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		model, _ := cmd.Flags().GetString("model")
		return runServe(port, model)
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe an audio file and write a .mid sidecar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		params := transcribe.DefaultParams()
		params.OnsetThreshold, _ = cmd.Flags().GetFloat64("onset-threshold")
		params.FrameThreshold, _ = cmd.Flags().GetFloat64("frame-threshold")
		params.MinNoteLengthMs, _ = cmd.Flags().GetFloat64("min-note-length")
		params.MinFrequencyHz, _ = cmd.Flags().GetFloat64("min-frequency")
		params.MaxFrequencyHz, _ = cmd.Flags().GetFloat64("max-frequency")
		return runTranscribe(args[0], model, params)
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", defaultPort(), "Port to listen on")
	serveCmd.Flags().String("model", "", "Path to the ONNX model (default: auto-discover)")

	defaults := transcribe.DefaultParams()
	transcribeCmd.Flags().String("model", "", "Path to the ONNX model (default: auto-discover)")
	transcribeCmd.Flags().Float64("onset-threshold", defaults.OnsetThreshold, "Onset confidence threshold")
	transcribeCmd.Flags().Float64("frame-threshold", defaults.FrameThreshold, "Frame confidence threshold")
	transcribeCmd.Flags().Float64("min-note-length", defaults.MinNoteLengthMs, "Minimum note length in ms")
	transcribeCmd.Flags().Float64("min-frequency", 0, "Minimum frequency in Hz (0 = unset)")
	transcribeCmd.Flags().Float64("max-frequency", 0, "Maximum frequency in Hz (0 = unset)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(transcribeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// defaultPort honors the PORT environment variable for container
// orchestration, falling back to 8000.
func defaultPort() int {
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			return port
		}
	}
	return 8000
}

// newTranscriber loads the model once; it is shared read-only afterwards.
func newTranscriber(modelPath string) (transcribe.Transcriber, error) {
	if modelPath != "" {
		return transcribe.NewONNXTranscriberWithModel(modelPath)
	}
	return transcribe.NewONNXTranscriber()
}

func runServe(port int, modelPath string) error {
	t, err := newTranscriber(modelPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	defer t.Close()

	return server.Run(fmt.Sprintf(":%d", port), t)
}

func runTranscribe(audioPath, modelPath string, params transcribe.Params) error {
	t, err := newTranscriber(modelPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	defer t.Close()

	result, err := t.Transcribe(audioPath, params)
	if err != nil {
		return fmt.Errorf("transcribe %s: %w", audioPath, err)
	}

	outPath := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".mid"
	if err := os.WriteFile(outPath, result.MIDI, 0o644); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}

	fmt.Printf("wrote %s (%d bytes)\n", outPath, len(result.MIDI))
	return nil
}
