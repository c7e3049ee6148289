package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pitchlab/pitchd/pkg/staging"
	"github.com/pitchlab/pitchd/pkg/transcribe"
)

// midiContentType is the media type for the raw download route.
const midiContentType = "audio/midi"

// responseMode selects how the MIDI bytes are returned; it is fixed by
// the route, never negotiated.
type responseMode int

const (
	modeInline responseMode = iota // base64 in a JSON envelope
	modeFile                       // raw bytes with a filename hint
)

// healthBody is the liveness response. It does not probe the model.
type healthBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// inlinePayload is the JSON envelope for the inline route.
type inlinePayload struct {
	MIDIBase64 string `json:"midi_base64"`
	Filename   string `json:"filename"`
}

// errorBody carries a machine-readable category and a human-readable
// reason. No stack traces or server paths.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// health reports liveness while the process accepts traffic.
func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthBody{Status: "healthy", Version: transcribe.Version})
}

// predict runs the pipeline and returns the MIDI base64-encoded in JSON.
func (s *Server) predict(c echo.Context) error {
	return s.handlePredict(c, modeInline)
}

// predictFile runs the pipeline and returns the MIDI as a file download.
func (s *Server) predictFile(c echo.Context) error {
	return s.handlePredict(c, modeFile)
}

// handlePredict is the full request-to-artifact pipeline: resolve
// parameters, stage the upload, transcribe, encode the response. The
// staged file is released on every exit path.
func (s *Server) handlePredict(c echo.Context, mode responseMode) error {
	params, err := ResolveParams(c.QueryParams())
	if err != nil {
		return errorResponse(c, err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:   "invalid_upload",
			Message: `multipart field "file" is required`,
		})
	}

	src, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:   "invalid_upload",
			Message: "could not read uploaded file",
		})
	}
	defer src.Close()

	staged, err := staging.Stage(fh.Filename, src)
	if err != nil {
		return errorResponse(c, err)
	}
	defer staged.Release()

	result, err := s.transcriber.Transcribe(staged.Path, params)
	if err != nil {
		return errorResponse(c, err)
	}

	filename := midiFilename(staged.OriginalName)
	if mode == modeInline {
		return c.JSON(http.StatusOK, inlinePayload{
			MIDIBase64: base64.StdEncoding.EncodeToString(result.MIDI),
			Filename:   filename,
		})
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, midiContentType, result.MIDI)
}

// midiFilename derives the artifact name from the upload: extension
// replaced with .mid.
func midiFilename(original string) string {
	return strings.TrimSuffix(original, filepath.Ext(original)) + ".mid"
}

// errorResponse maps pipeline failures onto the API error taxonomy.
// Validation and staging failures are client errors; inference faults are
// server errors.
func errorResponse(c echo.Context, err error) error {
	var paramErr *InvalidParameterError
	var inferErr *transcribe.InferenceError

	switch {
	case errors.As(err, &paramErr):
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:   "invalid_parameter",
			Message: paramErr.Error(),
		})
	case errors.Is(err, staging.ErrMissingFilename):
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:   "invalid_upload",
			Message: "no filename provided",
		})
	case errors.Is(err, staging.ErrEmptyUpload):
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:   "empty_upload",
			Message: "uploaded file is empty",
		})
	case errors.Is(err, transcribe.ErrUnsupportedFormat):
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:   "unsupported_format",
			Message: "audio format could not be decoded",
		})
	case errors.As(err, &inferErr):
		return c.JSON(http.StatusInternalServerError, errorBody{
			Error:   "inference_failed",
			Message: "model inference failed",
		})
	default:
		return c.JSON(http.StatusInternalServerError, errorBody{
			Error:   "internal",
			Message: "internal server error",
		})
	}
}
