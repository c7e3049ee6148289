// Package server provides the Echo web server for the audio-to-MIDI API.
package server

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pitchlab/pitchd/pkg/transcribe"
)

// Server holds the shared dependencies for the API handlers. The
// transcriber is loaded once at startup and read-only afterwards.
type Server struct {
	transcriber transcribe.Transcriber
}

// New builds the Echo instance with all routes and middleware attached.
func New(t transcribe.Transcriber) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{transcriber: t}

	// Routes
	e.GET("/health", s.health)
	e.POST("/predict", s.predict)
	e.POST("/predict/file", s.predictFile)

	return e
}

// Run starts the web server on addr, e.g. ":8000".
func Run(addr string, t transcribe.Transcriber) error {
	return New(t).Start(addr)
}
