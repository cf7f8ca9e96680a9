// Package server exposes the rhythm pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/logging"
	"github.com/RyanBlaney/sonido-beat/rhythm"
	"github.com/RyanBlaney/sonido-beat/rhythm/config"
	"github.com/RyanBlaney/sonido-beat/transcode"
)

// SamplesRequest carries mono samples in a JSON body
type SamplesRequest struct {
	SampleRate int       `json:"sample_rate"`
	Samples    []float64 `json:"samples"`
}

// EnvelopeRequest carries a precomputed onset envelope
type EnvelopeRequest struct {
	SampleRate int       `json:"sample_rate"`
	Envelope   []float64 `json:"envelope"`
}

// HealthResponse is returned by the health route
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

// Server wraps an echo instance around one Analyzer
type Server struct {
	echo     *echo.Echo
	analyzer *rhythm.Analyzer
	decoder  *transcode.Decoder
	config   config.ServerConfig
	logger   logging.Logger
}

// New builds the router. A nil decoder uses the default decoder config.
func New(cfg *config.AnalysisConfig, decoder *transcode.Decoder) (*Server, error) {
	analyzer, err := rhythm.NewAnalyzer(cfg)
	if err != nil {
		return nil, err
	}
	if decoder == nil {
		decoder = transcode.NewDecoder(nil)
	}

	s := &Server{
		echo:     echo.New(),
		analyzer: analyzer,
		decoder:  decoder,
		config:   analyzer.Config().Server,
		logger: logging.WithFields(logging.Fields{
			"component": "http_server",
		}),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("Request handled", logging.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"request_id": v.RequestID,
			})
			return nil
		},
	}))
	if s.config.MaxBodyBytes > 0 {
		e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
			Limit: formatBytes(s.config.MaxBodyBytes),
		}))
	}

	// Routes
	e.GET("/api/health", s.health)
	e.POST("/api/analyze", s.analyzeAudio)
	e.POST("/api/analyze/samples", s.analyzeSamples)
	e.POST("/api/tempogram", s.tempogram)

	return s, nil
}

// Handler returns the router for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address
func (s *Server) Start() error {
	s.logger.Info("Starting server", logging.Fields{"addr": s.config.Addr})
	return s.echo.Start(s.config.Addr)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Backend: string(s.analyzer.Config().Backend),
	})
}

// analyzeAudio decodes a raw audio body; ?format= overrides sniffing
func (s *Server) analyzeAudio(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	audio, err := s.decoder.DecodeBytes(body, c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to decode audio: "+err.Error())
	}

	analysis, err := runWithTimeout(c.Request().Context(), s.config.Timeout, func(ctx context.Context) (*rhythm.Analysis, error) {
		return s.analyzer.Analyze(ctx, audio)
	})
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, analysis)
}

func (s *Server) analyzeSamples(c echo.Context) error {
	var req SamplesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	analysis, err := runWithTimeout(c.Request().Context(), s.config.Timeout, func(ctx context.Context) (*rhythm.Analysis, error) {
		return s.analyzer.AnalyzeSamples(ctx, req.Samples, req.SampleRate)
	})
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, analysis)
}

func (s *Server) tempogram(c echo.Context) error {
	var req EnvelopeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if req.SampleRate <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "sample_rate must be positive")
	}

	summary, err := runWithTimeout(c.Request().Context(), s.config.Timeout, func(context.Context) (*rhythm.TempogramSummary, error) {
		return s.analyzer.Tempogram(req.Envelope, req.SampleRate)
	})
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) errorResponse(c echo.Context, err error) error {
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	switch {
	case errors.Is(err, common.ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("Analysis abandoned after timeout", logging.Fields{
			"request_id": requestID,
			"timeout":    s.config.Timeout.String(),
		})
		return echo.NewHTTPError(http.StatusGatewayTimeout, "analysis timed out")
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request canceled")
	default:
		s.logger.Error(err, "Analysis failed", logging.Fields{"request_id": requestID})
		return echo.NewHTTPError(http.StatusInternalServerError, "analysis failed")
	}
}

// runWithTimeout abandons fn once the deadline passes. fn keeps running in
// the background until its next context check and its result is dropped.
func runWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(ctx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// formatBytes renders a byte count in the body limit syntax
func formatBytes(n int64) string {
	switch {
	case n%(1<<20) == 0:
		return strconv.FormatInt(n>>20, 10) + "M"
	case n%(1<<10) == 0:
		return strconv.FormatInt(n>>10, 10) + "K"
	default:
		return strconv.FormatInt(n, 10)
	}
}
