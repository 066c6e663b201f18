package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/mp3rec/internal/capture"
	"github.com/audiolibrelab/mp3rec/internal/encodepool"
	"github.com/audiolibrelab/mp3rec/internal/recorder"
	"github.com/audiolibrelab/mp3rec/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP remote control for a recording service
type Server struct {
	service service.Service
	port    int
	logger  *slog.Logger
}

// GenericResponse is the body of every control endpoint
type GenericResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
	Take    *service.TakeResult `json:"take,omitempty"`
}

func New(svc service.Service, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{service: svc, port: port, logger: logger}
}

// Handler returns the router with all endpoints mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/", s.handleIndex)
	r.Post("/start", s.handleStart)
	r.Post("/stop", s.handleStop)
	r.Post("/pause", s.handlePause)
	r.Post("/resume", s.handleResume)
	r.Post("/gain", s.handleGain)
	r.Get("/status", s.handleStatus)
	r.Get("/takes/{name}", s.handleInspect)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting mp3rec remote control",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%d", getLocalIP(), s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.port))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>mp3rec</title>
</head>
<body>
    <h1>mp3rec</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>POST /start?name=NAME[&amp;paused=1] - Start a take</li>
        <li>POST /stop - Stop and write the take</li>
        <li>POST /pause, POST /resume</li>
        <li>POST /gain?value=0.8 - Change input gain</li>
        <li>GET /status - Recorder and encoder status</li>
        <li>GET /takes/NAME - Inspect a written take</li>
        <li>GET /metrics - Prometheus metrics</li>
    </ul>
</body>
</html>`

// handleStart starts a take (STOPPED -> RECORDING or PAUSED)
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form data", "operation", "start")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Take name is required", "operation", "start")
		return
	}
	paused, err := parseBool(r.FormValue("paused"))
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid paused value", "operation", "start")
		return
	}

	if err := s.service.Start(r.Context(), name, paused); err != nil {
		s.sendErrorResponse(w, statusFor(err), fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start", "take", name)
		return
	}

	message := "Recording started"
	if paused {
		message = "Recording started paused"
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: message})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	take, err := s.service.Stop(r.Context())
	if err != nil {
		s.sendErrorResponse(w, statusFor(err), fmt.Sprintf("Failed to stop recording: %v", err), "operation", "stop")
		return
	}

	message := "Recording stopped"
	if take == nil {
		message = "Recording stopped, nothing was written"
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: message, Take: take})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Pause(); err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "pause")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Resume(); err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "resume")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording resumed"})
}

func (s *Server) handleGain(w http.ResponseWriter, r *http.Request) {
	value, err := strconv.ParseFloat(r.FormValue("value"), 64)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Gain value must be a number", "operation", "gain")
		return
	}
	if err := s.service.SetGain(value); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "gain")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: fmt.Sprintf("Gain set to %.2f", value)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := s.service.Inspect(name)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		s.sendErrorResponse(w, status, fmt.Sprintf("Failed to inspect take: %v", err), "operation", "inspect", "take", name)
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recorder.ErrInvalidState), errors.Is(err, service.ErrTakeInProgress),
		errors.Is(err, recorder.ErrStartCancelled):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrNotPreloaded), errors.Is(err, encodepool.ErrEncoderLoad),
		errors.Is(err, encodepool.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrDeviceAcquisition), errors.Is(err, capture.ErrNoAudioTrack):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Writing response failed", "error", err)
	}
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...any) {
	// Log the error with structured context
	logFields := []any{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	s.logger.Error("Sending error response to client", logFields...)

	s.sendJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
