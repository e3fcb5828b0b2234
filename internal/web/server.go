// Package web provides the HTTP interface of the climate-controller daemon:
// a status page for people and a JSON API for remote callers.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/sweeney/climate-controller/internal/control"
	"github.com/sweeney/climate-controller/internal/errcode"
	"github.com/sweeney/climate-controller/internal/status"
)

// Controller is the subset of *control.Controller the API exposes.
type Controller interface {
	Temperature() (float64, error)
	Humidity() (float64, error)
	Setpoint() float64
	SetSetpoint(v float64) error
	LowLimit() float64
	SetLowLimit(v float64) error
	HighLimit() float64
	SetHighLimit(v float64) error
	Start() error
	Stop() error
	Summary() control.Summary
	PeltierSetVoltage() (float64, error)
	PeltierSetCurrent() (float64, error)
	PeltierMeasuredVoltage() (float64, error)
	PeltierMeasuredCurrent() (float64, error)
	PeltierOutput() (bool, error)
}

// Server serves the status page and the control API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctrl       Controller
}

// New creates a Server. gatherer may be nil to disable /metrics.
func New(addr string, tracker *status.Tracker, ctrl Controller, gatherer prometheus.Gatherer) *Server {
	s := &Server{tracker: tracker, ctrl: ctrl}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	s.loadAPI(r)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		log.Warn().Err(err).Msg("render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

// writeError maps an error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch errcode.Of(err) {
	case errcode.Validation:
		code = http.StatusBadRequest
	case errcode.HardwareIO:
		code = http.StatusBadGateway
	case errcode.Closed:
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Code: string(errcode.Of(err))})
}
