package web

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// valueBody is the request and response body of the scalar endpoints.
type valueBody struct {
	Value *float64 `json:"value"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// peltierBody is the response of GET /api/peltier.
type peltierBody struct {
	SetVoltage      float64 `json:"set_voltage"`
	SetCurrent      float64 `json:"set_current"`
	MeasuredVoltage float64 `json:"measured_voltage"`
	MeasuredCurrent float64 `json:"measured_current"`
	Output          bool    `json:"output"`
}

func (s *Server) loadAPI(r *mux.Router) {
	r.HandleFunc("/api/temperature", s.readValue(s.ctrl.Temperature)).Methods(http.MethodGet)
	r.HandleFunc("/api/humidity", s.readValue(s.ctrl.Humidity)).Methods(http.MethodGet)

	r.HandleFunc("/api/setpoint", s.getValue(s.ctrl.Setpoint)).Methods(http.MethodGet)
	r.HandleFunc("/api/setpoint", s.putValue("setpoint", s.ctrl.SetSetpoint)).Methods(http.MethodPut)
	r.HandleFunc("/api/limits/{which:low|high}", s.getLimit).Methods(http.MethodGet)
	r.HandleFunc("/api/limits/{which:low|high}", s.putLimit).Methods(http.MethodPut)

	r.HandleFunc("/api/start", s.action("start", s.ctrl.Start)).Methods(http.MethodPost)
	r.HandleFunc("/api/stop", s.action("stop", s.ctrl.Stop)).Methods(http.MethodPost)

	r.HandleFunc("/api/summary", s.summary).Methods(http.MethodGet)
	r.HandleFunc("/api/peltier", s.peltier).Methods(http.MethodGet)
}

func (s *Server) readValue(fn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fn()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, valueBody{Value: &v})
	}
}

func (s *Server) getValue(fn func() float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := fn()
		writeJSON(w, http.StatusOK, valueBody{Value: &v})
	}
}

func (s *Server) putValue(name string, fn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body valueBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: `body must be {"value": <number>}`, Code: "validation"})
			return
		}
		if err := fn(*body.Value); err != nil {
			writeError(w, err)
			return
		}
		log.Info().Str("field", name).Float64("value", *body.Value).Str("remote", r.RemoteAddr).Msg("updated via api")
		writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) getLimit(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["which"] == "low" {
		s.getValue(s.ctrl.LowLimit)(w, r)
		return
	}
	s.getValue(s.ctrl.HighLimit)(w, r)
}

func (s *Server) putLimit(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["which"] == "low" {
		s.putValue("low_limit", s.ctrl.SetLowLimit)(w, r)
		return
	}
	s.putValue("high_limit", s.ctrl.SetHighLimit)(w, r)
}

func (s *Server) action(name string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeError(w, err)
			return
		}
		log.Info().Str("action", name).Str("remote", r.RemoteAddr).Msg("control action via api")
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Summary())
}

func (s *Server) peltier(w http.ResponseWriter, r *http.Request) {
	var (
		body peltierBody
		err  error
	)
	reads := []struct {
		fn  func() (float64, error)
		dst *float64
	}{
		{s.ctrl.PeltierSetVoltage, &body.SetVoltage},
		{s.ctrl.PeltierSetCurrent, &body.SetCurrent},
		{s.ctrl.PeltierMeasuredVoltage, &body.MeasuredVoltage},
		{s.ctrl.PeltierMeasuredCurrent, &body.MeasuredCurrent},
	}
	for _, rd := range reads {
		if *rd.dst, err = rd.fn(); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.Output, err = s.ctrl.PeltierOutput(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
