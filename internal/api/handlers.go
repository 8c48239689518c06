package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"procodus.dev/sadrn/internal/controller"
	"procodus.dev/sadrn/internal/eventlog"
	"procodus.dev/sadrn/internal/intent"
	"procodus.dev/sadrn/internal/packets"
	"procodus.dev/sadrn/internal/topology"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, topology.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, intent.ErrUnknownIntent),
		errors.Is(err, errBadBody),
		errors.Is(err, errEmptyBody),
		errors.Is(err, errBadLimit):
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

var errBadLimit = errors.New("limit must be a positive integer")

func (s *Server) handleTopology(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cp.Topology())
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cp.Routes())
}

func (s *Server) handleGetIntent(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cp.Intent())
}

func (s *Server) handleSetIntent(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.cp.SetIntent(r.Context(), req.Intent, req.Auto)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	capacity := s.cp.EventCapacity()
	limit := min(eventlog.DefaultCapacity, capacity)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, errBadLimit)
			return
		}
		limit = min(n, capacity)
	}
	events := s.cp.Events(limit)
	if events == nil {
		events = []eventlog.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handlePacketStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cp.PacketStats())
}

func (s *Server) handlePackets(w http.ResponseWriter, _ *http.Request) {
	descriptors := s.cp.Packets()
	if descriptors == nil {
		descriptors = []packets.Descriptor{}
	}
	s.writeJSON(w, http.StatusOK, descriptors)
}

func (s *Server) handleSetSensor(w http.ResponseWriter, r *http.Request) {
	var req SensorRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sensor, err := s.cp.SetSensor(r.Context(), r.PathValue("id"), *req.Value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sensor)
}

func (s *Server) handleSetBattery(w http.ResponseWriter, r *http.Request) {
	var req BatteryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sw, err := s.cp.SetBattery(r.Context(), r.PathValue("id"), *req.Battery)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sw)
}

// handleFailure adapts a fail or restore operation to a handler.
func (s *Server) handleFailure(op func(context.Context, string) (controller.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := op(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleAutoPackets(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"auto_packets": s.cp.ToggleAutoPackets()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.cp.Reset(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Reset"})
}

// handleHealth serves health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
