package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"homie-controller/internal/controller"
	"homie-controller/internal/homie"
)

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	snapshot := s.ctrl.Devices()
	devices := make([]*homie.Device, 0, len(snapshot))
	for _, dev := range snapshot {
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dev, ok := s.ctrl.Device(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

// handleAPIDeleteDevice drops a device from the local model. Retained
// announcement topics still on the broker will re-create it on the next
// replay; clearing those is the device's (or operator's) job.
func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.ctrl.Device(id); !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.ctrl.NotifyDeviceRemoved(id)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setPropertyRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleAPISetProperty(w http.ResponseWriter, r *http.Request) {
	if s.transport == nil || !s.transport.Connected() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "broker not connected"})
		return
	}

	var req setPropertyRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	device := r.PathValue("id")
	node := r.PathValue("node")
	prop := r.PathValue("prop")

	err := s.transport.SetProperty(device, node, prop, req.Value)
	switch {
	case errors.Is(err, controller.ErrUnknownEntity):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, controller.ErrNotSettable):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("set property", "err", err, "device", device)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.ctrl.Devices()
	complete := 0
	for _, dev := range snapshot {
		if dev.Complete() {
			complete++
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"base_topic":       s.ctrl.Base(),
		"devices":          len(snapshot),
		"devices_complete": complete,
		"broker_connected": s.transport != nil && s.transport.Connected(),
		"uptime":           time.Since(s.startedAt).Round(time.Second).String(),
		"version":          s.version,
	})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
