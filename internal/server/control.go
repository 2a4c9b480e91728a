package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ayusman/guardian/internal/camera"
	"github.com/ayusman/guardian/internal/gateway"
	"github.com/ayusman/guardian/internal/store"
)

// handleMonitor toggles intrusion monitoring for one camera. Starting
// announces MONITOR to the gateway; stopping hands the camera back to the
// operator with CONTROL.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	camID := chi.URLParam(r, "camID")
	action := chi.URLParam(r, "action")

	var on bool
	switch action {
	case "start":
		on = true
	case "stop":
		on = false
	default:
		writeError(w, http.StatusBadRequest, "Action must be start or stop")
		return
	}

	sess := s.config.Registry.GetOrCreate(camID)
	sess.SetMonitoring(on)

	status := gateway.StatusControl
	if on {
		status = gateway.StatusMonitor
	}
	if s.config.Gateway != nil {
		s.config.Gateway.Send(camID, status)
	}
	s.appendEvent(camID, status, "monitoring "+action)
	s.log.Info("monitoring toggled", "camera", camID, "on", on)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"camera":     camID,
		"monitoring": on,
	})
}

// handleGetQuality returns the camera's current stream configuration.
func (s *Server) handleGetQuality(w http.ResponseWriter, r *http.Request) {
	camID := chi.URLParam(r, "camID")
	sess, ok := s.config.Registry.Get(camID)
	if !ok {
		writeError(w, http.StatusNotFound, "Camera not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.Config())
}

// handleSetQuality pins or unpins the camera's stream configuration. A config
// with auto=true rejoins the adaptive ladder at the submitted rung; one with
// auto=false stays fixed until changed again.
func (s *Server) handleSetQuality(w http.ResponseWriter, r *http.Request) {
	camID := chi.URLParam(r, "camID")

	var cfg camera.StreamConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !cfg.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid stream configuration")
		return
	}

	sess := s.config.Registry.GetOrCreate(camID)
	sess.SetConfig(cfg)
	s.log.Info("quality set", "camera", camID, "label", cfg.Label, "auto", cfg.Auto)

	writeJSON(w, http.StatusOK, sess.Config())
}

// appendEvent records an event, tolerating a missing store.
func (s *Server) appendEvent(camID, status, message string) {
	if s.config.Store == nil {
		return
	}
	e := &store.Event{CamID: camID, Status: status, Message: message}
	if err := s.config.Store.Events().Append(e); err != nil {
		s.log.Error("event append failed", "camera", camID, "error", err)
	}
}
