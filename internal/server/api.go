package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ayusman/guardian/internal/camera"
	"github.com/ayusman/guardian/internal/store"
)

type cameraRequest struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Label string `json:"label"`
}

type cameraResponse struct {
	ID         string `json:"id"`
	URL        string `json:"url,omitempty"`
	Label      string `json:"label,omitempty"`
	Connected  bool   `json:"connected"`
	Monitoring bool   `json:"monitoring"`
	Status     string `json:"status"`
	Viewers    int    `json:"viewers"`
	Quality    string `json:"quality"`
}

type eventResponse struct {
	ID           int64     `json:"id"`
	CamID        string    `json:"cam_id"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	EvidencePath string    `json:"evidence_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// handleCreateCamera registers a polled camera: its descriptor is persisted
// and handed to the registry so a stream loop can open the source on demand.
func (s *Server) handleCreateCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Camera id is required")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "Camera url is required")
		return
	}

	if s.config.Store != nil {
		err := s.config.Store.Cameras().Create(&store.Camera{ID: req.ID, URL: req.URL, Label: req.Label})
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Camera already exists")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save camera")
			return
		}
	}

	desc := camera.SourceDescriptor{ID: req.ID, URL: req.URL, Label: req.Label}
	if err := s.config.Registry.RegisterSource(desc); err != nil {
		if errors.Is(err, camera.ErrDuplicateSource) {
			writeError(w, http.StatusConflict, "Camera already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info("camera registered", "camera", req.ID, "url", req.URL)

	writeJSON(w, http.StatusCreated, s.cameraState(req.ID))
}

// handleListCameras returns every known camera with its live session state.
func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	out := []cameraResponse{}

	for _, desc := range s.config.Registry.Sources() {
		seen[desc.ID] = true
		out = append(out, s.cameraState(desc.ID))
	}
	for _, sess := range s.config.Registry.Sessions() {
		if seen[sess.ID] {
			continue
		}
		out = append(out, s.cameraState(sess.ID))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cameras": out,
		"count":   len(out),
	})
}

// cameraState merges the source descriptor and live session state for camID.
func (s *Server) cameraState(camID string) cameraResponse {
	resp := cameraResponse{ID: camID, Status: string(camera.StatusSafe)}
	if desc, ok := s.config.Registry.Source(camID); ok {
		resp.URL = desc.URL
		resp.Label = desc.Label
	}
	if sess, ok := s.config.Registry.Get(camID); ok {
		cfg := sess.Config()
		resp.Connected = sess.Connected()
		resp.Monitoring = sess.Monitoring()
		resp.Status = string(sess.Status())
		resp.Viewers = sess.ViewerCount()
		resp.Quality = cfg.Label
	}
	return resp
}

// handleListEvents returns recent events, optionally filtered by camera.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "Event log not configured")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	var (
		events []*store.Event
		err    error
	)
	if camID := r.URL.Query().Get("camera"); camID != "" {
		events, err = s.config.Store.Events().ListByCamera(camID, limit)
	} else {
		events, err = s.config.Store.Events().ListRecent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:           e.ID,
			CamID:        e.CamID,
			Status:       e.Status,
			Message:      e.Message,
			EvidencePath: e.EvidencePath,
			CreatedAt:    e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": out,
		"count":  len(out),
	})
}
