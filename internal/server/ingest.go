package server

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gocv.io/x/gocv"

	"github.com/ayusman/guardian/internal/gateway"
)

// maxFrameBytes caps one uploaded frame. Generous for a 1080p JPEG.
const maxFrameBytes = 8 << 20

// handleUploadFrame ingests one frame pushed by a camera agent, either as a
// multipart "file" part or as the raw request body. Malformed payloads are
// rejected before any session state is touched, so a camera sending garbage
// never counts as alive.
func (s *Server) handleUploadFrame(w http.ResponseWriter, r *http.Request) {
	camID := chi.URLParam(r, "camID")
	if camID == "" {
		writeError(w, http.StatusBadRequest, "Camera id is required")
		return
	}

	data, err := readFramePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid frame payload")
		return
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || mat.Empty() {
		if err == nil {
			mat.Close()
		}
		writeError(w, http.StatusBadRequest, "Frame is not a decodable image")
		return
	}

	sess := s.config.Registry.GetOrCreate(camID)
	wasConnected := sess.Connected()
	sess.Touch(time.Now())
	sess.StoreFrame(mat)

	if !wasConnected && s.config.Gateway != nil {
		s.config.Gateway.Send(camID, gateway.StatusConnected)
	}
	if s.config.Metrics != nil {
		s.config.Metrics.IncFramesIngested(camID)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readFramePayload extracts the frame bytes from a multipart upload or the
// raw body.
func readFramePayload(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxFrameBytes)

	if file, _, err := r.FormFile("file"); err == nil {
		defer file.Close()
		return io.ReadAll(file)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}
