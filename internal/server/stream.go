package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ayusman/guardian/internal/gateway"
)

// handleVideoFeed streams MJPEG frames for one camera. The first viewer
// starts the camera's processing loop and announces CONNECTED to the gateway;
// the last one leaving stops the loop and announces DISCONNECTED. A viewer
// that stays through a full activation cycle promotes the session to
// verified.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	camID := chi.URLParam(r, "camID")
	sess := s.config.Registry.GetOrCreate(camID)

	if first := sess.AddViewer(time.Now()); first {
		s.log.Info("first viewer attached", "camera", camID)
		if s.config.Gateway != nil {
			s.config.Gateway.Send(camID, gateway.StatusConnected)
		}
		if s.config.Scheduler != nil {
			// The loop must outlive this request: later viewers share
			// it, so it is anchored to the server context and torn
			// down explicitly when the last viewer leaves.
			s.config.Scheduler.EnsureLoop(s.baseContext(), camID)
		}
	}
	if s.config.Metrics != nil {
		s.config.Metrics.AddActiveViewers(1)
	}
	defer func() {
		if s.config.Metrics != nil {
			s.config.Metrics.AddActiveViewers(-1)
		}
		if last := sess.RemoveViewer(); last {
			s.log.Info("last viewer detached", "camera", camID)
			if s.config.Gateway != nil {
				s.config.Gateway.Send(camID, gateway.StatusDisconnected)
			}
			if s.config.Scheduler != nil {
				s.config.Scheduler.StopLoop(camID)
			}
		}
	}()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		now := time.Now()
		if sess.VerifyIfDue(now, s.config.Registry.VerifyAfter()) {
			s.log.Info("viewer verified", "camera", camID)
		}

		var jpeg []byte
		if s.config.Scheduler != nil {
			jpeg = s.config.Scheduler.Latest(camID)
		}
		if len(jpeg) > 0 {
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg))
			if _, err := w.Write(jpeg); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")
			if flusher != nil {
				flusher.Flush()
			}
		}

		cfg := sess.Config()
		time.Sleep(time.Second / time.Duration(cfg.FPS))
	}
}
