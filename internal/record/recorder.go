// Package record persists alert evidence: single snapshots and short
// bounded-duration video clips around an alert.
package record

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// Recording defaults.
const (
	// DefaultWindow is the length of one recording window.
	DefaultWindow = 10 * time.Second
	// DefaultFPS is the fallback playback rate when the collection rate
	// cannot be derived.
	DefaultFPS = 20.0
	// videoCodec is the fourcc used for flushed clips.
	videoCodec = "mp4v"
)

// timestampLayout matches the original recording filenames.
const timestampLayout = "20060102_150405"

// session is one active recording window for a camera.
type session struct {
	id        string
	frames    []gocv.Mat
	windowEnd time.Time
	label     string
}

// Recorder manages snapshots and per-camera recording windows. At most one
// window is active per camera; frames are collected on the caller's cadence
// and flushed to disk asynchronously when the window expires.
type Recorder struct {
	dir    string
	window time.Duration
	log    *slog.Logger

	mu     sync.Mutex
	active map[string]*session
}

// New creates a Recorder writing into dir, creating it if needed.
func New(dir string, window time.Duration, log *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		dir:    dir,
		window: window,
		log:    log,
		active: make(map[string]*session),
	}, nil
}

// Dir returns the directory recordings are written to.
func (r *Recorder) Dir() string {
	return r.dir
}

// SaveSnapshot writes one frame as a JPEG and returns its web path
// (/recordings/<file>), the form the gateway and dashboard consume.
func (r *Recorder) SaveSnapshot(camID string, frame gocv.Mat) (string, error) {
	name := fmt.Sprintf("%s_%s_%s.jpg", camID, time.Now().Format(timestampLayout), uuid.NewString()[:8])
	path := filepath.Join(r.dir, name)
	if ok := gocv.IMWrite(path, frame); !ok {
		return "", fmt.Errorf("write snapshot %s", path)
	}
	return "/recordings/" + name, nil
}

// Start opens a recording window for camID if none is active. Subsequent
// ProcessFrame calls collect frames until the window expires.
func (r *Recorder) Start(camID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[camID]; ok {
		return
	}
	r.active[camID] = &session{
		id:        uuid.NewString(),
		windowEnd: now.Add(r.window),
		label:     now.Format(timestampLayout),
	}
	r.log.Info("recording started", "camera", camID, "window", r.window)
}

// ProcessFrame feeds one frame into the camera's active window, if any.
// Frames arriving inside the window are copied and buffered; the first frame
// past the end triggers an asynchronous flush and removes the session. Flush
// failures are logged, never returned.
func (r *Recorder) ProcessFrame(camID string, frame gocv.Mat, now time.Time) {
	r.mu.Lock()
	s, ok := r.active[camID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if now.Before(s.windowEnd) {
		s.frames = append(s.frames, frame.Clone())
		r.mu.Unlock()
		return
	}
	delete(r.active, camID)
	r.mu.Unlock()

	r.log.Info("recording window closed", "camera", camID, "frames", len(s.frames))
	go r.flush(camID, s)
}

// Active reports whether a recording window is open for camID.
func (r *Recorder) Active(camID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[camID]
	return ok
}

// BufferedFrames returns how many frames the active window holds.
func (r *Recorder) BufferedFrames(camID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.active[camID]; ok {
		return len(s.frames)
	}
	return 0
}

// flush writes the collected frames as an mp4 clip and releases them.
func (r *Recorder) flush(camID string, s *session) {
	defer func() {
		for i := range s.frames {
			s.frames[i].Close()
		}
	}()

	if len(s.frames) == 0 {
		return
	}

	name := fmt.Sprintf("%s_%s_%s.mp4", camID, s.label, s.id[:8])
	path := filepath.Join(r.dir, name)

	// Frames arrive at whatever cadence the detection pipeline runs, so
	// the clip plays back in real time only if it is written at the rate
	// the frames were collected.
	fps := clipFPS(len(s.frames), r.window)

	first := s.frames[0]
	writer, err := gocv.VideoWriterFile(path, videoCodec, fps, first.Cols(), first.Rows(), true)
	if err != nil {
		r.log.Error("recording flush failed", "camera", camID, "path", path, "error", err)
		return
	}
	defer writer.Close()

	for i := range s.frames {
		if err := writer.Write(s.frames[i]); err != nil {
			r.log.Error("recording write failed", "camera", camID, "path", path, "error", err)
			return
		}
	}
	r.log.Info("recording saved", "camera", camID, "path", path)
}

// clipFPS derives the playback rate from how many frames were collected over
// the window, clamped to at least 1 fps.
func clipFPS(frames int, window time.Duration) float64 {
	if frames <= 0 || window <= 0 {
		return DefaultFPS
	}
	fps := float64(frames) / window.Seconds()
	if fps < 1 {
		return 1
	}
	return fps
}
