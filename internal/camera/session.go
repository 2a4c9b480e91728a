package camera

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/guardian/internal/track"
)

// Status is the coarse per-camera alert state relayed to the gateway.
type Status string

const (
	// StatusSafe means no newly-appeared subject is being tracked.
	StatusSafe Status = "SAFE"
	// StatusDanger means at least one new subject appeared and the camera is
	// in an alert window.
	StatusDanger Status = "DANGER"
)

// Session holds the live state for one camera. It is created lazily by the
// Registry on first frame or first viewer, whichever comes first, and removed
// by the liveness sweep once the camera goes silent with no viewers left.
//
// The tracker is guarded by its own lock so a slow detection pass never
// blocks config or liveness reads from other loops.
type Session struct {
	ID string

	mu              sync.Mutex
	lastFrameAt     time.Time
	monitoring      bool
	viewers         int
	viewerSince     time.Time
	verified        bool
	connected       bool
	status          Status
	lastAlertAt     time.Time
	lastHeartbeatAt time.Time

	config     StreamConfig
	overridden bool
	savedCfg   StreamConfig

	frame    gocv.Mat
	hasFrame bool

	trackMu sync.Mutex
	tracker *track.Tracker
}

func newSession(id string) *Session {
	return &Session{
		ID:     id,
		status: StatusSafe,
		config: DefaultConfig(),
	}
}

// Touch records a received frame, marking the camera live.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFrameAt = now
	s.connected = true
}

// LastFrameAt returns the liveness timestamp.
func (s *Session) LastFrameAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrameAt
}

// Connected reports whether the camera has ever delivered a frame.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// StoreFrame publishes the most recent raw frame for the push path. The
// session takes ownership of m and closes the frame it replaces.
func (s *Session) StoreFrame(m gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasFrame {
		s.frame.Close()
	}
	s.frame = m
	s.hasFrame = true
}

// CloneFrame returns a copy of the latest pushed frame and its arrival time.
// The caller owns the returned Mat. ok is false when no frame has arrived.
func (s *Session) CloneFrame() (m gocv.Mat, at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasFrame {
		return gocv.Mat{}, time.Time{}, false
	}
	return s.frame.Clone(), s.lastFrameAt, true
}

// SetMonitoring toggles detection for this camera.
func (s *Session) SetMonitoring(on bool) {
	s.mu.Lock()
	s.monitoring = on
	s.mu.Unlock()
	if !on {
		s.DropTracker()
	}
}

// Monitoring reports whether detection is enabled.
func (s *Session) Monitoring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitoring
}

// AddViewer registers an open feed connection. first is true when this is the
// camera's only viewer, which is the caller's cue to emit CONNECTED and start
// the stream loop.
func (s *Session) AddViewer(now time.Time) (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers++
	if s.viewers == 1 {
		s.viewerSince = now
		return true
	}
	return false
}

// RemoveViewer unregisters a feed connection. last is true when no viewers
// remain.
func (s *Session) RemoveViewer() (last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewers > 0 {
		s.viewers--
	}
	return s.viewers == 0
}

// ViewerCount returns the number of open feed connections.
func (s *Session) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewers
}

// HasViewer reports whether any feed connection is open.
func (s *Session) HasViewer() bool {
	return s.ViewerCount() > 0
}

// VerifyIfDue promotes the session to verified once a viewer has been
// attached for at least verifyAfter. Returns true only on the transition.
// Verification gates alert escalation to the gateway: it suppresses spurious
// alerts fired while a viewer connection is still being negotiated.
func (s *Session) VerifyIfDue(now time.Time, verifyAfter time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verified || s.viewers == 0 {
		return false
	}
	if now.Sub(s.viewerSince) < verifyAfter {
		return false
	}
	s.verified = true
	return true
}

// Verified reports whether at least one viewer has survived a full
// activation cycle.
func (s *Session) Verified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified
}

// Status returns the current alert state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the alert state and reports whether it changed.
func (s *Session) SetStatus(st Status) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == st {
		return false
	}
	s.status = st
	return true
}

// LastAlertAt returns the time of the last cooldown-gated alert.
func (s *Session) LastAlertAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAlertAt
}

// SetLastAlert resets the alert cooldown clock.
func (s *Session) SetLastAlert(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAlertAt = now
}

// LastHeartbeatAt returns the time of the last gateway-visible event.
func (s *Session) LastHeartbeatAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeatAt
}

// SetLastHeartbeat records that the gateway just heard from this camera.
func (s *Session) SetLastHeartbeat(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeatAt = now
}

// Config returns the current stream configuration.
func (s *Session) Config() StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SetConfig replaces the stream configuration wholesale (explicit override or
// initial setup). An explicit set clears any pending alert override.
func (s *Session) SetConfig(cfg StreamConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	s.overridden = false
}

// SetAutoConfig replaces the configuration only while the camera is in auto
// mode. During an alert override the new rung is parked in the saved
// snapshot, so the restore still wins for that call without losing the step.
func (s *Session) SetAutoConfig(cfg StreamConfig) (applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overridden {
		if s.savedCfg.Auto {
			s.savedCfg = cfg
			return true
		}
		return false
	}
	if !s.config.Auto {
		return false
	}
	s.config = cfg
	return true
}

// OverrideConfig transiently forces cfg (typically MaxConfig) and returns a
// restore func that reinstates the prior configuration. Used to guarantee
// high-fidelity alert evidence for the duration of one detection call.
func (s *Session) OverrideConfig(cfg StreamConfig) (restore func()) {
	s.mu.Lock()
	s.savedCfg = s.config
	s.config = cfg
	s.overridden = true
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.overridden {
			return
		}
		s.config = s.savedCfg
		s.overridden = false
	}
}

// UpdateTracker runs one serialized tracker update for this camera, creating
// the tracker on first use. Returns the live id -> centroid mapping and the
// ids registered by this call.
func (s *Session) UpdateTracker(rects []image.Rectangle, maxDisappeared int) (map[int]image.Point, []int) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if s.tracker == nil {
		s.tracker = track.New(maxDisappeared)
	}
	objects := s.tracker.Update(rects)
	return objects, s.tracker.NewIDs()
}

// DropTracker discards tracking state; identities do not survive a
// monitoring pause or camera disconnect.
func (s *Session) DropTracker() {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	s.tracker = nil
}

// HasTracker reports whether tracking state exists for this camera.
func (s *Session) HasTracker() bool {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	return s.tracker != nil
}

// close releases resources held by the session. Called by the registry with
// the session already unlinked.
func (s *Session) close() {
	s.mu.Lock()
	if s.hasFrame {
		s.frame.Close()
		s.hasFrame = false
	}
	s.mu.Unlock()
	s.DropTracker()
}
