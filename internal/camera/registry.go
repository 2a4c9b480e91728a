package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry defaults.
const (
	// DefaultLivenessTimeout is how long a camera may go silent before its
	// session is expired.
	DefaultLivenessTimeout = 5 * time.Second
	// DefaultSweepInterval is how often the liveness sweep runs.
	DefaultSweepInterval = 2 * time.Second
	// DefaultVerifyAfter is how long a viewer must stay attached before the
	// session counts as verified.
	DefaultVerifyAfter = 4 * time.Second
)

// ErrDuplicateSource is returned when registering a camera descriptor whose
// id is already taken.
var ErrDuplicateSource = errors.New("camera source already registered")

// Options configures a Registry. Zero values fall back to the defaults above.
type Options struct {
	LivenessTimeout time.Duration
	VerifyAfter     time.Duration
	Logger          *slog.Logger
}

// Registry is the single ownership boundary for camera sessions and polled
// source descriptors. All access goes through its API; there is no ambient
// shared state keyed by camera id anywhere else.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	sources  map[string]SourceDescriptor

	livenessTimeout time.Duration
	verifyAfter     time.Duration
	log             *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options) *Registry {
	if opts.LivenessTimeout <= 0 {
		opts.LivenessTimeout = DefaultLivenessTimeout
	}
	if opts.VerifyAfter <= 0 {
		opts.VerifyAfter = DefaultVerifyAfter
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		sessions:        make(map[string]*Session),
		sources:         make(map[string]SourceDescriptor),
		livenessTimeout: opts.LivenessTimeout,
		verifyAfter:     opts.VerifyAfter,
		log:             opts.Logger,
	}
}

// VerifyAfter returns the viewer verification delay.
func (r *Registry) VerifyAfter() time.Duration {
	return r.verifyAfter
}

// GetOrCreate returns the session for camID, creating it on first touch.
func (r *Registry) GetOrCreate(camID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[camID]; ok {
		return s
	}
	s := newSession(camID)
	r.sessions[camID] = s
	r.log.Debug("session created", "camera", camID)
	return s
}

// Get returns the session for camID if one exists.
func (r *Registry) Get(camID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[camID]
	return s, ok
}

// Remove unlinks and closes the session for camID.
func (r *Registry) Remove(camID string) {
	r.mu.Lock()
	s, ok := r.sessions[camID]
	if ok {
		delete(r.sessions, camID)
	}
	r.mu.Unlock()
	if ok {
		s.close()
	}
}

// Sessions returns a snapshot of all live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Sweep expires sessions that have gone silent past the liveness timeout
// with no viewers attached, and returns the ids of expired sessions that
// were previously connected (those owe the gateway a DISCONNECTED event).
// Sessions that never produced a frame are only expired once their viewers
// are gone.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.HasViewer() {
			continue
		}
		last := s.LastFrameAt()
		if last.IsZero() || now.Sub(last) > r.livenessTimeout {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	var disconnected []string
	for _, s := range expired {
		wasConnected := s.Connected()
		s.close()
		r.log.Info("session expired", "camera", s.ID, "was_connected", wasConnected)
		if wasConnected {
			disconnected = append(disconnected, s.ID)
		}
	}
	return disconnected
}

// RunSweeper runs the liveness sweep every interval until ctx is cancelled,
// invoking onExpired for each previously-connected camera that went silent.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, onExpired func(camID string)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range r.Sweep(now) {
				if onExpired != nil {
					onExpired(id)
				}
			}
		}
	}
}

// RegisterSource adds a polled network camera descriptor. Invalid or
// duplicate descriptors are rejected synchronously and the camera is never
// added.
func (r *Registry) RegisterSource(desc SourceDescriptor) error {
	if err := desc.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[desc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, desc.ID)
	}
	r.sources[desc.ID] = desc
	r.log.Info("camera source registered", "camera", desc.ID, "url", desc.URL)
	return nil
}

// Source returns the polled source descriptor for camID, if registered.
// Cameras without a descriptor are push sources.
func (r *Registry) Source(camID string) (SourceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.sources[camID]
	return d, ok
}

// Sources returns a snapshot of all registered source descriptors.
func (r *Registry) Sources() []SourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SourceDescriptor, 0, len(r.sources))
	for _, d := range r.sources {
		out = append(out, d)
	}
	return out
}
