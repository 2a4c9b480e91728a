package camera

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// ErrSourceClosed is returned when reading from a closed source.
var ErrSourceClosed = errors.New("source is closed")

// SourceDescriptor identifies a directly-polled network camera. Cameras not
// registered this way are push sources (they upload frames over HTTP).
type SourceDescriptor struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Label string `json:"label"`
}

func (d SourceDescriptor) validate() error {
	if d.ID == "" {
		return errors.New("camera id must not be empty")
	}
	if d.URL == "" {
		return fmt.Errorf("camera %s: url must not be empty", d.ID)
	}
	return nil
}

// Source yields raw frames from a camera device or network stream.
type Source interface {
	// Read returns the next frame. The caller owns the returned Mat.
	Read() (gocv.Mat, error)

	// Close releases the underlying connection. A closed source reopens on
	// the next Read only if it is a PollSource.
	Close() error
}

// PollSource reads frames from a network camera via OpenCV's VideoCapture.
// The connection is opened lazily on first Read and reused across reads;
// a read failure releases the connection so the next Read reopens it.
type PollSource struct {
	url string

	mu      sync.Mutex
	capture *gocv.VideoCapture
	closed  bool
}

// NewPollSource creates a PollSource for the given device URL
// (e.g. "rtsp://..." or "http://.../stream").
func NewPollSource(url string) *PollSource {
	return &PollSource{url: url}
}

// Open establishes the capture connection if one is not already held.
func (p *PollSource) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openLocked()
}

func (p *PollSource) openLocked() error {
	if p.closed {
		return ErrSourceClosed
	}
	if p.capture != nil {
		return nil
	}
	capture, err := gocv.OpenVideoCapture(p.url)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.url, err)
	}
	p.capture = capture
	return nil
}

// Read returns the next frame from the stream, reopening the connection if
// needed. On failure the connection is released before returning so stale
// handles never linger.
func (p *PollSource) Read() (gocv.Mat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.openLocked(); err != nil {
		return gocv.Mat{}, err
	}

	mat := gocv.NewMat()
	if ok := p.capture.Read(&mat); !ok {
		mat.Close()
		p.releaseLocked()
		return gocv.Mat{}, fmt.Errorf("read %s: stream yielded no frame", p.url)
	}
	if mat.Empty() {
		mat.Close()
		p.releaseLocked()
		return gocv.Mat{}, fmt.Errorf("read %s: empty frame", p.url)
	}
	return mat, nil
}

func (p *PollSource) releaseLocked() {
	if p.capture != nil {
		p.capture.Close()
		p.capture = nil
	}
}

// Close releases the connection permanently.
func (p *PollSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
	p.closed = true
	return nil
}

// MockSource plays back a fixed frame or error for testing.
type MockSource struct {
	mu     sync.Mutex
	frame  gocv.Mat
	hasMat bool
	err    error
	reads  int
	closed bool
}

// NewMockSource creates an empty MockSource; configure it with SetFrame or
// SetError.
func NewMockSource() *MockSource {
	return &MockSource{}
}

// SetFrame sets the frame returned by Read. The mock takes ownership.
func (m *MockSource) SetFrame(frame gocv.Mat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasMat {
		m.frame.Close()
	}
	m.frame = frame
	m.hasMat = true
	m.err = nil
}

// SetError makes Read fail with err.
func (m *MockSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Read returns a clone of the configured frame or the configured error.
func (m *MockSource) Read() (gocv.Mat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return gocv.Mat{}, m.err
	}
	if !m.hasMat {
		return gocv.Mat{}, errors.New("no frame configured")
	}
	return m.frame.Clone(), nil
}

// Reads returns how many times Read was called.
func (m *MockSource) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Closed reports whether Close was called.
func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock closed and releases the configured frame.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasMat {
		m.frame.Close()
		m.hasMat = false
	}
	m.closed = true
	return nil
}
