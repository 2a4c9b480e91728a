package detect

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface. It plays
// back a scripted sequence of results; when the script is exhausted the last
// entry repeats.
type MockDetector struct {
	mu     sync.Mutex
	script [][]Box
	index  int
	err    error
	calls  int
}

// NewMockDetector creates a MockDetector that returns no boxes.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetBoxes sets a single result returned by every Detect call.
func (m *MockDetector) SetBoxes(boxes []Box) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = [][]Box{boxes}
	m.index = 0
}

// SetScript sets a per-call sequence of results.
func (m *MockDetector) SetScript(script ...[]Box) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = script
	m.index = 0
}

// SetError makes Detect fail with err.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect was invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the next scripted result.
func (m *MockDetector) Detect(frame gocv.Mat) ([]Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.script) == 0 {
		return nil, nil
	}
	boxes := m.script[m.index]
	if m.index < len(m.script)-1 {
		m.index++
	}
	return boxes, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}
