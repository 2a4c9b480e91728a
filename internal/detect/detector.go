// Package detect defines the object-detection collaborator: an image goes
// in, bounding boxes for the subject class come out. The model itself lives
// behind the Detector interface; this package only filters and transports.
package detect

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Box is one detection, already filtered to the subject class.
type Box struct {
	Rect       image.Rectangle
	Confidence float32
	Label      string
}

// Detector analyzes frames for subjects.
type Detector interface {
	// Detect returns the subject-class boxes found in frame, filtered to the
	// configured confidence threshold. An empty slice means no subjects.
	Detect(frame gocv.Mat) ([]Box, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds detection options.
type Config struct {
	// Endpoint is the HTTP address of the detection model server.
	Endpoint string

	// TargetLabel is the single class to keep (default "person").
	TargetLabel string

	// MinConfidence is the minimum detection confidence (default 0.5).
	MinConfidence float32

	// Timeout bounds one detection round trip.
	Timeout time.Duration
}

// DefaultConfig returns a Config with the observed defaults.
func DefaultConfig() Config {
	return Config{
		TargetLabel:   "person",
		MinConfidence: 0.5,
		Timeout:       2 * time.Second,
	}
}
