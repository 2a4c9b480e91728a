package detect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"net/http"

	"gocv.io/x/gocv"
)

// prediction is one raw model output as returned by the detect server.
type prediction struct {
	ClassName  string  `json:"class_name"`
	Confidence float32 `json:"confidence"`
	Left       int     `json:"left"`
	Top        int     `json:"top"`
	Right      int     `json:"right"`
	Bottom     int     `json:"bottom"`
}

// RemoteDetector sends JPEG frames to a network object-detection server and
// filters the returned predictions to the subject class.
type RemoteDetector struct {
	cfg    Config
	client *http.Client
}

// NewRemoteDetector creates a RemoteDetector for cfg.Endpoint.
func NewRemoteDetector(cfg Config) *RemoteDetector {
	if cfg.TargetLabel == "" {
		cfg.TargetLabel = DefaultConfig().TargetLabel
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultConfig().MinConfidence
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &RemoteDetector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Detect encodes the frame as JPEG, posts it to the detect server, and
// returns the subject-class boxes at or above the confidence threshold.
func (d *RemoteDetector) Detect(frame gocv.Mat) ([]Box, error) {
	buf, err := gocv.IMEncode(".jpg", frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	resp, err := d.client.Post(d.cfg.Endpoint, "image/jpeg", bytes.NewReader(buf.GetBytes()))
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect server returned %d", resp.StatusCode)
	}

	var predictions []prediction
	if err := json.NewDecoder(resp.Body).Decode(&predictions); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}

	boxes := make([]Box, 0, len(predictions))
	for _, p := range predictions {
		if p.ClassName != d.cfg.TargetLabel {
			continue
		}
		if p.Confidence < d.cfg.MinConfidence {
			continue
		}
		boxes = append(boxes, Box{
			Rect:       image.Rect(p.Left, p.Top, p.Right, p.Bottom),
			Confidence: p.Confidence,
			Label:      p.ClassName,
		})
	}
	return boxes, nil
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (d *RemoteDetector) Close() error {
	return nil
}
