// Package camera owns per-camera state: stream configuration, the session
// registry, and frame sources. All shared camera state lives behind the
// registry; nothing else holds camera maps.
package camera

// StreamConfig describes how a camera's output stream is produced. Values are
// replaced wholesale (never mutated in place) so readers always see a
// consistent tuple.
type StreamConfig struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	FPS     int    `json:"fps"`
	Quality int    `json:"quality"`
	Label   string `json:"label"`
	Auto    bool   `json:"auto"`
}

// QualityLadder returns the ordered adaptive presets, lowest quality first.
func QualityLadder() []StreamConfig {
	return []StreamConfig{
		{Width: 640, Height: 360, FPS: 8, Quality: 70, Label: "360p", Auto: true},
		{Width: 854, Height: 480, FPS: 10, Quality: 75, Label: "480p", Auto: true},
		{Width: 1280, Height: 720, FPS: 12, Quality: 85, Label: "720p", Auto: true},
		{Width: 1920, Height: 1080, FPS: 15, Quality: 90, Label: "1080p", Auto: true},
	}
}

// DefaultLadderIndex is the ladder rung new cameras start on.
const DefaultLadderIndex = 2

// DefaultConfig returns the starting configuration for a new camera.
func DefaultConfig() StreamConfig {
	return QualityLadder()[DefaultLadderIndex]
}

// MaxConfig returns the highest-fidelity preset, used while capturing alert
// evidence.
func MaxConfig() StreamConfig {
	ladder := QualityLadder()
	cfg := ladder[len(ladder)-1]
	cfg.Label = "alert"
	return cfg
}

// Valid reports whether the configuration tuple is usable.
func (c StreamConfig) Valid() bool {
	return c.Width > 0 && c.Height > 0 && c.FPS > 0 && c.Quality > 0 && c.Quality <= 100
}
