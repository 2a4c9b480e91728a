// Package alert runs the per-frame detection pipeline and decides when a
// camera transitions between SAFE and DANGER, firing evidence capture and
// notifications on new intrusions.
package alert

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/guardian/internal/camera"
	"github.com/ayusman/guardian/internal/detect"
	"github.com/ayusman/guardian/internal/gateway"
	"github.com/ayusman/guardian/internal/notify"
	"github.com/ayusman/guardian/internal/record"
	"github.com/ayusman/guardian/internal/store"
	"github.com/ayusman/guardian/internal/track"
)

// Defaults for alert pacing.
const (
	// DefaultCooldown is the minimum gap between full alerts per camera.
	DefaultCooldown = 30 * time.Second
	// DefaultHeartbeat is the cadence of SAFE heartbeats for quiet cameras.
	DefaultHeartbeat = 600 * time.Second
)

var (
	boxColor   = color.RGBA{G: 255, A: 255}
	labelColor = color.RGBA{G: 255, A: 255}
)

// Sender delivers status events to the gateway.
type Sender interface {
	Send(camID, status string, extra ...string)
}

// Metrics receives pipeline counters.
type Metrics interface {
	IncDetections(camID string)
	IncAlerts(camID string)
}

// Options configures a Coordinator. Zero-value fields use defaults; Detector
// is the only required dependency.
type Options struct {
	Detector detect.Detector
	Recorder *record.Recorder
	Notifier notify.Notifier
	Gateway  Sender
	Events   *store.EventRepository
	Metrics  Metrics
	Cooldown time.Duration
	// RequireVerified suppresses escalation for sessions whose viewer has
	// not survived a full activation cycle, so alerts cannot fire while a
	// connection is still being negotiated or retried.
	RequireVerified bool
	MaxDisappeared  int
	Logger          *slog.Logger
}

// Coordinator owns the detection pipeline for all cameras. It is safe for
// concurrent use; per-camera state lives in the camera sessions.
type Coordinator struct {
	detector        detect.Detector
	recorder        *record.Recorder
	notifier        notify.Notifier
	gateway         Sender
	events          *store.EventRepository
	metrics         Metrics
	cooldown        time.Duration
	requireVerified bool
	maxDisappeared  int
	log             *slog.Logger

	now func() time.Time
}

// New creates a Coordinator from opts.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		detector:        opts.Detector,
		recorder:        opts.Recorder,
		notifier:        opts.Notifier,
		gateway:         opts.Gateway,
		events:          opts.Events,
		metrics:         opts.Metrics,
		cooldown:        opts.Cooldown,
		requireVerified: opts.RequireVerified,
		maxDisappeared:  opts.MaxDisappeared,
		log:             opts.Logger,
		now:             time.Now,
	}
	if c.cooldown <= 0 {
		c.cooldown = DefaultCooldown
	}
	if c.maxDisappeared <= 0 {
		c.maxDisappeared = track.DefaultMaxDisappeared
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// ProcessDetection runs one detection pass for sess over frame. It returns an
// annotated copy of the frame (caller owns it) and the ids of subjects that
// appeared in this pass. Detection failures fall back to an unannotated copy
// so the stream keeps flowing.
func (c *Coordinator) ProcessDetection(ctx context.Context, sess *camera.Session, frame gocv.Mat) (gocv.Mat, []int, error) {
	annotated := frame.Clone()
	if !sess.Monitoring() {
		return annotated, nil, nil
	}

	boxes, err := c.detector.Detect(frame)
	if err != nil {
		c.log.Warn("detection failed", "camera", sess.ID, "error", err)
		return annotated, nil, fmt.Errorf("detect: %w", err)
	}
	if c.metrics != nil {
		c.metrics.IncDetections(sess.ID)
	}

	rects := make([]image.Rectangle, len(boxes))
	for i, b := range boxes {
		rects[i] = b.Rect
	}
	objects, newIDs := sess.UpdateTracker(rects, c.maxDisappeared)

	c.annotate(annotated, rects, objects)

	now := c.now()
	if c.recorder != nil {
		c.recorder.ProcessFrame(sess.ID, annotated, now)
	}

	switch {
	case len(newIDs) > 0:
		// Unverified sessions never escalate when verification is
		// required; the new ids are still tracked so identities are
		// stable once the viewer is confirmed.
		if !c.requireVerified || sess.Verified() {
			if restore := c.handleIntrusion(sess, annotated, newIDs, now); restore != nil {
				defer restore()
			}
		}
	case len(rects) == 0 && sess.Status() == camera.StatusDanger:
		if sess.SetStatus(camera.StatusSafe) {
			c.log.Info("camera clear", "camera", sess.ID)
			c.sendEvent(sess.ID, gateway.StatusSafe, "area clear", "")
			sess.SetLastHeartbeat(now)
		}
	}

	return annotated, newIDs, nil
}

// handleIntrusion escalates a camera to DANGER. A full alert (evidence
// snapshot, notification, recording window, forced max quality) fires at most
// once per cooldown; in between, only the status transition is relayed. The
// returned restore func, when non-nil, caps the max-quality override to the
// calling detection pass.
func (c *Coordinator) handleIntrusion(sess *camera.Session, annotated gocv.Mat, newIDs []int, now time.Time) (restore func()) {
	changed := sess.SetStatus(camera.StatusDanger)
	sess.SetLastHeartbeat(now)

	if now.Sub(sess.LastAlertAt()) < c.cooldown {
		if changed {
			c.sendEvent(sess.ID, gateway.StatusDanger, "new subject during cooldown", "")
		}
		return nil
	}
	sess.SetLastAlert(now)
	if c.metrics != nil {
		c.metrics.IncAlerts(sess.ID)
	}

	// Force full quality for the rest of this detection pass so the
	// stream carries the alert at the top rung regardless of the adaptive
	// controller's current step.
	restore = sess.OverrideConfig(camera.MaxConfig())

	var evidence string
	if c.recorder != nil {
		path, err := c.recorder.SaveSnapshot(sess.ID, annotated)
		if err != nil {
			c.log.Error("snapshot failed", "camera", sess.ID, "error", err)
		} else {
			evidence = path
		}
		c.recorder.Start(sess.ID, now)
	}

	if buf, err := gocv.IMEncode(".jpg", annotated); err == nil {
		jpeg := make([]byte, len(buf.GetBytes()))
		copy(jpeg, buf.GetBytes())
		buf.Close()
		c.notifier.SendPhoto(sess.ID, jpeg)
	} else {
		c.log.Error("alert photo encode failed", "camera", sess.ID, "error", err)
	}

	c.log.Warn("intrusion detected", "camera", sess.ID, "new_subjects", len(newIDs), "evidence", evidence)
	c.sendEvent(sess.ID, gateway.StatusDanger, "intruder detected", evidence)
	return restore
}

// annotate draws detection boxes and tracked-subject ids over m in place.
func (c *Coordinator) annotate(m gocv.Mat, rects []image.Rectangle, objects map[int]image.Point) {
	for _, r := range rects {
		gocv.Rectangle(&m, r, boxColor, 2)
	}
	for id, pt := range objects {
		label := fmt.Sprintf("ID %d", id)
		gocv.PutText(&m, label, image.Pt(pt.X-10, pt.Y-10), gocv.FontHersheySimplex, 0.5, labelColor, 2)
		gocv.Circle(&m, pt, 4, labelColor, -1)
	}
}

// sendEvent relays a status to the gateway and appends it to the event log.
func (c *Coordinator) sendEvent(camID, status, message, evidence string) {
	if c.gateway != nil {
		if evidence != "" {
			c.gateway.Send(camID, status, evidence)
		} else {
			c.gateway.Send(camID, status)
		}
	}
	if c.events != nil {
		e := &store.Event{CamID: camID, Status: status, Message: message, EvidencePath: evidence}
		if err := c.events.Append(e); err != nil {
			c.log.Error("event append failed", "camera", camID, "error", err)
		}
	}
}

// RunHeartbeat periodically reasserts SAFE for verified, quiet cameras so the
// gateway can distinguish a healthy silent camera from a dead one. It blocks
// until ctx is done.
func (c *Coordinator) RunHeartbeat(ctx context.Context, reg *camera.Registry, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	// Sample well below the heartbeat interval so a due heartbeat is not
	// delayed by a full period.
	tick := time.NewTicker(interval / 10)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			for _, sess := range reg.Sessions() {
				if !sess.Verified() || sess.Status() == camera.StatusDanger {
					continue
				}
				if now.Sub(sess.LastHeartbeatAt()) < interval {
					continue
				}
				sess.SetLastHeartbeat(now)
				if c.gateway != nil {
					c.gateway.Send(sess.ID, gateway.StatusSafe)
				}
			}
		}
	}
}
