package alert

import (
	"context"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/guardian/internal/camera"
	"github.com/ayusman/guardian/internal/detect"
	"github.com/ayusman/guardian/internal/record"
	"github.com/ayusman/guardian/internal/store"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSender) Send(camID, status string, extra ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := camID + ":" + status
	if len(extra) > 0 {
		msg += ":" + strings.Join(extra, ":")
	}
	f.calls = append(f.calls, msg)
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type testEnv struct {
	coord    *Coordinator
	detector *detect.MockDetector
	gateway  *fakeSender
	events   *store.EventRepository
	sess     *camera.Session
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rec, err := record.New(t.TempDir(), record.DefaultWindow, nil)
	if err != nil {
		t.Fatalf("record.New: %v", err)
	}

	env := &testEnv{
		detector: detect.NewMockDetector(),
		gateway:  &fakeSender{},
		events:   s.Events(),
		now:      time.Now(),
	}
	env.coord = New(Options{
		Detector: env.detector,
		Recorder: rec,
		Gateway:  env.gateway,
		Events:   env.events,
	})
	env.coord.now = func() time.Time { return env.now }

	reg := camera.NewRegistry(camera.Options{})
	env.sess = reg.GetOrCreate("cam1")
	env.sess.SetMonitoring(true)
	return env
}

func testFrame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func personBox(x, y int) detect.Box {
	return detect.Box{
		Rect:       image.Rect(x, y, x+40, y+80),
		Confidence: 0.9,
		Label:      "person",
	}
}

func TestProcessDetectionNewSubjectRaisesDanger(t *testing.T) {
	env := newTestEnv(t)
	frame := testFrame(t)

	env.detector.SetBoxes([]detect.Box{personBox(10, 10)})
	annotated, newIDs, err := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	if err != nil {
		t.Fatalf("ProcessDetection: %v", err)
	}
	defer annotated.Close()

	if len(newIDs) != 1 {
		t.Fatalf("newIDs = %v, want one id", newIDs)
	}
	if env.sess.Status() != camera.StatusDanger {
		t.Errorf("status = %s, want DANGER", env.sess.Status())
	}

	calls := env.gateway.sent()
	if len(calls) != 1 || !strings.HasPrefix(calls[0], "cam1:DANGER:/recordings/") {
		t.Errorf("gateway calls = %v, want one DANGER with evidence path", calls)
	}

	events, err := env.events.ListByCamera("cam1", 10)
	if err != nil {
		t.Fatalf("ListByCamera: %v", err)
	}
	if len(events) != 1 || events[0].Status != "DANGER" {
		t.Errorf("events = %+v, want one DANGER entry", events)
	}
}

func TestCooldownSuppressesRepeatAlert(t *testing.T) {
	env := newTestEnv(t)
	frame := testFrame(t)

	env.detector.SetBoxes([]detect.Box{personBox(10, 10)})
	a1, _, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a1.Close()

	// A second subject appears well before the cooldown expires. It must
	// not fire another full alert, and status is already DANGER so no
	// transition event either.
	env.now = env.now.Add(5 * time.Second)
	env.detector.SetBoxes([]detect.Box{personBox(10, 10), personBox(200, 10)})
	a2, newIDs, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a2.Close()

	if len(newIDs) != 1 {
		t.Fatalf("newIDs = %v, want one id for the second subject", newIDs)
	}
	if calls := env.gateway.sent(); len(calls) != 1 {
		t.Errorf("gateway calls = %v, want only the first alert", calls)
	}
}

func TestSecondAlertAfterCooldown(t *testing.T) {
	env := newTestEnv(t)
	frame := testFrame(t)

	env.detector.SetBoxes([]detect.Box{personBox(10, 10)})
	a1, _, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a1.Close()

	env.now = env.now.Add(DefaultCooldown + time.Second)
	env.detector.SetBoxes([]detect.Box{personBox(10, 10), personBox(200, 10)})
	a2, _, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a2.Close()

	calls := env.gateway.sent()
	if len(calls) != 2 {
		t.Fatalf("gateway calls = %v, want two full alerts", calls)
	}
	if !strings.HasPrefix(calls[1], "cam1:DANGER:/recordings/") {
		t.Errorf("second alert = %q, want DANGER with evidence", calls[1])
	}
}

func TestEmptyDetectionsClearDanger(t *testing.T) {
	env := newTestEnv(t)
	frame := testFrame(t)

	env.detector.SetBoxes([]detect.Box{personBox(10, 10)})
	a1, _, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a1.Close()

	env.detector.SetBoxes(nil)
	a2, _, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a2.Close()

	if env.sess.Status() != camera.StatusSafe {
		t.Errorf("status = %s, want SAFE after clear", env.sess.Status())
	}
	calls := env.gateway.sent()
	if len(calls) != 2 || calls[1] != "cam1:SAFE" {
		t.Errorf("gateway calls = %v, want trailing cam1:SAFE", calls)
	}
}

func TestClearWhileSafeStaysQuiet(t *testing.T) {
	env := newTestEnv(t)
	frame := testFrame(t)

	env.detector.SetBoxes(nil)
	a, _, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a.Close()

	if calls := env.gateway.sent(); len(calls) != 0 {
		t.Errorf("gateway calls = %v, want none without a transition", calls)
	}
}

func TestMonitoringOffSkipsDetection(t *testing.T) {
	env := newTestEnv(t)
	frame := testFrame(t)
	env.sess.SetMonitoring(false)

	env.detector.SetBoxes([]detect.Box{personBox(10, 10)})
	a, newIDs, err := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	if err != nil {
		t.Fatalf("ProcessDetection: %v", err)
	}
	a.Close()

	if len(newIDs) != 0 {
		t.Errorf("newIDs = %v, want none while monitoring is off", newIDs)
	}
	if env.detector.Calls() != 0 {
		t.Errorf("detector calls = %d, want 0", env.detector.Calls())
	}
}

func TestDetectorErrorStillReturnsFrame(t *testing.T) {
	env := newTestEnv(t)
	frame := testFrame(t)

	env.detector.SetError(context.DeadlineExceeded)
	a, _, err := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	if err == nil {
		t.Error("expected an error from the detector")
	}
	if a.Empty() {
		t.Error("expected a usable frame copy despite the error")
	}
	a.Close()
}

func TestUnverifiedViewerSuppressesEscalation(t *testing.T) {
	env := newTestEnv(t)
	env.coord.requireVerified = true
	frame := testFrame(t)

	env.detector.SetBoxes([]detect.Box{personBox(10, 10)})
	a, newIDs, err := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	if err != nil {
		t.Fatalf("ProcessDetection: %v", err)
	}
	a.Close()

	// Tracking still ran, but nothing escalated.
	if len(newIDs) != 1 {
		t.Fatalf("newIDs = %v, want the subject tracked", newIDs)
	}
	if env.sess.Status() != camera.StatusSafe {
		t.Errorf("status = %s, want SAFE while unverified", env.sess.Status())
	}
	if calls := env.gateway.sent(); len(calls) != 0 {
		t.Errorf("gateway calls = %v, want none while unverified", calls)
	}
	events, err := env.events.ListByCamera("cam1", 10)
	if err != nil {
		t.Fatalf("ListByCamera: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %+v, want none while unverified", events)
	}
}

func TestVerifiedViewerAllowsEscalation(t *testing.T) {
	env := newTestEnv(t)
	env.coord.requireVerified = true
	frame := testFrame(t)

	// A viewer that has been attached for a full activation cycle
	// promotes the session.
	env.sess.AddViewer(env.now.Add(-10 * time.Second))
	if !env.sess.VerifyIfDue(env.now, camera.DefaultVerifyAfter) {
		t.Fatal("session should verify after a full cycle")
	}

	env.detector.SetBoxes([]detect.Box{personBox(10, 10)})
	a, _, err := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	if err != nil {
		t.Fatalf("ProcessDetection: %v", err)
	}
	a.Close()

	if env.sess.Status() != camera.StatusDanger {
		t.Errorf("status = %s, want DANGER once verified", env.sess.Status())
	}
	if calls := env.gateway.sent(); len(calls) != 1 {
		t.Errorf("gateway calls = %v, want one DANGER", calls)
	}
}

func TestTrackedSubjectKeepsDanger(t *testing.T) {
	env := newTestEnv(t)
	frame := testFrame(t)

	env.detector.SetBoxes([]detect.Box{personBox(10, 10)})
	a1, _, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a1.Close()

	// The same subject persists: no new ids, but the scene is not clear,
	// so the camera stays DANGER and nothing extra is relayed.
	a2, newIDs, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a2.Close()
	if len(newIDs) != 0 {
		t.Fatalf("newIDs = %v, want none for a persisting subject", newIDs)
	}
	if env.sess.Status() != camera.StatusDanger {
		t.Errorf("status = %s, want DANGER while the subject remains", env.sess.Status())
	}
	if calls := env.gateway.sent(); len(calls) != 1 {
		t.Errorf("gateway calls = %v, want only the initial alert", calls)
	}
}

func TestEscalationStampsHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	frame := testFrame(t)

	if !env.sess.LastHeartbeatAt().IsZero() {
		t.Fatal("heartbeat should start unset")
	}

	env.detector.SetBoxes([]detect.Box{personBox(10, 10)})
	a, _, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a.Close()

	if got := env.sess.LastHeartbeatAt(); !got.Equal(env.now) {
		t.Errorf("heartbeat = %v, want stamped at %v", got, env.now)
	}

	// The SAFE transition stamps it again.
	env.now = env.now.Add(3 * time.Second)
	env.detector.SetBoxes(nil)
	a2, _, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a2.Close()

	if got := env.sess.LastHeartbeatAt(); !got.Equal(env.now) {
		t.Errorf("heartbeat = %v, want restamped at %v", got, env.now)
	}
}

func TestAlertRestoresConfigAfterOverride(t *testing.T) {
	env := newTestEnv(t)
	frame := testFrame(t)

	before := env.sess.Config()
	env.detector.SetBoxes([]detect.Box{personBox(10, 10)})
	a, _, _ := env.coord.ProcessDetection(context.Background(), env.sess, frame)
	a.Close()

	after := env.sess.Config()
	if after != before {
		t.Errorf("config = %+v, want %+v restored after the alert pass", after, before)
	}
}
