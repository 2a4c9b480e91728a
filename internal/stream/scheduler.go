// Package stream produces the per-camera output stream: it paces frames to
// the configured rate, runs detection at its own cadence, encodes JPEG at the
// configured quality, and caches the latest encoded frame for viewers.
package stream

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/guardian/internal/camera"
)

// Pacing defaults.
const (
	// DefaultDetectInterval is the gap between detection passes, roughly
	// 3 Hz regardless of stream rate.
	DefaultDetectInterval = 333 * time.Millisecond
	// DefaultStaleAfter is how old a cached frame may be before viewers
	// get the placeholder instead.
	DefaultStaleAfter = 2 * time.Second
	// DefaultPollBackoff is the pause after a failed source read.
	DefaultPollBackoff = 500 * time.Millisecond
)

// CachedFrame is one encoded frame plus its capture time.
type CachedFrame struct {
	JPEG []byte
	At   time.Time
}

// Processor runs one detection pass and returns the annotated frame.
type Processor interface {
	ProcessDetection(ctx context.Context, sess *camera.Session, frame gocv.Mat) (gocv.Mat, []int, error)
}

// Options configures a Scheduler. Zero-value durations use defaults.
type Options struct {
	Registry       *camera.Registry
	Processor      Processor
	DetectInterval time.Duration
	StaleAfter     time.Duration
	PollBackoff    time.Duration
	Logger         *slog.Logger
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
	cache  atomic.Value // CachedFrame
}

// Scheduler runs one processing loop per streamed camera. Loops start when a
// camera gains its first viewer and stop when the last viewer leaves.
type Scheduler struct {
	registry       *camera.Registry
	processor      Processor
	detectInterval time.Duration
	staleAfter     time.Duration
	pollBackoff    time.Duration
	log            *slog.Logger

	// openSource is swapped in tests to inject mock sources.
	openSource func(desc camera.SourceDescriptor) (camera.Source, error)

	mu    sync.Mutex
	loops map[string]*loop
}

// New creates a Scheduler from opts.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		registry:       opts.Registry,
		processor:      opts.Processor,
		detectInterval: opts.DetectInterval,
		staleAfter:     opts.StaleAfter,
		pollBackoff:    opts.PollBackoff,
		log:            opts.Logger,
		loops:          make(map[string]*loop),
	}
	if s.detectInterval <= 0 {
		s.detectInterval = DefaultDetectInterval
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	if s.pollBackoff <= 0 {
		s.pollBackoff = DefaultPollBackoff
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.openSource = func(desc camera.SourceDescriptor) (camera.Source, error) {
		src := camera.NewPollSource(desc.URL)
		return src, src.Open()
	}
	return s
}

// EnsureLoop starts the processing loop for camID if it is not running.
func (s *Scheduler) EnsureLoop(ctx context.Context, camID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loops[camID]; ok {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	s.loops[camID] = l
	go s.run(loopCtx, camID, l)
}

// StopLoop stops the loop for camID and waits for it to exit.
func (s *Scheduler) StopLoop(camID string) {
	s.mu.Lock()
	l, ok := s.loops[camID]
	if ok {
		delete(s.loops, camID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

// Running reports whether a loop is active for camID.
func (s *Scheduler) Running(camID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[camID]
	return ok
}

// Latest returns the newest encoded frame for camID. A missing or stale frame
// yields the NO SIGNAL placeholder so viewers always receive valid JPEG.
func (s *Scheduler) Latest(camID string) []byte {
	s.mu.Lock()
	l, ok := s.loops[camID]
	s.mu.Unlock()
	if !ok {
		return placeholder()
	}
	v := l.cache.Load()
	if v == nil {
		return placeholder()
	}
	cf := v.(CachedFrame)
	if time.Since(cf.At) > s.staleAfter {
		return placeholder()
	}
	return cf.JPEG
}

// run is the per-camera loop. It survives panics in a single iteration by
// restarting; the loop only exits when its context is cancelled.
func (s *Scheduler) run(ctx context.Context, camID string, l *loop) {
	defer close(l.done)

	for {
		s.iterate(ctx, camID, l)
		select {
		case <-ctx.Done():
			return
		default:
			// iterate only returns early on panic; pause before
			// restarting so a crashing camera cannot spin.
			s.log.Warn("stream loop restarting", "camera", camID)
			time.Sleep(time.Second)
		}
	}
}

// iterate runs the paced frame loop until cancellation or panic.
func (s *Scheduler) iterate(ctx context.Context, camID string, l *loop) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("stream loop panic", "camera", camID, "panic", r)
		}
	}()

	sess := s.registry.GetOrCreate(camID)

	var src camera.Source
	if desc, ok := s.registry.Source(camID); ok {
		opened, err := s.openSource(desc)
		if err != nil {
			s.log.Warn("source open failed", "camera", camID, "error", err)
		} else {
			src = opened
		}
	}
	if src != nil {
		defer src.Close()
	}

	var lastDetect time.Time
	var annotated gocv.Mat
	var hasAnnotated bool
	defer func() {
		if hasAnnotated {
			annotated.Close()
		}
	}()

	for {
		cfg := sess.Config()
		interval := time.Second / time.Duration(cfg.FPS)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		frame, ok := s.nextFrame(ctx, sess, src)
		if !ok {
			continue
		}

		now := time.Now()
		monitoring := sess.Monitoring()
		if !monitoring && hasAnnotated {
			// Annotated reuse is only valid between detection ticks;
			// once monitoring stops, viewers go back to raw frames.
			annotated.Close()
			hasAnnotated = false
		}
		if monitoring && now.Sub(lastDetect) >= s.detectInterval {
			lastDetect = now
			out, _, err := s.processor.ProcessDetection(ctx, sess, frame)
			if err == nil || !out.Empty() {
				if hasAnnotated {
					annotated.Close()
				}
				annotated = out
				hasAnnotated = true
			} else {
				out.Close()
			}
		}

		publish := frame
		if hasAnnotated {
			publish = annotated
		}
		if jpeg, err := encodeFrame(publish, cfg); err == nil {
			l.cache.Store(CachedFrame{JPEG: jpeg, At: now})
		} else {
			s.log.Warn("frame encode failed", "camera", camID, "error", err)
		}
		frame.Close()
	}
}

// nextFrame obtains the next raw frame: polled cameras read their source and
// stamp ingestion liveness themselves, push cameras reuse the last uploaded
// frame while it is fresh.
func (s *Scheduler) nextFrame(ctx context.Context, sess *camera.Session, src camera.Source) (gocv.Mat, bool) {
	if src != nil {
		m, err := src.Read()
		if err != nil {
			select {
			case <-ctx.Done():
			case <-time.After(s.pollBackoff):
			}
			return gocv.Mat{}, false
		}
		sess.Touch(time.Now())
		sess.StoreFrame(m.Clone())
		return m, true
	}

	m, at, ok := sess.CloneFrame()
	if !ok || time.Since(at) > s.staleAfter {
		if ok {
			m.Close()
		}
		return gocv.Mat{}, false
	}
	return m, true
}

// encodeFrame resizes to the configured geometry and encodes JPEG at the
// configured quality.
func encodeFrame(m gocv.Mat, cfg camera.StreamConfig) ([]byte, error) {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(m, &resized, image.Pt(cfg.Width, cfg.Height), 0, 0, gocv.InterpolationLinear)

	buf, err := gocv.IMEncodeWithParams(".jpg", resized, []int{gocv.IMWriteJpegQuality, cfg.Quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
