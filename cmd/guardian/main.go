// Command guardian runs the surveillance hub: it ingests camera frames,
// tracks subjects, raises intrusion alerts, and serves live MJPEG feeds and
// the control API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayusman/guardian/internal/alert"
	"github.com/ayusman/guardian/internal/camera"
	"github.com/ayusman/guardian/internal/detect"
	"github.com/ayusman/guardian/internal/gateway"
	"github.com/ayusman/guardian/internal/notify"
	"github.com/ayusman/guardian/internal/platform/config"
	"github.com/ayusman/guardian/internal/platform/logger"
	"github.com/ayusman/guardian/internal/platform/metrics"
	"github.com/ayusman/guardian/internal/record"
	"github.com/ayusman/guardian/internal/server"
	"github.com/ayusman/guardian/internal/store"
	"github.com/ayusman/guardian/internal/stream"
)

func main() {
	config.Load()

	log := logger.New(
		config.GetEnv("GUARDIAN_LOG_LEVEL", "info"),
		config.GetEnv("GUARDIAN_LOG_FORMAT", "text"),
	)

	addr := config.GetEnv("GUARDIAN_ADDR", ":8000")
	dbPath := config.GetEnv("GUARDIAN_DB_PATH", "guardian.db")
	recordingsDir := config.GetEnv("GUARDIAN_RECORDINGS_DIR", "recordings")
	staticDir := config.GetEnv("GUARDIAN_STATIC_DIR", "")
	gatewayAddr := config.GetEnv("GUARDIAN_GATEWAY_ADDR", "127.0.0.1:8888")
	detectorURL := config.GetEnv("GUARDIAN_DETECTOR_URL", "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(dbPath)
	if err != nil {
		log.Error("store init failed", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	met := metrics.New()

	registry := camera.NewRegistry(camera.Options{
		LivenessTimeout: config.GetEnvDuration("GUARDIAN_LIVENESS_TIMEOUT", camera.DefaultLivenessTimeout),
		VerifyAfter:     config.GetEnvDuration("GUARDIAN_VERIFY_AFTER", camera.DefaultVerifyAfter),
		Logger:          log,
	})

	// Polled cameras registered in earlier runs come back on startup.
	saved, err := st.Cameras().List()
	if err != nil {
		log.Error("camera list failed", "error", err)
		os.Exit(1)
	}
	for _, c := range saved {
		desc := camera.SourceDescriptor{ID: c.ID, URL: c.URL, Label: c.Label}
		if err := registry.RegisterSource(desc); err != nil {
			log.Warn("saved camera skipped", "camera", c.ID, "error", err)
		}
	}

	gw := gateway.New(gatewayAddr, log, met)

	var detector detect.Detector
	if detectorURL != "" {
		dcfg := detect.DefaultConfig()
		dcfg.Endpoint = detectorURL
		dcfg.MinConfidence = float32(config.GetEnvFloat("GUARDIAN_MIN_CONFIDENCE", float64(dcfg.MinConfidence)))
		detector = detect.NewRemoteDetector(dcfg)
	} else {
		// Without a detector endpoint the pipeline still streams, it
		// just never raises alerts.
		log.Warn("no detector endpoint configured, monitoring is inert")
		detector = detect.NewMockDetector()
	}
	defer detector.Close()

	var notifier notify.Notifier = notify.Nop{}
	token := config.GetEnv("GUARDIAN_TELEGRAM_TOKEN", "")
	chatID := config.GetEnv("GUARDIAN_TELEGRAM_CHAT_ID", "")
	if token != "" && chatID != "" {
		notifier = notify.NewTelegram(token, chatID, log)
	} else {
		log.Warn("telegram not configured, alert photos disabled")
	}

	recorder, err := record.New(recordingsDir, config.GetEnvDuration("GUARDIAN_RECORD_WINDOW", record.DefaultWindow), log)
	if err != nil {
		log.Error("recorder init failed", "dir", recordingsDir, "error", err)
		os.Exit(1)
	}

	coordinator := alert.New(alert.Options{
		Detector:        detector,
		Recorder:        recorder,
		Notifier:        notifier,
		Gateway:         gw,
		Events:          st.Events(),
		Metrics:         met,
		Cooldown:        config.GetEnvDuration("GUARDIAN_ALERT_COOLDOWN", alert.DefaultCooldown),
		RequireVerified: config.GetEnvBool("GUARDIAN_REQUIRE_VERIFIED", true),
		Logger:          log,
	})

	scheduler := stream.New(stream.Options{
		Registry:  registry,
		Processor: coordinator,
		Logger:    log,
	})

	adaptive := stream.NewAdaptiveController(stream.NewHostSampler(), registry, met, log)

	go registry.RunSweeper(ctx, config.GetEnvDuration("GUARDIAN_SWEEP_INTERVAL", camera.DefaultSweepInterval), func(camID string) {
		gw.Send(camID, gateway.StatusDisconnected)
		if err := st.Events().Append(&store.Event{CamID: camID, Status: gateway.StatusDisconnected, Message: "camera went silent"}); err != nil {
			log.Error("event append failed", "camera", camID, "error", err)
		}
	})
	go coordinator.RunHeartbeat(ctx, registry, config.GetEnvDuration("GUARDIAN_HEARTBEAT", alert.DefaultHeartbeat))
	go adaptive.Run(ctx, config.GetEnvDuration("GUARDIAN_ADAPTIVE_INTERVAL", stream.DefaultAdaptiveInterval))

	srv := server.New(server.Config{
		BaseContext:   ctx,
		Registry:      registry,
		Scheduler:     scheduler,
		Gateway:       gw,
		Store:         st,
		Metrics:       met,
		Logger:        log,
		StaticDir:     staticDir,
		RecordingsDir: recorder.Dir(),
	})

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	go func() {
		log.Info("server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}
