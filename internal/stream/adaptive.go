package stream

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ayusman/guardian/internal/camera"
)

// Adaptive control defaults.
const (
	// DefaultAdaptiveInterval is the load sampling cadence.
	DefaultAdaptiveInterval = 5 * time.Second
	// highLoadTicks is how many consecutive high-load samples trigger a
	// step down.
	highLoadTicks = 3
	// lowLoadTicks is how many consecutive low-load samples trigger a
	// step up. Recovery is deliberately slower than degradation.
	lowLoadTicks = 6
)

// High-load thresholds: any one of these sustained trips a step down.
const (
	highCPU  = 85.0
	highMem  = 85.0
	highGPU  = 90.0
	highTemp = 83.0
)

// Low-load thresholds: all of these must hold to count toward a step up.
const (
	lowCPU  = 55.0
	lowMem  = 65.0
	lowGPU  = 60.0
	lowTemp = 75.0
)

// LoadSample is one host load observation. GPU and Temp are zero on hosts
// without an NVIDIA GPU.
type LoadSample struct {
	CPU  float64
	Mem  float64
	GPU  float64
	Temp float64
}

func (s LoadSample) high() bool {
	return s.CPU >= highCPU || s.Mem >= highMem || s.GPU >= highGPU || s.Temp >= highTemp
}

func (s LoadSample) low() bool {
	return s.CPU <= lowCPU && s.Mem <= lowMem && s.GPU <= lowGPU && s.Temp <= lowTemp
}

// LoadSampler produces load observations.
type LoadSampler interface {
	Sample(ctx context.Context) (LoadSample, error)
}

// HostSampler reads CPU and memory from the OS and GPU utilization and
// temperature from nvidia-smi when present.
type HostSampler struct {
	nvidiaSMI string
}

// NewHostSampler probes for nvidia-smi once; GPU fields stay zero if the
// binary is absent.
func NewHostSampler() *HostSampler {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		path = ""
	}
	return &HostSampler{nvidiaSMI: path}
}

// Sample reads one host load observation.
func (h *HostSampler) Sample(ctx context.Context) (LoadSample, error) {
	var sample LoadSample

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return sample, err
	}
	if len(percents) > 0 {
		sample.CPU = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, err
	}
	sample.Mem = vm.UsedPercent

	if h.nvidiaSMI != "" {
		gpu, temp, err := h.queryGPU(ctx)
		if err == nil {
			sample.GPU = gpu
			sample.Temp = temp
		}
	}
	return sample, nil
}

// queryGPU shells out to nvidia-smi for utilization and temperature.
func (h *HostSampler) queryGPU(ctx context.Context) (util, temp float64, err error) {
	cmd := exec.CommandContext(ctx, h.nvidiaSMI,
		"--query-gpu=utilization.gpu,temperature.gpu",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Split(strings.TrimSpace(string(out)), ",")
	if len(fields) >= 1 {
		util, _ = strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	}
	if len(fields) >= 2 {
		temp, _ = strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	}
	return util, temp, nil
}

// QualityMetrics exposes the current ladder rung.
type QualityMetrics interface {
	SetQualityLadderIndex(idx int)
}

// AdaptiveController walks all auto-quality cameras up and down the preset
// ladder in response to sustained host load. Degradation needs three
// consecutive high samples, recovery six low ones; an ambiguous sample resets
// both streaks.
type AdaptiveController struct {
	sampler  LoadSampler
	registry *camera.Registry
	metrics  QualityMetrics
	log      *slog.Logger

	ladder []camera.StreamConfig
	idx    int
	high   int
	low    int
}

// NewAdaptiveController creates a controller starting on the default rung.
func NewAdaptiveController(sampler LoadSampler, reg *camera.Registry, met QualityMetrics, log *slog.Logger) *AdaptiveController {
	if log == nil {
		log = slog.Default()
	}
	return &AdaptiveController{
		sampler:  sampler,
		registry: reg,
		metrics:  met,
		log:      log,
		ladder:   camera.QualityLadder(),
		idx:      camera.DefaultLadderIndex,
	}
}

// Index returns the current ladder rung.
func (a *AdaptiveController) Index() int {
	return a.idx
}

// Run samples load on interval and applies ladder steps until ctx is done.
func (a *AdaptiveController) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAdaptiveInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			sample, err := a.sampler.Sample(ctx)
			if err != nil {
				a.log.Warn("load sample failed", "error", err)
				continue
			}
			a.Observe(sample)
		}
	}
}

// Observe feeds one load sample into the hysteresis counters and applies a
// ladder step when a streak completes.
func (a *AdaptiveController) Observe(sample LoadSample) {
	switch {
	case sample.high():
		a.high++
		a.low = 0
		if a.high >= highLoadTicks && a.idx > 0 {
			a.step(a.idx-1, sample)
			a.high = 0
		}
	case sample.low():
		a.low++
		a.high = 0
		if a.low >= lowLoadTicks && a.idx < len(a.ladder)-1 {
			a.step(a.idx+1, sample)
			a.low = 0
		}
	default:
		a.high = 0
		a.low = 0
	}
}

// step moves to ladder rung idx and applies it to every auto camera.
func (a *AdaptiveController) step(idx int, sample LoadSample) {
	a.idx = idx
	cfg := a.ladder[idx]
	applied := 0
	for _, sess := range a.registry.Sessions() {
		if sess.SetAutoConfig(cfg) {
			applied++
		}
	}
	if a.metrics != nil {
		a.metrics.SetQualityLadderIndex(idx)
	}
	a.log.Info("quality ladder step",
		"rung", cfg.Label, "cameras", applied,
		"cpu", sample.CPU, "mem", sample.Mem, "gpu", sample.GPU, "temp", sample.Temp)
}
