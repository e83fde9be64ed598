package gpu

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/surajit20072003/heygemd/internal/util"
)

const samplerQueryTimeout = 5 * time.Second

// Sampler periodically reads per-GPU memory and utilization via nvidia-smi
// and feeds the registry's snapshot. When the binary is absent the sampler
// degrades to a no-op so the scheduler keeps working on machines without
// the NVIDIA userland (CI, tests, development laptops).
type Sampler struct {
	registry *Registry
	interval time.Duration
	binary   string
	logger   *slog.Logger

	// runSample is swapped in tests to avoid executing nvidia-smi.
	runSample func(ctx context.Context) (string, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSampler creates a sampler polling at the given interval. An interval
// of zero disables sampling.
func NewSampler(registry *Registry, interval time.Duration, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sampler{
		registry: registry,
		interval: interval,
		logger:   logger.With(slog.String("component", "gpu-sampler")),
	}
	s.runSample = s.execNvidiaSmi
	return s
}

// Start begins the sampling loop. It returns immediately; a missing
// nvidia-smi binary or a zero interval leaves the loop unstarted.
func (s *Sampler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Debug("gpu sampling disabled")
		return
	}

	binary, err := util.FindBinary("nvidia-smi", "NVIDIA_SMI_PATH")
	if err != nil {
		s.logger.Info("nvidia-smi not found, gpu sampling disabled")
		return
	}
	s.binary = binary

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop()

	s.logger.Info("gpu sampler started",
		slog.Duration("interval", s.interval),
		slog.String("binary", binary),
	)
}

// Stop halts the sampling loop and waits for it to exit.
func (s *Sampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Sampler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	ctx, cancel := context.WithTimeout(s.ctx, samplerQueryTimeout)
	defer cancel()

	output, err := s.runSample(ctx)
	if err != nil {
		s.logger.Debug("gpu sample failed", slog.Any("error", err))
		return
	}
	s.apply(output)
}

func (s *Sampler) execNvidiaSmi(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, s.binary,
		"--query-gpu=index,memory.used,utilization.gpu",
		"--format=csv,noheader,nounits",
	)
	out, err := cmd.Output()
	return string(out), err
}

// apply parses nvidia-smi csv output, one "index, memory, utilization"
// line per GPU, and pushes the readings into the registry.
func (s *Sampler) apply(output string) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		memory, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}
		utilization, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			continue
		}
		s.registry.setSample(index, memory, utilization)
	}
}
