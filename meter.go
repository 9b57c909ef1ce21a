package voicesession

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/voxbridge/voicesession/shared"
)

// LevelSample is one metering tick. Level is the normalized amplitude in
// [0,1]; Spectrum, when requested, holds per-bin magnitudes over the most
// recent window. Samples are ephemeral and recomputed every tick.
type LevelSample struct {
	Level    float64
	Spectrum []float64
}

type LevelFunc func(LevelSample)

// meterInterval approximates animation-frame cadence.
const meterInterval = time.Second / 60

// LevelTap holds the most recent window of mono samples normalized to
// [-1, 1]. Audio paths write into it; the meter loop reads from it.
type LevelTap struct {
	mu     sync.Mutex
	window []float64
	pos    int
	filled bool
}

func NewLevelTap(windowSize int) *LevelTap {
	if windowSize <= 0 {
		windowSize = 2048
	}
	return &LevelTap{window: make([]float64, windowSize)}
}

// WritePCM16 appends 16-bit samples, overwriting the oldest.
func (t *LevelTap) WritePCM16(samples []int16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range samples {
		t.window[t.pos] = float64(s) / 32768.0
		t.pos++
		if t.pos == len(t.window) {
			t.pos = 0
			t.filled = true
		}
	}
}

func (t *LevelTap) snapshot() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.filled {
		out := make([]float64, t.pos)
		copy(out, t.window[:t.pos])
		return out
	}
	out := make([]float64, len(t.window))
	n := copy(out, t.window[t.pos:])
	copy(out[n:], t.window[:t.pos])
	return out
}

// RMS returns the root-mean-square amplitude of the window, in [0, 1].
func (t *LevelTap) RMS() float64 {
	w := t.snapshot()
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, x := range w {
		sum += x * x
	}
	return math.Min(1, math.Sqrt(sum/float64(len(w))))
}

// Spectrum evaluates a Goertzel bank at bins evenly spaced normalized
// frequencies over the window. Magnitudes are scaled by window length.
func (t *LevelTap) Spectrum(bins int) []float64 {
	w := t.snapshot()
	out := make([]float64, bins)
	n := len(w)
	if n == 0 || bins <= 0 {
		return out
	}
	for k := range bins {
		// Bin k covers normalized frequency (k+1)/(2*bins), up to Nyquist.
		omega := math.Pi * float64(k+1) / float64(bins)
		coeff := 2 * math.Cos(omega)
		var s0, s1, s2 float64
		for _, x := range w {
			s0 = x + coeff*s1 - s2
			s2 = s1
			s1 = s0
		}
		power := s1*s1 + s2*s2 - coeff*s1*s2
		out[k] = math.Sqrt(math.Max(0, power)) / float64(n)
	}
	return out
}

type meterTarget struct {
	tap  *LevelTap
	bins int
	fn   LevelFunc
}

// Meter runs one cooperative sampling loop per Session, walking whichever
// taps are currently attached. It never busy-loops; each tick yields to the
// scheduler via the ticker. Stop cancels the loop and waits for it to exit.
type Meter struct {
	logger   shared.LoggerAdapter
	interval time.Duration

	mu      sync.Mutex
	targets map[string]meterTarget
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMeter(logger shared.LoggerAdapter, interval time.Duration) *Meter {
	if interval <= 0 {
		interval = meterInterval
	}
	return &Meter{
		logger:   logger,
		interval: interval,
		targets:  make(map[string]meterTarget),
	}
}

// Attach registers a tap under a name. bins > 0 additionally requests a
// spectrum snapshot per tick. Attaching while running takes effect on the
// next tick.
func (m *Meter) Attach(name string, tap *LevelTap, bins int, fn LevelFunc) {
	if tap == nil || fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[name] = meterTarget{tap: tap, bins: bins, fn: fn}
}

func (m *Meter) Detach(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, name)
}

// Start spawns the sampling loop. Calling Start on a running meter is a
// no-op.
func (m *Meter) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

func (m *Meter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Meter) tick() {
	m.mu.Lock()
	targets := make([]meterTarget, 0, len(m.targets))
	for _, t := range m.targets {
		targets = append(targets, t)
	}
	m.mu.Unlock()
	for _, t := range targets {
		sample := LevelSample{Level: t.tap.RMS()}
		if t.bins > 0 {
			sample.Spectrum = t.tap.Spectrum(t.bins)
		}
		t.fn(sample)
	}
}

// Stop cancels the sampling loop and joins it. Idempotent; safe to call on a
// meter that never started.
func (m *Meter) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
