package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// AdaptiveConfig shapes an AdaptivePacer.
type AdaptiveConfig struct {
	// Initial is the starting gap and the floor it decays back to.
	Initial time.Duration
	Max     time.Duration
	// Threshold is the failure rate above which the gap grows. Below half of
	// it the gap shrinks.
	Threshold     float64
	Window        int
	Increment     time.Duration
	Decrement     time.Duration
	CheckInterval int
}

// DefaultAdaptiveConfig returns the stock tuning.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Max:           10 * time.Second,
		Threshold:     0.2,
		Window:        50,
		Increment:     time.Second,
		Decrement:     500 * time.Millisecond,
		CheckInterval: 10,
	}
}

// Validate rejects configurations that cannot adjust.
func (c AdaptiveConfig) Validate() error {
	switch {
	case c.Initial < 0:
		return errors.New("initial delay must be >= 0")
	case c.Max < c.Initial:
		return errors.New("max delay must be >= initial delay")
	case c.Threshold <= 0 || c.Threshold > 1:
		return errors.New("threshold must be in (0, 1]")
	case c.Window <= 0:
		return errors.New("window must be > 0")
	case c.CheckInterval <= 0:
		return errors.New("check interval must be > 0")
	case c.Increment < 0 || c.Decrement < 0:
		return errors.New("delay steps must be >= 0")
	}
	return nil
}

// minAdaptiveSamples is the least window fill before the gap moves.
const minAdaptiveSamples = 5

// AdaptiveStats is a point-in-time view of an AdaptivePacer.
type AdaptiveStats struct {
	Delay        time.Duration
	Total        int
	Failures     int
	RecentRate   float64
	WindowFilled int
}

// AdaptivePacer is a download gap shared by every worker. Outcomes fed
// through Record move the gap within [Initial, Max] depending on the
// failure rate over the last Window downloads, re-evaluated every
// CheckInterval outcomes.
type AdaptivePacer struct {
	cfg    AdaptiveConfig
	pauser Pauser

	mu         sync.Mutex
	delay      time.Duration
	window     []bool
	next       int
	filled     int
	sinceCheck int
	total      int
	failures   int
}

// NewAdaptivePacer validates cfg and returns a pacer starting at
// cfg.Initial. A nil pauser sleeps on a timer.
func NewAdaptivePacer(cfg AdaptiveConfig, pauser Pauser) (*AdaptivePacer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("adaptive delay: %w", err)
	}
	if pauser == nil {
		pauser = TimerPauser{}
	}
	return &AdaptivePacer{
		cfg:    cfg,
		pauser: pauser,
		delay:  cfg.Initial,
		window: make([]bool, cfg.Window),
	}, nil
}

// Wait pauses for the current gap.
func (p *AdaptivePacer) Wait(ctx context.Context) error {
	p.pauser.Pause(ctx, p.Delay())
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("adaptive wait: %w", err)
	}
	return nil
}

// Delay returns the current gap.
func (p *AdaptivePacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

// Record reports one download outcome and returns the gap in effect after
// it.
func (p *AdaptivePacer) Record(success bool) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	failed := !success
	p.window[p.next] = failed
	p.next = (p.next + 1) % len(p.window)
	if p.filled < len(p.window) {
		p.filled++
	}
	p.total++
	if failed {
		p.failures++
	}
	p.sinceCheck++
	if p.sinceCheck >= p.cfg.CheckInterval {
		p.sinceCheck = 0
		p.adjustLocked()
	}
	return p.delay
}

// Stats returns counters for logging and the run summary.
func (p *AdaptivePacer) Stats() AdaptiveStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return AdaptiveStats{
		Delay:        p.delay,
		Total:        p.total,
		Failures:     p.failures,
		RecentRate:   p.rateLocked(),
		WindowFilled: p.filled,
	}
}

func (p *AdaptivePacer) adjustLocked() {
	if p.filled < minAdaptiveSamples {
		return
	}
	rate := p.rateLocked()
	switch {
	case rate > p.cfg.Threshold:
		p.delay = min(p.delay+p.cfg.Increment, p.cfg.Max)
	case rate < p.cfg.Threshold/2:
		p.delay = max(p.delay-p.cfg.Decrement, p.cfg.Initial)
	}
}

func (p *AdaptivePacer) rateLocked() float64 {
	if p.filled == 0 {
		return 0
	}
	failed := 0
	for i := range p.filled {
		if p.window[i] {
			failed++
		}
	}
	return float64(failed) / float64(p.filled)
}
