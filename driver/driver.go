// Package driver runs the engine's audio cycles.
//
// A driver calls the cycle callback from one goroutine with one slice per
// channel, all the same length. Ticker paces cycles with a timer for
// headless hosts, Callback leaves pacing to the caller, and Oto pulls cycles
// from the system audio output.
package driver

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrRunning     = errors.New("driver already running")
	ErrNotRunning  = errors.New("driver not running")
	ErrStopTimeout = errors.New("driver did not stop in time")
	ErrUnavailable = errors.New("driver not available in this build")
)

// Config describes the cycles a driver produces.
type Config struct {
	SampleRate float64
	BufferSize int // frames per cycle
	Channels   int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 512
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	return c
}

// Period is the wall-clock length of one cycle.
func (c Config) Period() time.Duration {
	c = c.withDefaults()
	return time.Duration(float64(c.BufferSize) / c.SampleRate * float64(time.Second))
}

func newBuffers(channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	return out
}

// Ticker runs one cycle of BufferSize frames every period on its own
// goroutine. Output is discarded.
type Ticker struct {
	cfg Config

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	cycles   atomic.Uint64
	overruns atomic.Uint64
}

// NewTicker creates a stopped ticker driver.
func NewTicker(cfg Config) *Ticker {
	return &Ticker{cfg: cfg.withDefaults()}
}

// Start launches the cycle goroutine.
func (t *Ticker) Start(cycle func(out [][]float32)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrRunning
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.running = true
	go t.loop(cycle, t.stop, t.done)
	return nil
}

func (t *Ticker) loop(cycle func(out [][]float32), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := newBuffers(t.cfg.Channels, t.cfg.BufferSize)
	period := t.cfg.Period()
	tick := time.NewTicker(period)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			start := time.Now()
			cycle(buf)
			t.cycles.Add(1)
			if time.Since(start) > period {
				t.overruns.Add(1)
			}
		}
	}
}

// Stop halts the goroutine, waiting at most timeout for the cycle in flight.
func (t *Ticker) Stop(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false
	close(t.stop)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrStopTimeout, timeout)
	}
}

// Cycles returns the number of cycles run.
func (t *Ticker) Cycles() uint64 { return t.cycles.Load() }

// Overruns returns how many cycles took longer than one period.
func (t *Ticker) Overruns() uint64 { return t.overruns.Load() }

// Callback runs a cycle whenever the caller asks for one. It is the driver
// to use when something else owns the audio clock, and in tests.
type Callback struct {
	cfg Config

	// sem is a one-slot lock that Stop can wait on with a timeout.
	sem   chan struct{}
	cycle func(out [][]float32)
	buf   [][]float32
	views [][]float32
}

// NewCallback creates a stopped callback driver.
func NewCallback(cfg Config) *Callback {
	cfg = cfg.withDefaults()
	return &Callback{
		cfg:   cfg,
		sem:   make(chan struct{}, 1),
		buf:   newBuffers(cfg.Channels, cfg.BufferSize),
		views: make([][]float32, cfg.Channels),
	}
}

// Start arms the driver.
func (c *Callback) Start(cycle func(out [][]float32)) error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()
	if c.cycle != nil {
		return ErrRunning
	}
	c.cycle = cycle
	return nil
}

// Stop disarms the driver, waiting at most timeout for a Run in flight.
func (c *Callback) Stop(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.sem <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrStopTimeout, timeout)
	}
	c.cycle = nil
	<-c.sem
	return nil
}

// Run executes one cycle of frames on the calling goroutine and returns the
// rendered audio. The slices are reused by the next Run.
func (c *Callback) Run(frames int) ([][]float32, error) {
	if frames <= 0 || frames > c.cfg.BufferSize {
		return nil, fmt.Errorf("frames %d outside 1..%d", frames, c.cfg.BufferSize)
	}
	c.sem <- struct{}{}
	defer func() { <-c.sem }()
	if c.cycle == nil {
		return nil, ErrNotRunning
	}
	for ch := range c.buf {
		c.views[ch] = c.buf[ch][:frames]
	}
	c.cycle(c.views)
	return c.views, nil
}

// Running reports whether Start was called without a matching Stop.
func (c *Callback) Running() bool {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()
	return c.cycle != nil
}
