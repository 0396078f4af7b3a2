//go:build !headless

package driver

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows one context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoRate int
	otoCh   int
)

func otoContext(sampleRate, channels int, buffer time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   buffer,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx, otoRate, otoCh = ctx, sampleRate, channels
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate || otoCh != channels {
		return nil, fmt.Errorf("audio output already opened at %d Hz/%d ch", otoRate, otoCh)
	}
	return otoCtx, nil
}

// Oto renders cycles into the system audio output. The output pulls audio
// through Read; each Read runs as many frames as the output asked for.
type Oto struct {
	cfg Config

	mu     sync.Mutex // setup and teardown
	player *oto.Player

	// cycleMu is held for the duration of a Read so Stop can wait for it.
	cycleMu sync.Mutex
	cycle   func(out [][]float32)
	buf     [][]float32
	views   [][]float32
}

// NewOto creates a stopped output driver.
func NewOto(cfg Config) *Oto {
	cfg = cfg.withDefaults()
	return &Oto{
		cfg:   cfg,
		buf:   newBuffers(cfg.Channels, cfg.BufferSize*4),
		views: make([][]float32, cfg.Channels),
	}
}

// Start opens the output and begins pulling cycles.
func (o *Oto) Start(cycle func(out [][]float32)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		return ErrRunning
	}
	ctx, err := otoContext(int(o.cfg.SampleRate), o.cfg.Channels, o.cfg.Period()*2)
	if err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}

	o.cycleMu.Lock()
	o.cycle = cycle
	o.cycleMu.Unlock()

	o.player = ctx.NewPlayer(o)
	o.player.Play()
	return nil
}

// Read implements io.Reader for the oto player: interleaved float32 LE.
func (o *Oto) Read(p []byte) (int, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	frameBytes := 4 * o.cfg.Channels
	frames := len(p) / frameBytes
	if frames > len(o.buf[0]) {
		frames = len(o.buf[0])
	}
	if frames == 0 || o.cycle == nil {
		clear(p)
		return len(p), nil
	}

	for ch := range o.buf {
		o.views[ch] = o.buf[ch][:frames]
	}
	o.cycle(o.views)

	off := 0
	for i := 0; i < frames; i++ {
		for ch := range o.views {
			binary.LittleEndian.PutUint32(p[off:], math.Float32bits(o.views[ch][i]))
			off += 4
		}
	}
	return off, nil
}

// Stop closes the player, waiting at most timeout for a Read in flight.
func (o *Oto) Stop(timeout time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		o.cycleMu.Lock()
		o.cycle = nil
		o.cycleMu.Unlock()
		close(stopped)
	}()

	var err error
	select {
	case <-stopped:
	case <-time.After(timeout):
		err = fmt.Errorf("%w after %v", ErrStopTimeout, timeout)
	}
	o.player.Pause()
	o.player.Close()
	o.player = nil
	return err
}
