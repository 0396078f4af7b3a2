// Package midiin feeds a hardware MIDI input into the engine's inbound
// event inbox.
package midiin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/shaban/pluginhost/engine/events"
)

// ErrUnavailable is returned when the build has no MIDI backend.
var ErrUnavailable = errors.New("midi input not available in this build")

// Sink receives decoded events. Engine.QueueEvent satisfies it.
type Sink interface {
	QueueEvent(ev events.Event) bool
}

// Config selects the input device and the polling cadence.
type Config struct {
	// DeviceID is the backend device id; negative selects the default input.
	DeviceID     int
	PollInterval time.Duration
	BufferSize   int
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Millisecond
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("component", "midiin")
	return c
}

// Decode turns a raw status/data triple into an event. Only channel voice
// messages are accepted; everything else returns false.
func Decode(status, data1, data2 byte) (events.Event, bool) {
	if status < 0x80 || status >= 0xF0 {
		return events.Event{}, false
	}
	var msg midi.Message
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		msg = midi.Message{status, data1}
	default:
		msg = midi.Message{status, data1, data2}
	}
	ev, err := events.MIDI(0, msg)
	if err != nil {
		return events.Event{}, false
	}
	return ev, true
}

// pump delivers decoded events to sink, counting drops.
type pump struct {
	sink    Sink
	logger  *slog.Logger
	dropped uint64
}

func (p *pump) deliver(status, data1, data2 byte) {
	ev, ok := Decode(status, data1, data2)
	if !ok {
		return
	}
	if !p.sink.QueueEvent(ev) {
		p.dropped++
		if p.dropped == 1 || p.dropped%1000 == 0 {
			p.logger.Warn("midi events dropped", "dropped", p.dropped)
		}
	}
}

// Runner is implemented by both the portmidi input and the stub.
type Runner interface {
	Run(ctx context.Context) error
	Close() error
}
