//go:build portmidi

package midiin

import (
	"context"
	"fmt"
	"time"

	"github.com/rakyll/portmidi"
)

// Input reads one portmidi input device.
type Input struct {
	cfg    Config
	stream *portmidi.Stream
	pump   pump
}

// Open initializes portmidi and opens the configured input.
func Open(cfg Config, sink Sink) (*Input, error) {
	cfg = cfg.withDefaults()
	if err := portmidi.Initialize(); err != nil {
		return nil, fmt.Errorf("portmidi init: %w", err)
	}

	id := portmidi.DeviceID(cfg.DeviceID)
	if cfg.DeviceID < 0 {
		id = portmidi.DefaultInputDeviceID()
	}
	if info := portmidi.Info(id); info != nil {
		cfg.Logger.Info("opening midi input", "device", info.Name, "interface", info.Interface)
	}
	stream, err := portmidi.NewInputStream(id, int64(cfg.BufferSize))
	if err != nil {
		portmidi.Terminate()
		return nil, fmt.Errorf("open midi input %d: %w", id, err)
	}
	return &Input{cfg: cfg, stream: stream, pump: pump{sink: sink, logger: cfg.Logger}}, nil
}

// Run polls the device until ctx ends.
func (in *Input) Run(ctx context.Context) error {
	tick := time.NewTicker(in.cfg.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		ready, err := in.stream.Poll()
		if err != nil {
			return fmt.Errorf("midi poll: %w", err)
		}
		if !ready {
			continue
		}
		evs, err := in.stream.Read(in.cfg.BufferSize)
		if err != nil {
			return fmt.Errorf("midi read: %w", err)
		}
		for _, ev := range evs {
			in.pump.deliver(byte(ev.Status), byte(ev.Data1), byte(ev.Data2))
		}
	}
}

// Close releases the stream and portmidi.
func (in *Input) Close() error {
	err := in.stream.Close()
	portmidi.Terminate()
	return err
}
