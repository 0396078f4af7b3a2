package pluginhost

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaban/pluginhost/engine/setup"
)

// FileConfig is the on-disk host configuration.
type FileConfig struct {
	Name          string  `yaml:"name"`
	ProcessMode   string  `yaml:"process_mode"`
	TransportMode string  `yaml:"transport_mode"`
	ForceStereo   bool    `yaml:"force_stereo"`
	SampleRate    float64 `yaml:"sample_rate"`
	BufferSize    int     `yaml:"buffer_size"`
	Latency       string  `yaml:"latency"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	IdleInterval   time.Duration `yaml:"idle_interval"`

	// Driver is "ticker", "oto" or "none".
	Driver  string   `yaml:"driver"`
	Journal string   `yaml:"journal"`
	Plugins []string `yaml:"plugins"`
	Script  string   `yaml:"script"`

	// MIDI enables the MIDI input; MIDIDevice < 0 picks the default device.
	MIDI       bool `yaml:"midi"`
	MIDIDevice int  `yaml:"midi_device"`
}

// DefaultFileConfig returns the configuration used when no file is given.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Name:           "pluginhost",
		ProcessMode:    setup.ProcessModeContinuousRack.String(),
		TransportMode:  setup.TransportInternal.String(),
		SampleRate:     48000,
		Latency:        string(setup.LatencyMedium),
		RequestTimeout: DefaultRequestTimeout,
		IdleInterval:   DefaultIdleInterval,
		Driver:         "ticker",
		MIDIDevice:     -1,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return FileConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML over the defaults. Unknown keys are rejected.
func ParseConfig(data []byte) (FileConfig, error) {
	cfg := DefaultFileConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

// Validate checks the enumerated fields.
func (c FileConfig) Validate() error {
	if _, err := setup.ParseProcessMode(c.ProcessMode); err != nil {
		return err
	}
	if _, err := setup.ParseTransportMode(c.TransportMode); err != nil {
		return err
	}
	switch setup.LatencyClass(c.Latency) {
	case "", setup.LatencyLow, setup.LatencyMedium, setup.LatencyHigh:
	default:
		return fmt.Errorf("unknown latency class %q", c.Latency)
	}
	switch c.Driver {
	case "", "none", "ticker", "oto":
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	return nil
}

// EngineConfig converts the file config into an EngineConfig. Logger,
// driver and journal are left for the caller to attach.
func (c FileConfig) EngineConfig() (EngineConfig, error) {
	pm, err := setup.ParseProcessMode(c.ProcessMode)
	if err != nil {
		return EngineConfig{}, err
	}
	tm, err := setup.ParseTransportMode(c.TransportMode)
	if err != nil {
		return EngineConfig{}, err
	}
	return EngineConfig{
		Options: setup.Options{
			ProcessMode:   pm,
			TransportMode: tm,
			ForceStereo:   c.ForceStereo,
			SampleRate:    c.SampleRate,
			LatencyHint:   setup.LatencyClass(c.Latency),
			BufferSize:    c.BufferSize,
		},
		RequestTimeout: c.RequestTimeout,
		IdleInterval:   c.IdleInterval,
	}, nil
}
