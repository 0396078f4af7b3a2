package pluginhost

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/shaban/pluginhost/engine/transport"
)

// StateVersion is the snapshot format version.
const StateVersion = "1.0.0"

// State is the serializable view of an engine.
type State struct {
	Version       string             `json:"version" yaml:"version"`
	ID            string             `json:"id" yaml:"id"`
	Name          string             `json:"name" yaml:"name"`
	Initialized   bool               `json:"initialized" yaml:"initialized"`
	Running       bool               `json:"running" yaml:"running"`
	ProcessMode   string             `json:"process_mode" yaml:"process_mode"`
	TransportMode string             `json:"transport_mode" yaml:"transport_mode"`
	SampleRate    float64            `json:"sample_rate" yaml:"sample_rate"`
	BufferSize    int                `json:"buffer_size" yaml:"buffer_size"`
	MaxPlugins    uint               `json:"max_plugins" yaml:"max_plugins"`
	Plugins       []PluginState      `json:"plugins" yaml:"plugins"`
	Time          transport.TimeInfo `json:"time" yaml:"time"`
	Cycles        uint64             `json:"cycles" yaml:"cycles"`
}

// PluginState is one occupied slot.
type PluginState struct {
	Slot     uint       `json:"slot" yaml:"slot"`
	UUID     string     `json:"uuid" yaml:"uuid"`
	Name     string     `json:"name" yaml:"name"`
	InPeaks  [2]float32 `json:"in_peaks" yaml:"in_peaks,flow"`
	OutPeaks [2]float32 `json:"out_peaks" yaml:"out_peaks,flow"`
}

// Snapshot captures the engine state. Plugins are listed in slot order.
func (e *Engine) Snapshot() State {
	opts := e.Options()

	e.mu.RLock()
	defer e.mu.RUnlock()

	s := State{
		Version:       StateVersion,
		ID:            e.id.String(),
		Name:          e.Name(),
		Initialized:   e.initialized,
		Running:       e.running,
		ProcessMode:   opts.ProcessMode.String(),
		TransportMode: opts.TransportMode.String(),
		SampleRate:    e.layout.SampleRate,
		BufferSize:    e.layout.BufferSize,
		Plugins:       []PluginState{},
		Time:          e.clock.Snapshot(),
		Cycles:        e.cycles.Load(),
	}
	if e.table == nil {
		return s
	}
	s.MaxPlugins = e.table.Capacity()
	n := e.table.Count()
	for id := uint(0); id < n; id++ {
		inst, ok := e.table.Plugin(id).(*Instance)
		if !ok {
			continue
		}
		in, out := e.table.Peaks(id)
		s.Plugins = append(s.Plugins, PluginState{
			Slot:     id,
			UUID:     inst.UUID.String(),
			Name:     inst.Name(),
			InPeaks:  in,
			OutPeaks: out,
		})
	}
	return s
}

// WriteJSON writes s as indented JSON.
func (s State) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode engine state: %w", err)
	}
	return nil
}

// WriteYAML writes s as YAML.
func (s State) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode engine state: %w", err)
	}
	return enc.Close()
}

// ReadState decodes a State written by WriteJSON or WriteYAML. YAML is a
// superset of JSON, so one decoder serves both.
func ReadState(r io.Reader) (State, error) {
	var s State
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return State{}, fmt.Errorf("failed to decode engine state: %w", err)
	}
	if s.Version != StateVersion {
		return State{}, fmt.Errorf("incompatible state version: got %s, expected %s", s.Version, StateVersion)
	}
	return s, nil
}

// PluginFactory creates a plugin by name.
type PluginFactory func(name string) (Plugin, error)

// Restore replaces the hosted plugins with new instances of the ones in s,
// in slot order, and moves the transport to the saved position. Meters and
// uuids are not restored.
func (e *Engine) Restore(s State, factory PluginFactory) error {
	if err := e.RemoveAllPlugins(); err != nil {
		return fmt.Errorf("clear plugins: %w", err)
	}
	for _, ps := range s.Plugins {
		p, err := factory(ps.Name)
		if err != nil {
			return fmt.Errorf("create plugin %q for slot %d: %w", ps.Name, ps.Slot, err)
		}
		if _, err := e.AddPlugin(p); err != nil {
			_ = p.Close()
			return fmt.Errorf("add plugin %q: %w", ps.Name, err)
		}
	}
	e.Locate(s.Time.Frame)
	e.SetPlaying(s.Time.Playing)
	return nil
}
