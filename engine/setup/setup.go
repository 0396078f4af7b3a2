// Package setup resolves the engine's user-facing options into the concrete
// layout the lifecycle allocates: slot capacity, event buffer capacity and
// the audio cycle parameters.
package setup

import (
	"fmt"
	"strings"
)

// Slot capacities per processing mode.
const (
	MaxDefaultPlugins  = 99
	MaxRackPlugins     = 16
	MaxPatchbayPlugins = 255
	MaxBridgePlugins   = 1
)

// MaxEventCount is the fixed capacity of each internal event buffer.
const MaxEventCount = 512

// ProcessMode selects how plugins are wired inside the engine.
type ProcessMode int

const (
	// ProcessModeDefault gives every plugin its own client; no internal event routing.
	ProcessModeDefault ProcessMode = iota
	// ProcessModeContinuousRack chains plugins in series, stereo only.
	ProcessModeContinuousRack
	// ProcessModePatchbay routes plugins through an internal graph.
	ProcessModePatchbay
	// ProcessModeBridge hosts exactly one plugin.
	ProcessModeBridge
)

func (m ProcessMode) String() string {
	switch m {
	case ProcessModeDefault:
		return "default"
	case ProcessModeContinuousRack:
		return "continuous-rack"
	case ProcessModePatchbay:
		return "patchbay"
	case ProcessModeBridge:
		return "bridge"
	default:
		return "unknown"
	}
}

// HasEventRouting reports whether the mode carries internal event buffers.
func (m ProcessMode) HasEventRouting() bool {
	switch m {
	case ProcessModeContinuousRack, ProcessModePatchbay, ProcessModeBridge:
		return true
	default:
		return false
	}
}

// ParseProcessMode accepts the String() form, case-insensitive. "rack" is
// accepted as shorthand for continuous-rack.
func ParseProcessMode(s string) (ProcessMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ProcessModeDefault, nil
	case "continuous-rack", "rack":
		return ProcessModeContinuousRack, nil
	case "patchbay":
		return ProcessModePatchbay, nil
	case "bridge":
		return ProcessModeBridge, nil
	}
	return ProcessModeDefault, fmt.Errorf("unknown process mode %q", s)
}

// TransportMode selects who owns the transport clock.
type TransportMode int

const (
	// TransportInternal: the engine advances and publishes its own transport.
	TransportInternal TransportMode = iota
	// TransportExternal: an external clock is authoritative.
	TransportExternal
)

func (m TransportMode) String() string {
	switch m {
	case TransportInternal:
		return "internal"
	case TransportExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ParseTransportMode accepts "internal" or "external", case-insensitive.
func ParseTransportMode(s string) (TransportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "internal":
		return TransportInternal, nil
	case "external":
		return TransportExternal, nil
	}
	return TransportInternal, fmt.Errorf("unknown transport mode %q", s)
}

// LatencyClass is a coarse latency preference that maps to buffer sizes.
type LatencyClass string

const (
	LatencyLow    LatencyClass = "low"    // prioritize minimal latency (smaller buffers)
	LatencyMedium LatencyClass = "medium" // balanced default
	LatencyHigh   LatencyClass = "high"   // prioritize stability (larger buffers)
)

// Options are the engine preferences consumed at init.
type Options struct {
	ProcessMode   ProcessMode
	TransportMode TransportMode
	ForceStereo   bool

	SampleRate  float64
	LatencyHint LatencyClass
	// Explicit buffer size in frames. Overrides LatencyHint if set > 0.
	BufferSize int
}

// Layout is what the lifecycle allocates for a given set of Options.
type Layout struct {
	MaxPlugins    uint
	EventCapacity int // 0 when the mode has no internal event routing
	ForceStereo   bool
	SampleRate    float64
	BufferSize    int
}

// Resolve converts Options into a concrete Layout. It applies sensible
// defaults when fields are unset and honors explicit BufferSize over
// LatencyHint.
func Resolve(o Options) Layout {
	l := Layout{
		ForceStereo: o.ForceStereo,
		SampleRate:  o.SampleRate,
		BufferSize:  o.BufferSize,
	}

	switch o.ProcessMode {
	case ProcessModeContinuousRack:
		l.MaxPlugins = MaxRackPlugins
		l.ForceStereo = true
	case ProcessModePatchbay:
		l.MaxPlugins = MaxPatchbayPlugins
	case ProcessModeBridge:
		l.MaxPlugins = MaxBridgePlugins
	default:
		l.MaxPlugins = MaxDefaultPlugins
	}

	if o.ProcessMode.HasEventRouting() {
		l.EventCapacity = MaxEventCount
	}

	if l.SampleRate <= 0 {
		l.SampleRate = 48000
	}
	if l.BufferSize <= 0 {
		l.BufferSize = MapLatencyToBuffer(o.LatencyHint)
	}
	return l
}

// MapLatencyToBuffer maps a LatencyClass to a suggested buffer size in frames.
func MapLatencyToBuffer(c LatencyClass) int {
	switch c {
	case LatencyLow:
		return 256
	case LatencyHigh:
		return 1024
	default:
		return 512
	}
}
