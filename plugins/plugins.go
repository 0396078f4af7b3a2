// Package plugins is the host's built-in plugin catalog.
//
// Model:
//   - List() returns PluginInfo entries that can be filtered (ByCategory/ByName).
//   - New(name, sampleRate) instantiates one plugin by catalog name.
//   - Every plugin reacts to control events on its channel: a control event
//     with Param n sets parameter n.
package plugins

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/shaban/pluginhost/engine/events"
)

// Categories used by the catalog.
const (
	CategoryEffect     = "Effect"
	CategoryInstrument = "Instrument"
	CategoryUtility    = "Utility"
)

// PluginInfo describes one catalog entry.
type PluginInfo struct {
	Name        string      `json:"name" yaml:"name"`
	Category    string      `json:"category" yaml:"category"`
	Description string      `json:"description" yaml:"description"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Parameter describes one automatable value. Address is the control event
// Param that sets it.
type Parameter struct {
	Identifier   string  `json:"identifier" yaml:"identifier"`
	DisplayName  string  `json:"displayName" yaml:"display_name"`
	Address      uint16  `json:"address" yaml:"address"`
	MinValue     float32 `json:"minValue" yaml:"min_value"`
	MaxValue     float32 `json:"maxValue" yaml:"max_value"`
	DefaultValue float32 `json:"defaultValue" yaml:"default_value"`
}

// PluginInfos represents a collection of PluginInfo objects with filtering methods
type PluginInfos []PluginInfo

// ByCategory returns plugin infos of a specific category
func (infos PluginInfos) ByCategory(category string) PluginInfos {
	var filtered PluginInfos
	for _, info := range infos {
		if info.Category == category {
			filtered = append(filtered, info)
		}
	}
	return filtered
}

// ByName returns plugin infos whose name contains pattern (case-insensitive)
func (infos PluginInfos) ByName(pattern string) PluginInfos {
	var filtered PluginInfos
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name), strings.ToLower(pattern)) {
			filtered = append(filtered, info)
		}
	}
	return filtered
}

// Names returns the names in order.
func (infos PluginInfos) Names() []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

// Hosted is what New returns: everything the engine needs from a plugin.
type Hosted interface {
	ID() uint
	SetID(id uint)
	Name() string
	Close() error
	Info() PluginInfo
	Parameter(address uint16) (float32, bool)
	SetParameter(address uint16, value float32) error
	Process(frames uint32, audio [][]float32, in, out *events.Buffer)
}

type entry struct {
	info PluginInfo
	make func(b base, sampleRate float64) Hosted
}

var catalog = map[string]entry{
	"passthrough": {
		info: PluginInfo{Name: "passthrough", Category: CategoryUtility, Description: "leaves audio and events untouched"},
		make: func(b base, _ float64) Hosted { return &passthrough{base: b} },
	},
	"gain": {
		info: PluginInfo{Name: "gain", Category: CategoryEffect, Description: "scales audio by a linear gain",
			Parameters: []Parameter{{Identifier: "gain", DisplayName: "Gain", Address: 0, MinValue: 0, MaxValue: 2, DefaultValue: 1}}},
		make: func(b base, _ float64) Hosted { return &gain{base: b} },
	},
	"tone": {
		info: PluginInfo{Name: "tone", Category: CategoryInstrument, Description: "sine voice driven by MIDI notes",
			Parameters: []Parameter{{Identifier: "level", DisplayName: "Level", Address: 0, MinValue: 0, MaxValue: 1, DefaultValue: 0.25}}},
		make: func(b base, sr float64) Hosted { return &tone{base: b, sampleRate: sr} },
	},
	"monitor": {
		info: PluginInfo{Name: "monitor", Category: CategoryUtility, Description: "counts notes and forwards MIDI to the outbound buffer"},
		make: func(b base, _ float64) Hosted { return &monitor{base: b} },
	},
}

// List returns every catalog entry sorted by name.
func List() PluginInfos {
	infos := make(PluginInfos, 0, len(catalog))
	for _, e := range catalog {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// New instantiates the catalog plugin called name.
func New(name string, sampleRate float64) (Hosted, error) {
	e, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q (available: %s)", name, strings.Join(List().Names(), ", "))
	}
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return e.make(newBase(e.info), sampleRate), nil
}

// base carries identity and parameters. Parameters are float bits so the
// audio goroutine and control goroutines can both touch them.
type base struct {
	info   PluginInfo
	id     *atomic.Uint32
	closed *atomic.Bool
	params []atomic.Uint32
}

func newBase(info PluginInfo) base {
	b := base{info: info, id: new(atomic.Uint32), closed: new(atomic.Bool), params: make([]atomic.Uint32, len(info.Parameters))}
	for i, p := range info.Parameters {
		b.params[i].Store(math.Float32bits(p.DefaultValue))
	}
	return b
}

func (b *base) ID() uint { return uint(b.id.Load()) }
func (b *base) SetID(id uint) { b.id.Store(uint32(id)) }
func (b *base) Name() string { return b.info.Name }
func (b *base) Info() PluginInfo { return b.info }

func (b *base) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("plugin %s already closed", b.info.Name)
	}
	return nil
}

// Closed reports whether Close was called.
func (b *base) Closed() bool { return b.closed.Load() }

func (b *base) Parameter(address uint16) (float32, bool) {
	if int(address) >= len(b.params) {
		return 0, false
	}
	return math.Float32frombits(b.params[address].Load()), true
}

func (b *base) SetParameter(address uint16, value float32) error {
	if int(address) >= len(b.params) {
		return fmt.Errorf("plugin %s has no parameter %d", b.info.Name, address)
	}
	p := b.info.Parameters[address]
	value = min(max(value, p.MinValue), p.MaxValue)
	b.params[address].Store(math.Float32bits(value))
	return nil
}

func (b *base) param(address uint16) float32 {
	return math.Float32frombits(b.params[address].Load())
}

// applyControls sets parameters from the cycle's control events.
func (b *base) applyControls(in *events.Buffer) {
	if in == nil || len(b.params) == 0 {
		return
	}
	for _, ev := range in.Events() {
		if ev.Kind == events.KindControl && int(ev.Param) < len(b.params) {
			_ = b.SetParameter(ev.Param, ev.Value)
		}
	}
}
