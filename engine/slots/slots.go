// Package slots implements the engine's fixed-capacity plugin slot table.
//
// The table is a pure position index: it holds non-owning references to
// plugins and never creates or disposes them. Occupied slots always form the
// contiguous prefix [0, Count()). Structural mutations (Remove, Switch,
// ZeroCount) are applied by the audio goroutine at a cycle boundary; Install
// is applied by the control side, serialized with structural requests.
//
// Every field the audio goroutine and control goroutines share is accessed
// atomically, so control-side reads (Count, Plugin, Peaks) never observe a
// torn slot.
package slots

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// Plugin is the part of a plugin the table depends on: its slot identity.
type Plugin interface {
	ID() uint
	SetID(id uint)
}

var (
	// ErrFull is returned by Install when every slot is occupied.
	ErrFull = errors.New("slot table full")
	// ErrEmpty is returned when a structural operation needs at least one plugin.
	ErrEmpty = errors.New("slot table empty")
	// ErrOutOfRange is returned for slot ids at or beyond Count().
	ErrOutOfRange = errors.New("slot id out of range")
	// ErrEmptySlot is returned when a slot inside the occupied prefix holds no plugin.
	ErrEmptySlot = errors.New("slot holds no plugin")
	// ErrShiftAborted is returned when Remove found a hole while compacting.
	ErrShiftAborted = errors.New("slot compaction aborted")
)

// Peaks holds one stereo peak meter.
type Peaks [2]float32

type ref struct{ p Plugin }

type meter [2]atomic.Uint32

func (m *meter) store(p Peaks) {
	m[0].Store(math.Float32bits(p[0]))
	m[1].Store(math.Float32bits(p[1]))
}

func (m *meter) load() Peaks {
	return Peaks{math.Float32frombits(m[0].Load()), math.Float32frombits(m[1].Load())}
}

type slot struct {
	plugin atomic.Pointer[ref]
	ins    meter
	outs   meter
}

func (s *slot) clear() {
	s.plugin.Store(nil)
	s.ins.store(Peaks{})
	s.outs.store(Peaks{})
}

// Table is the fixed-capacity plugin slot table.
type Table struct {
	slots []slot
	count atomic.Uint32
	next  atomic.Uint32
}

// New allocates a zeroed table. nextPluginId starts equal to capacity, the
// idle value.
func New(capacity uint) *Table {
	t := &Table{slots: make([]slot, capacity)}
	t.next.Store(uint32(capacity))
	return t
}

// Capacity returns maxPluginNumber; it never changes after New.
func (t *Table) Capacity() uint { return uint(len(t.slots)) }

// Count returns curPluginCount.
func (t *Table) Count() uint { return uint(t.count.Load()) }

// NextID returns the nextPluginId scratch field.
func (t *Table) NextID() uint { return uint(t.next.Load()) }

// SetNextID sets the nextPluginId scratch field. Add/remove orchestration
// sets it to the id being worked on and restores Capacity() when done.
func (t *Table) SetNextID(id uint) { t.next.Store(uint32(id)) }

// Idle reports whether nextPluginId is back at its idle value.
func (t *Table) Idle() bool { return t.NextID() == t.Capacity() }

// Plugin returns the plugin at id, or nil when id is outside the occupied
// prefix or the slot is empty.
func (t *Table) Plugin(id uint) Plugin {
	if id >= t.Count() {
		return nil
	}
	if r := t.slots[id].plugin.Load(); r != nil {
		return r.p
	}
	return nil
}

// ForEach calls fn for every occupied slot in order. It stops at the first
// empty slot.
func (t *Table) ForEach(fn func(id uint, p Plugin)) {
	n := t.Count()
	for i := uint(0); i < n; i++ {
		r := t.slots[i].plugin.Load()
		if r == nil {
			return
		}
		fn(i, r.p)
	}
}

// Install places p at the first free slot (index Count()), assigns it that
// id and publishes the new count. The slot is written before the count so a
// concurrent reader of [0, Count()) never sees a nil entry.
func (t *Table) Install(p Plugin) (uint, error) {
	if p == nil {
		return 0, ErrEmptySlot
	}
	id := t.Count()
	if id >= t.Capacity() {
		return 0, ErrFull
	}
	p.SetID(id)
	t.slots[id].ins.store(Peaks{})
	t.slots[id].outs.store(Peaks{})
	t.slots[id].plugin.Store(&ref{p: p})
	t.count.Store(uint32(id + 1))
	return id, nil
}

// ZeroCount drops every reference and sets the count to zero. Plugins are
// not disposed; that stays with whoever requested the reset.
func (t *Table) ZeroCount() {
	n := t.Count()
	t.count.Store(0)
	for i := uint(0); i < n && i < t.Capacity(); i++ {
		t.slots[i].clear()
	}
}

// Remove drops the plugin at id and compacts the slots above it down by one
// position. Each moved plugin is told its new id. If a hole is found while
// compacting, the shift stops there, the vacated last slot is still cleared,
// and ErrShiftAborted is returned; the table keeps serving with the
// processed prefix.
func (t *Table) Remove(id uint) error {
	n := t.Count()
	if n == 0 {
		return ErrEmpty
	}
	if id >= n {
		return fmt.Errorf("%w: remove %d, count %d", ErrOutOfRange, id, n)
	}

	last := n - 1
	t.count.Store(uint32(last))

	var err error
	for i := id; i < last; i++ {
		r := t.slots[i+1].plugin.Load()
		if r == nil {
			err = fmt.Errorf("%w: slot %d is empty", ErrShiftAborted, i+1)
			break
		}
		r.p.SetID(i)
		t.slots[i].plugin.Store(r)
		t.slots[i].ins.store(Peaks{})
		t.slots[i].outs.store(Peaks{})
	}

	t.slots[last].clear()
	return err
}

// Switch exchanges the plugins at a and b in place and tells each its new
// id. Meters stay with the slot.
func (t *Table) Switch(a, b uint) error {
	n := t.Count()
	if n < 2 {
		return fmt.Errorf("%w: switch needs two plugins, count %d", ErrOutOfRange, n)
	}
	if a >= n || b >= n {
		return fmt.Errorf("%w: switch %d/%d, count %d", ErrOutOfRange, a, b, n)
	}
	ra := t.slots[a].plugin.Load()
	rb := t.slots[b].plugin.Load()
	if ra == nil || rb == nil {
		return fmt.Errorf("%w: switch %d/%d", ErrEmptySlot, a, b)
	}
	rb.p.SetID(a)
	ra.p.SetID(b)
	t.slots[a].plugin.Store(rb)
	t.slots[b].plugin.Store(ra)
	return nil
}

// SetPeaks records the input and output peaks for a slot. Out of range ids
// are ignored.
func (t *Table) SetPeaks(id uint, in, out Peaks) {
	if id >= t.Capacity() {
		return
	}
	t.slots[id].ins.store(in)
	t.slots[id].outs.store(out)
}

// Peaks returns the input and output peaks for a slot.
func (t *Table) Peaks(id uint) (in, out Peaks) {
	if id >= t.Capacity() {
		return Peaks{}, Peaks{}
	}
	return t.slots[id].ins.load(), t.slots[id].outs.load()
}

// Reset clears every slot and counter. Only valid while no audio goroutine
// can touch the table.
func (t *Table) Reset() {
	t.count.Store(0)
	for i := range t.slots {
		t.slots[i].clear()
	}
	t.next.Store(uint32(len(t.slots)))
}

// Check verifies the contiguous-prefix invariant: every slot below Count()
// holds a plugin, every slot at or beyond it is empty with zeroed meters.
func (t *Table) Check() error {
	n := t.Count()
	for i := range t.slots {
		id := uint(i)
		s := &t.slots[i]
		r := s.plugin.Load()
		if id < n {
			if r == nil {
				return fmt.Errorf("slot %d inside prefix [0,%d) is empty", id, n)
			}
			continue
		}
		if r != nil {
			return fmt.Errorf("slot %d beyond prefix [0,%d) holds a plugin", id, n)
		}
		if s.ins.load() != (Peaks{}) || s.outs.load() != (Peaks{}) {
			return fmt.Errorf("slot %d beyond prefix [0,%d) has non-zero meters", id, n)
		}
	}
	return nil
}
