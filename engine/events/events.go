// Package events provides the engine's preallocated event buffers.
//
// A Buffer is a fixed-capacity array of timestamped events owned by the audio
// goroutine for the duration of one cycle. Events coming from other
// goroutines (MIDI input, control surfaces) enter through an Inbox, a
// single-consumer ring the audio goroutine drains into the inbound Buffer at
// the start of a cycle.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"
)

// Kind tells how to read an Event.
type Kind uint8

const (
	KindNull Kind = iota
	KindControl
	KindMIDI
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindControl:
		return "control"
	case KindMIDI:
		return "midi"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// maxMIDISize covers every channel voice message.
const maxMIDISize = 3

// Event is one timestamped event. Time is the frame offset inside the cycle.
type Event struct {
	Kind    Kind
	Time    uint32
	Channel uint8

	// KindControl
	Param uint16
	Value float32

	// KindMIDI
	size uint8
	data [maxMIDISize]byte
}

// Control builds a parameter change event.
func Control(time uint32, channel uint8, param uint16, value float32) Event {
	return Event{Kind: KindControl, Time: time, Channel: channel, Param: param, Value: value}
}

// MIDI builds a MIDI event from a channel voice message. Messages longer
// than three bytes (sysex) are rejected.
func MIDI(time uint32, msg midi.Message) (Event, error) {
	if len(msg) == 0 || len(msg) > maxMIDISize {
		return Event{}, fmt.Errorf("unsupported midi message length %d", len(msg))
	}
	ev := Event{Kind: KindMIDI, Time: time, size: uint8(len(msg))}
	copy(ev.data[:], msg)
	ev.Channel = msg[0] & 0x0f
	return ev, nil
}

// Message returns the MIDI payload. The returned slice aliases the event.
func (e *Event) Message() midi.Message {
	if e.Kind != KindMIDI {
		return nil
	}
	return midi.Message(e.data[:e.size])
}

func (e Event) String() string {
	switch e.Kind {
	case KindControl:
		return fmt.Sprintf("@%d control ch%d param=%d value=%.3f", e.Time, e.Channel, e.Param, e.Value)
	case KindMIDI:
		return fmt.Sprintf("@%d %s", e.Time, e.Message().String())
	default:
		return fmt.Sprintf("@%d %s", e.Time, e.Kind)
	}
}

// Buffer is a fixed-capacity event array. Apart from Dropped it is not safe
// for concurrent use; the audio goroutine owns it during a cycle.
type Buffer struct {
	events  []Event
	n       int
	dropped atomic.Uint64
}

// NewBuffer preallocates capacity events.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{events: make([]Event, capacity)}
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.events) }

// Len returns the number of events held.
func (b *Buffer) Len() int { return b.n }

// Push appends ev. It returns false and counts a drop when the buffer is full.
func (b *Buffer) Push(ev Event) bool {
	if b.n >= len(b.events) {
		b.dropped.Add(1)
		return false
	}
	b.events[b.n] = ev
	b.n++
	return true
}

// Events returns the held events. The slice aliases the buffer and is only
// valid until the next Clear.
func (b *Buffer) Events() []Event { return b.events[:b.n] }

// Clear empties the buffer without releasing memory.
func (b *Buffer) Clear() {
	for i := 0; i < b.n; i++ {
		b.events[i] = Event{}
	}
	b.n = 0
}

// Dropped returns how many pushes were refused since allocation. Safe from
// any goroutine.
func (b *Buffer) Dropped() uint64 { return b.dropped.Load() }

// Buffers is the inbound/outbound pair allocated at init.
type Buffers struct {
	In  *Buffer
	Out *Buffer
}

// Allocate preallocates both buffers at capacity.
func Allocate(capacity int) *Buffers {
	return &Buffers{In: NewBuffer(capacity), Out: NewBuffer(capacity)}
}

// Clear empties both buffers.
func (b *Buffers) Clear() {
	b.In.Clear()
	b.Out.Clear()
}

// Release drops both buffers; they are never used again.
func (b *Buffers) Release() {
	b.In = nil
	b.Out = nil
}

// Inbox carries events from any goroutine to the audio goroutine. Producers
// serialize on a mutex; the audio goroutine drains without locking.
// Positions run free and are only masked when indexing.
type Inbox struct {
	prod     sync.Mutex
	buf      []Event
	mask     uint32
	writePos atomic.Uint32
	readPos  atomic.Uint32
	dropped  atomic.Uint64
}

// NewInbox creates an inbox holding at least capacity events, rounded up to
// a power of two.
func NewInbox(capacity int) *Inbox {
	size := uint32(1)
	for int(size) < capacity {
		size <<= 1
	}
	return &Inbox{buf: make([]Event, size), mask: size - 1}
}

// Send queues ev. It returns false and counts a drop when the inbox is full.
func (q *Inbox) Send(ev Event) bool {
	q.prod.Lock()
	defer q.prod.Unlock()
	w := q.writePos.Load()
	r := q.readPos.Load()
	if w-r >= uint32(len(q.buf)) {
		q.dropped.Add(1)
		return false
	}
	q.buf[w&q.mask] = ev
	q.writePos.Store(w + 1)
	return true
}

// DrainInto moves queued events into dst until the inbox is empty or dst is
// full. Events that do not fit stay queued. Single consumer.
func (q *Inbox) DrainInto(dst *Buffer) int {
	r := q.readPos.Load()
	w := q.writePos.Load()
	moved := 0
	for r != w && dst.Len() < dst.Cap() {
		dst.Push(q.buf[r&q.mask])
		r++
		moved++
	}
	q.readPos.Store(r)
	return moved
}

// Len returns the number of queued events.
func (q *Inbox) Len() int { return int(q.writePos.Load() - q.readPos.Load()) }

// Dropped returns how many sends were refused.
func (q *Inbox) Dropped() uint64 { return q.dropped.Load() }
