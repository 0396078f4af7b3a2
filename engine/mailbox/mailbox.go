// Package mailbox holds at most one pending structural action and hands it
// from control goroutines to the audio goroutine.
//
// The handoff is a single-slot rendezvous: Publish installs the action and
// returns a Ticket; the audio goroutine calls ConsumeAndApply once per cycle,
// which applies the action against the slot table, empties the mailbox and
// completes the Ticket. A control goroutine waiting on the Ticket is released
// only after the table has been updated for the next cycle.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shaban/pluginhost/engine/slots"
)

// Opcode identifies a structural action.
type Opcode uint8

const (
	OpNone Opcode = iota
	OpZeroCount
	OpRemovePlugin
	OpSwitchPlugins
)

func (o Opcode) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpZeroCount:
		return "zero-count"
	case OpRemovePlugin:
		return "remove-plugin"
	case OpSwitchPlugins:
		return "switch-plugins"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(o))
	}
}

// Action is one structural request. Value is the second slot id for a switch.
type Action struct {
	Opcode   Opcode
	PluginID uint
	Value    uint
}

func (a Action) String() string {
	switch a.Opcode {
	case OpRemovePlugin:
		return fmt.Sprintf("%s(%d)", a.Opcode, a.PluginID)
	case OpSwitchPlugins:
		return fmt.Sprintf("%s(%d,%d)", a.Opcode, a.PluginID, a.Value)
	default:
		return a.Opcode.String()
	}
}

var (
	// ErrPending is returned by Publish while another action is in flight.
	ErrPending = errors.New("an action is already pending")
	// ErrNoAction is returned by Publish for OpNone.
	ErrNoAction = errors.New("cannot publish an empty action")
	// ErrUnsupported is returned for opcodes the mailbox was told to refuse.
	ErrUnsupported = errors.New("action not supported in this mode")
)

// Ticket tracks one published action until the audio goroutine applied it.
type Ticket struct {
	action Action
	done   chan struct{}
	err    error
}

// Action returns the published action.
func (t *Ticket) Action() Action { return t.action }

// Done is closed once the action was applied.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err returns the result of applying the action. Only meaningful after Done.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the action was applied or ctx ends. A ctx error does not
// withdraw the action; it is still applied on the next cycle.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Ticket) complete(err error) {
	t.err = err
	close(t.done)
}

// Mailbox is the single pending-action holder.
type Mailbox struct {
	mu      sync.Mutex
	ticket  *Ticket
	pending atomic.Bool

	// structuralDisabled refuses remove/switch (single-plugin bridge hosts).
	structuralDisabled bool
}

// New returns an empty mailbox. With allowStructural false, remove and switch
// requests are refused at publish time.
func New(allowStructural bool) *Mailbox {
	return &Mailbox{structuralDisabled: !allowStructural}
}

// Publish installs a pending action. It fails if a is OpNone, if the opcode
// is refused in this mode, or if another action is still pending.
func (m *Mailbox) Publish(a Action) (*Ticket, error) {
	switch a.Opcode {
	case OpNone:
		return nil, ErrNoAction
	case OpZeroCount:
	case OpRemovePlugin, OpSwitchPlugins:
		if m.structuralDisabled {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, a.Opcode)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, a.Opcode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticket != nil {
		return nil, fmt.Errorf("%w: %s", ErrPending, m.ticket.action)
	}
	t := &Ticket{action: a, done: make(chan struct{})}
	m.ticket = t
	m.pending.Store(true)
	return t, nil
}

// Pending returns the pending action, or an OpNone action when empty.
func (m *Mailbox) Pending() Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticket == nil {
		return Action{}
	}
	return m.ticket.action
}

// Exclusive runs fn while holding the mailbox lock with nothing pending, so
// fn never overlaps an action being applied. It fails with ErrPending when
// an action is in flight.
func (m *Mailbox) Exclusive(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticket != nil {
		return fmt.Errorf("%w: %s", ErrPending, m.ticket.action)
	}
	return fn()
}

// Empty reports whether no action is pending.
func (m *Mailbox) Empty() bool { return !m.pending.Load() }

// ConsumeAndApply applies the pending action, if any, against tbl, empties
// the mailbox and completes the ticket. It returns the applied action and the
// application result. With nothing pending it returns immediately without
// taking the lock. Audio goroutine only, or any goroutine while no audio
// goroutine is running.
func (m *Mailbox) ConsumeAndApply(tbl *slots.Table) (Action, error) {
	if !m.pending.Load() {
		return Action{}, nil
	}

	m.mu.Lock()
	t := m.ticket
	if t == nil {
		m.pending.Store(false)
		m.mu.Unlock()
		return Action{}, nil
	}
	err := Apply(tbl, t.action)
	m.ticket = nil
	m.pending.Store(false)
	m.mu.Unlock()

	t.complete(err)
	return t.action, err
}

// Apply performs a against tbl. OpNone never touches the table.
func Apply(tbl *slots.Table, a Action) error {
	switch a.Opcode {
	case OpNone:
		return nil
	case OpZeroCount:
		tbl.ZeroCount()
		return nil
	case OpRemovePlugin:
		return tbl.Remove(a.PluginID)
	case OpSwitchPlugins:
		return tbl.Switch(a.PluginID, a.Value)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, a.Opcode)
	}
}
