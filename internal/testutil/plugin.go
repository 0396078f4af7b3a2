package testutil

import (
	"sync"
	"sync/atomic"
)

// FakePlugin is a plugin stand-in that records every id it is given.
type FakePlugin struct {
	name   string
	id     atomic.Uint32
	closed atomic.Bool

	mu  sync.Mutex
	ids []uint

	// CloseErr is returned by Close when set.
	CloseErr error
}

// NewFakePlugin returns a FakePlugin with the given name.
func NewFakePlugin(name string) *FakePlugin {
	return &FakePlugin{name: name}
}

// Plugins builds one FakePlugin per name.
func Plugins(names ...string) []*FakePlugin {
	out := make([]*FakePlugin, len(names))
	for i, n := range names {
		out[i] = NewFakePlugin(n)
	}
	return out
}

func (p *FakePlugin) Name() string { return p.name }

func (p *FakePlugin) ID() uint { return uint(p.id.Load()) }

func (p *FakePlugin) SetID(id uint) {
	p.id.Store(uint32(id))
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
}

func (p *FakePlugin) Close() error {
	p.closed.Store(true)
	return p.CloseErr
}

// Closed reports whether Close was called.
func (p *FakePlugin) Closed() bool { return p.closed.Load() }

// IDHistory returns every id passed to SetID, oldest first.
func (p *FakePlugin) IDHistory() []uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint(nil), p.ids...)
}

// ResetHistory forgets recorded ids.
func (p *FakePlugin) ResetHistory() {
	p.mu.Lock()
	p.ids = nil
	p.mu.Unlock()
}
