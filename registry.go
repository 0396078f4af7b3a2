package pluginhost

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaban/pluginhost/engine/events"
	"github.com/shaban/pluginhost/engine/slots"
)

// Plugin is anything the engine can host. The slot table only uses ID and
// SetID; Name and Close belong to the owning Registry.
type Plugin interface {
	slots.Plugin
	Name() string
	Close() error
}

// Processor is implemented by plugins that do work in the audio cycle.
// audio holds one slice per channel, each Cycle.Frames() long, processed in
// place. in and out are nil when the process mode has no event routing.
// Called on the audio goroutine: no allocation, no blocking.
type Processor interface {
	Process(frames uint32, audio [][]float32, in, out *events.Buffer)
}

// Idler is implemented by plugins that want periodic non-realtime time on
// the maintenance worker.
type Idler interface {
	Idle()
}

// Instance is the registry's ownership record for one hosted plugin. It is
// what the slot table actually holds; ID and SetID forward to the plugin.
type Instance struct {
	UUID    uuid.UUID
	Plugin  Plugin
	AddedAt time.Time
}

func (i *Instance) ID() uint { return i.Plugin.ID() }
func (i *Instance) SetID(id uint) { i.Plugin.SetID(id) }
func (i *Instance) Name() string { return i.Plugin.Name() }
func (i *Instance) String() string { return fmt.Sprintf("%s[%d] %s", i.Plugin.Name(), i.Plugin.ID(), i.UUID) }
func (i *Instance) processor() Processor {
	p, _ := i.Plugin.(Processor)
	return p
}

// Registry owns hosted plugins, keyed by uuid. Disposal happens here and
// nowhere else.
type Registry struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*Instance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[uuid.UUID]*Instance)}
}

// Register takes ownership of p.
func (r *Registry) Register(p Plugin) *Instance {
	inst := &Instance{UUID: uuid.New(), Plugin: p, AddedAt: time.Now()}
	r.mu.Lock()
	r.instances[inst.UUID] = inst
	r.mu.Unlock()
	return inst
}

// Get returns the instance with the given uuid.
func (r *Registry) Get(id uuid.UUID) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Len returns the number of owned plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Instances returns every owned instance ordered by slot id.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].ID() < out[b].ID() })
	return out
}

// Forget drops the instance without closing its plugin; ownership goes
// back to the caller.
func (r *Registry) Forget(id uuid.UUID) {
	r.mu.Lock()
	delete(r.instances, id)
	r.mu.Unlock()
}

// Dispose removes the instance and closes its plugin.
func (r *Registry) Dispose(id uuid.UUID) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	delete(r.instances, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin instance %s not found", id)
	}
	if err := inst.Plugin.Close(); err != nil {
		return fmt.Errorf("close plugin %s: %w", inst.Name(), err)
	}
	return nil
}

// DisposeAll closes and forgets every plugin. Close errors are joined.
func (r *Registry) DisposeAll() error {
	r.mu.Lock()
	all := r.instances
	r.instances = make(map[uuid.UUID]*Instance)
	r.mu.Unlock()

	var errs []error
	for _, inst := range all {
		if err := inst.Plugin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close plugin %s: %w", inst.Name(), err))
		}
	}
	return errors.Join(errs...)
}
