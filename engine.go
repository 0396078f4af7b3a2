// Package pluginhost is the core of a real-time audio plugin host.
//
// One audio goroutine, driven by a Driver, runs a periodic cycle over a
// fixed-capacity table of plugins. Any number of control goroutines request
// structural changes (add, remove, reorder) through a single-slot mailbox;
// the audio goroutine applies the pending change at the end of a cycle, then
// advances the transport, so a cycle in flight never sees a half-mutated
// table.
package pluginhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaban/pluginhost/engine/events"
	"github.com/shaban/pluginhost/engine/mailbox"
	"github.com/shaban/pluginhost/engine/queue"
	"github.com/shaban/pluginhost/engine/setup"
	"github.com/shaban/pluginhost/engine/slots"
	"github.com/shaban/pluginhost/engine/transport"
)

const (
	// StopTimeout bounds how long Close waits for the driver and the
	// maintenance worker to stop.
	StopTimeout = 500 * time.Millisecond

	DefaultRequestTimeout = 2 * time.Second
	DefaultIdleInterval   = 30 * time.Millisecond

	// AudioChannels is the channel count of the engine's audio buffers.
	AudioChannels = 2
)

// Driver runs audio cycles. Start calls cycle periodically from one
// goroutine with out holding AudioChannels slices of equal length; Stop
// halts it, waiting at most timeout for a cycle in flight.
type Driver interface {
	Start(cycle func(out [][]float32)) error
	Stop(timeout time.Duration) error
}

// ProcessFunc is the body of one audio cycle.
type ProcessFunc func(c *Cycle)

// EngineConfig holds configuration for engine creation
type EngineConfig struct {
	setup.Options

	Logger       *slog.Logger // defaults to slog.Default()
	ErrorHandler ErrorHandler // defaults to DefaultErrorHandler
	Metrics      MetricsHook  // optional
	Driver       Driver       // optional; required by Start
	ProcessFunc  ProcessFunc  // defaults to DefaultProcess
	Journal      Journal      // optional
	// RequestTimeout bounds a blocking action request. The action itself is
	// never withdrawn.
	RequestTimeout time.Duration
	// IdleInterval is the maintenance worker tick.
	IdleInterval time.Duration
}

// EngineOption customizes an Engine after the config is applied.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.With("component", "engine")
		}
	}
}

// WithErrorHandler sets the engine error channel.
func WithErrorHandler(h ErrorHandler) EngineOption {
	return func(e *Engine) {
		if h != nil {
			e.errorHandler = h
		}
	}
}

// WithMetricsHook sets the metrics observer.
func WithMetricsHook(m MetricsHook) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithDriver sets the audio driver.
func WithDriver(d Driver) EngineOption {
	return func(e *Engine) { e.driver = d }
}

// WithJournal records completed structural operations.
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) { e.journal = j }
}

// Engine is the plugin host. All state hangs off the Engine value.
type Engine struct {
	id uuid.UUID

	// mu guards the lifecycle: initialized, running and the pointers
	// allocated by Init. The audio goroutine never takes it.
	mu          sync.RWMutex
	initialized bool
	running     bool

	// environment lock, independent of mu and of the mailbox
	envMu         sync.Mutex
	env           Environment
	transportMode atomic.Int32

	logger         *slog.Logger
	errorHandler   ErrorHandler
	metrics        MetricsHook
	driver         Driver
	journal        Journal
	processFunc    ProcessFunc
	requestTimeout time.Duration
	idleInterval   time.Duration

	// allocated by Init, released by Close
	layout     setup.Layout
	bridge     bool
	table      *slots.Table
	mailbox    *mailbox.Mailbox
	buffers    *events.Buffers
	inbox      atomic.Pointer[events.Inbox]
	audio      [][]float32
	registry   *Registry
	worker     *queue.Queue
	dispatcher *Dispatcher

	clock transport.Clock
	cycle Cycle
	live  atomic.Bool

	// cycleMu is held by a direct Process call for the whole cycle. Table
	// changes made while no driver runs take it, so a body never sees the
	// table move under it.
	cycleMu sync.Mutex

	cycles atomic.Uint64
	panics atomic.Uint64
}

// NewEngine validates cfg and returns an uninitialized engine.
func NewEngine(cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	// Validate SampleRate
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	} else if cfg.SampleRate < 8000 {
		return nil, fmt.Errorf("SampleRate must be at least 8000 Hz, got %.0f", cfg.SampleRate)
	} else if cfg.SampleRate > 384000 {
		return nil, fmt.Errorf("SampleRate cannot exceed 384000 Hz, got %.0f", cfg.SampleRate)
	}

	// Validate BufferSize
	if cfg.BufferSize < 0 {
		return nil, fmt.Errorf("BufferSize must not be negative, got %d", cfg.BufferSize)
	} else if cfg.BufferSize > 0 && cfg.BufferSize < 16 {
		return nil, fmt.Errorf("BufferSize must be at least 16 frames, got %d", cfg.BufferSize)
	} else if cfg.BufferSize > 4096 {
		return nil, fmt.Errorf("BufferSize cannot exceed 4096 frames, got %d", cfg.BufferSize)
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ProcessFunc == nil {
		cfg.ProcessFunc = DefaultProcess
	}

	e := &Engine{
		id:             uuid.New(),
		env:            Environment{Options: cfg.Options},
		logger:         cfg.Logger.With("component", "engine"),
		errorHandler:   cfg.ErrorHandler,
		metrics:        cfg.Metrics,
		driver:         cfg.Driver,
		journal:        cfg.Journal,
		processFunc:    cfg.ProcessFunc,
		requestTimeout: cfg.RequestTimeout,
		idleInterval:   cfg.IdleInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.errorHandler == nil {
		e.errorHandler = &DefaultErrorHandler{Logger: e.logger}
	}
	e.transportMode.Store(int32(cfg.TransportMode))
	return e, nil
}

// ID returns the engine's instance id.
func (e *Engine) ID() uuid.UUID { return e.id }

// Init sizes and allocates the plugin table and event buffers for the
// configured process mode, resets the transport and starts the maintenance
// worker. name is the client name; it is sanitized and must not be empty.
// On failure nothing stays allocated.
func (e *Engine) Init(name string) error {
	clean := basicName(name)
	if clean == "" {
		return e.report(contractf(CodeInvalidArgument, "init", nil, "client name must not be empty"))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return e.report(contractf(CodeAlreadyInitialized, "init", ErrAlreadyInitialized,
			"engine %q is already initialized", e.Name()))
	}

	opts := e.Options()
	layout := setup.Resolve(opts)
	if layout.ForceStereo && !opts.ForceStereo {
		opts.ForceStereo = true
	}

	e.layout = layout
	e.bridge = opts.ProcessMode == setup.ProcessModeBridge
	e.table = slots.New(layout.MaxPlugins)
	e.mailbox = mailbox.New(!e.bridge)
	if layout.EventCapacity > 0 {
		e.buffers = events.Allocate(layout.EventCapacity)
		e.inbox.Store(events.NewInbox(layout.EventCapacity * 2))
	}
	e.audio = make([][]float32, AudioChannels)
	for ch := range e.audio {
		e.audio[ch] = make([]float32, layout.BufferSize)
	}
	e.cycle = Cycle{e: e, audio: make([][]float32, AudioChannels)}
	e.clock.Reset()
	e.registry = NewRegistry()

	e.worker = queue.New(64,
		queue.WithIdle(e.idleInterval, e.idleTask(e.table, e.buffers, e.inbox.Load())),
		queue.WithErrorHandler(e.errorHandler.HandleError))
	e.worker.Start()

	e.dispatcher = NewDispatcher(e)
	if err := e.dispatcher.Start(); err != nil {
		_ = e.worker.CloseTimeout(StopTimeout)
		e.release()
		return e.report(fmt.Errorf("start dispatcher: %w", err))
	}

	e.WithEnvironment(func(env *Environment) {
		env.Name = clean
		env.Options = opts
	})
	e.initialized = true
	e.live.Store(true)

	e.logger.Info("engine initialized",
		"name", clean,
		"process_mode", opts.ProcessMode.String(),
		"transport_mode", opts.TransportMode.String(),
		"max_plugins", layout.MaxPlugins,
		"event_capacity", layout.EventCapacity,
		"buffer_size", layout.BufferSize,
		"sample_rate", layout.SampleRate)
	return nil
}

// Close reverses Init. No add/remove may be in progress and the mailbox
// must be empty. The driver is stopped first, then the maintenance worker
// with a bounded wait; remaining plugins are disposed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return e.report(contractf(CodeNotInitialized, "close", ErrNotInitialized, "engine is not initialized"))
	}
	if !e.table.Idle() {
		return e.report(contractf(CodeBusy, "close", nil,
			"plugin add/remove in progress (next id %d)", e.table.NextID()))
	}
	if !e.mailbox.Empty() {
		return e.report(contractf(CodeActionPending, "close", ErrActionPending,
			"action %s still pending", e.mailbox.Pending()))
	}

	if e.running {
		if err := e.stopDriverLocked(); err != nil {
			e.logger.Warn("driver did not stop cleanly", "error", err)
		}
	}
	e.live.Store(false)
	// Wait out a direct Process still running.
	e.cycleMu.Lock()
	e.cycleMu.Unlock()

	e.dispatcher.Stop()
	if err := e.worker.CloseTimeout(StopTimeout); err != nil {
		e.logger.Warn("maintenance worker did not stop in time", "timeout", StopTimeout, "error", err)
	}
	if err := e.registry.DisposeAll(); err != nil {
		e.logger.Warn("disposing plugins", "error", err)
	}

	e.table.Reset()
	e.release()
	e.clock.Reset()
	e.WithEnvironment(func(env *Environment) { env.Name = "" })
	e.initialized = false

	e.logger.Info("engine closed")
	return nil
}

// release drops everything Init allocated. Callers hold mu.
func (e *Engine) release() {
	e.table = nil
	e.mailbox = nil
	if e.buffers != nil {
		e.buffers.Release()
		e.buffers = nil
	}
	e.inbox.Store(nil)
	e.audio = nil
	e.cycle = Cycle{}
	e.registry = nil
	e.worker = nil
	e.dispatcher = nil
	e.layout = setup.Layout{}
	e.bridge = false
}

// IsInitialized reports whether Init succeeded and Close has not run.
func (e *Engine) IsInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// IsRunning reports whether the driver is running cycles.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Layout returns the layout resolved at Init.
func (e *Engine) Layout() setup.Layout {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.layout
}

// PluginCount returns curPluginCount, 0 when not initialized.
func (e *Engine) PluginCount() uint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.table == nil {
		return 0
	}
	return e.table.Count()
}

// MaxPluginNumber returns the slot capacity, 0 when not initialized.
func (e *Engine) MaxPluginNumber() uint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.table == nil {
		return 0
	}
	return e.table.Capacity()
}

// Plugin returns the plugin at slot id, or nil.
func (e *Engine) Plugin(id uint) Plugin {
	if inst := e.Instance(id); inst != nil {
		return inst.Plugin
	}
	return nil
}

// Instance returns the ownership record of the plugin at slot id, or nil.
func (e *Engine) Instance(id uint) *Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.table == nil {
		return nil
	}
	inst, _ := e.table.Plugin(id).(*Instance)
	return inst
}

// Peaks returns the last input and output peaks recorded for slot id.
func (e *Engine) Peaks(id uint) (in, out slots.Peaks) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.table == nil {
		return slots.Peaks{}, slots.Peaks{}
	}
	return e.table.Peaks(id)
}

// TimeInfo returns the last published transport state.
func (e *Engine) TimeInfo() transport.TimeInfo { return e.clock.Snapshot() }

// SetPlaying queues a play or pause for the next cycle.
func (e *Engine) SetPlaying(playing bool) {
	if playing {
		e.clock.Play()
	} else {
		e.clock.Pause()
	}
}

// Locate queues a jump to frame for the next cycle.
func (e *Engine) Locate(frame uint64) { e.clock.Locate(frame) }

// SetExternalTime publishes an externally owned transport position. Only
// valid in external transport mode.
func (e *Engine) SetExternalTime(playing bool, frame uint64) error {
	if setup.TransportMode(e.transportMode.Load()) != setup.TransportExternal {
		return e.report(contractf(CodeUnsupported, "set-external-time", nil, "transport mode is internal"))
	}
	e.clock.Store(transport.TimeInfo{Playing: playing, Frame: frame})
	return nil
}

// QueueEvent hands ev to the audio goroutine for the next cycle's inbound
// buffer. It returns false when the mode has no event routing or the inbox
// is full. Safe from any goroutine.
func (e *Engine) QueueEvent(ev events.Event) bool {
	q := e.inbox.Load()
	if q == nil {
		return false
	}
	return q.Send(ev)
}

// Cycles returns the number of completed audio cycles.
func (e *Engine) Cycles() uint64 { return e.cycles.Load() }

// Panics returns how many cycle bodies panicked and were recovered.
func (e *Engine) Panics() uint64 { return e.panics.Load() }

// RequestAction publishes a structural action from a control goroutine.
// With blocking set it waits until the audio goroutine applied it, bounded
// by the request timeout. Without it, it returns once the action is
// published and the next cycle applies it. While no driver is running the
// action is applied before returning, after any direct Process in flight.
//
// From inside the audio goroutine use Cycle.RequestInline, which applies the
// action immediately.
//
// A second request while one is pending is a contract violation.
func (e *Engine) RequestAction(op mailbox.Opcode, pluginID, value uint, blocking bool) error {
	return e.RequestActionContext(context.Background(), op, pluginID, value, blocking)
}

// RequestActionContext is RequestAction with a caller context bounding the
// wait. Canceling ctx does not withdraw the action.
func (e *Engine) RequestActionContext(ctx context.Context, op mailbox.Opcode, pluginID, value uint, blocking bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.requestLocked(ctx, mailbox.Action{Opcode: op, PluginID: pluginID, Value: value}, blocking)
}

func (e *Engine) requestLocked(ctx context.Context, a mailbox.Action, blocking bool) error {
	if !e.initialized {
		return e.report(contractf(CodeNotInitialized, "request-action", ErrNotInitialized, "engine is not initialized"))
	}
	if err := e.validateAction(a); err != nil {
		return e.report(err)
	}

	tk, err := e.mailbox.Publish(a)
	if err != nil {
		return e.report(publishError(a, err))
	}
	if e.metrics != nil {
		e.metrics.OnActionRequested(a)
	}
	start := time.Now()

	if !e.running {
		// A direct Process in flight applies the action itself when its
		// body returns; either way the ticket is complete afterwards.
		e.cycleMu.Lock()
		_, _ = e.mailbox.ConsumeAndApply(e.table)
		e.cycleMu.Unlock()
		return e.actionDone(a, start, tk.Err())
	}
	if !blocking {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()
	if err := tk.Wait(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s after %v", ErrTimeout, a, e.requestTimeout)
		}
		e.errorHandler.HandleError(err)
		return err
	}
	return e.actionDone(a, start, tk.Err())
}

func (e *Engine) actionDone(a mailbox.Action, start time.Time, err error) error {
	if e.metrics != nil {
		e.metrics.OnActionApplied(a, time.Since(start), err)
	}
	if err != nil {
		e.logger.Warn("action failed", "action", a.String(), "error", err)
		return fmt.Errorf("%s: %w", a, err)
	}
	e.logger.Debug("action applied", "action", a.String(), "wait", time.Since(start))
	return nil
}

// validateAction checks the table preconditions on the control side so
// the audio goroutine only sees actions that were valid when published.
func (e *Engine) validateAction(a mailbox.Action) error {
	n := e.table.Count()
	switch a.Opcode {
	case mailbox.OpNone:
		return contractf(CodeInvalidAction, "request-action", ErrInvalidAction, "cannot request an empty action")
	case mailbox.OpZeroCount:
		return nil
	case mailbox.OpRemovePlugin, mailbox.OpSwitchPlugins:
		if e.bridge {
			return contractf(CodeUnsupported, "request-action", nil, "%s not supported in bridge mode", a.Opcode)
		}
	default:
		return contractf(CodeInvalidAction, "request-action", ErrInvalidAction, "unknown opcode %s", a.Opcode)
	}

	if a.Opcode == mailbox.OpRemovePlugin {
		if n == 0 || a.PluginID >= n {
			return contractf(CodeInvalidAction, "remove-plugin", ErrInvalidAction,
				"plugin id %d out of range, count %d", a.PluginID, n)
		}
		return nil
	}
	if n < 2 || a.PluginID >= n || a.Value >= n {
		return contractf(CodeInvalidAction, "switch-plugins", ErrInvalidAction,
			"plugin ids %d/%d out of range, count %d", a.PluginID, a.Value, n)
	}
	return nil
}

func publishError(a mailbox.Action, err error) error {
	switch {
	case errors.Is(err, mailbox.ErrPending):
		return contractf(CodeActionPending, "request-action", ErrActionPending, "%s rejected: %v", a, err)
	case errors.Is(err, mailbox.ErrUnsupported):
		return contractf(CodeUnsupported, "request-action", nil, "%v", err)
	case errors.Is(err, mailbox.ErrNoAction):
		return contractf(CodeInvalidAction, "request-action", ErrInvalidAction, "%v", err)
	default:
		return err
	}
}

// report sends err to the error channel and returns it.
func (e *Engine) report(err error) error {
	e.errorHandler.HandleError(err)
	return err
}

// AddPlugin installs p in the first free slot and takes ownership of it.
func (e *Engine) AddPlugin(p Plugin) (*Instance, error) {
	d, err := e.activeDispatcher("add-plugin")
	if err != nil {
		return nil, err
	}
	return d.AddPlugin(p)
}

// RemovePlugin removes the plugin at slot id, compacts the slots above it
// and disposes the plugin once the audio goroutine let go of it.
func (e *Engine) RemovePlugin(id uint) error {
	d, err := e.activeDispatcher("remove-plugin")
	if err != nil {
		return err
	}
	return d.RemovePlugin(id)
}

// SwitchPlugins exchanges the plugins at slots a and b.
func (e *Engine) SwitchPlugins(a, b uint) error {
	d, err := e.activeDispatcher("switch-plugins")
	if err != nil {
		return err
	}
	return d.SwitchPlugins(a, b)
}

// RemoveAllPlugins empties the table and disposes every plugin.
func (e *Engine) RemoveAllPlugins() error {
	d, err := e.activeDispatcher("remove-all-plugins")
	if err != nil {
		return err
	}
	return d.RemoveAllPlugins()
}

// Start begins running cycles on the configured driver.
func (e *Engine) Start() error {
	d, err := e.activeDispatcher("start")
	if err != nil {
		return err
	}
	return d.StartEngine()
}

// Stop halts the driver. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() error {
	d, err := e.activeDispatcher("stop")
	if err != nil {
		return err
	}
	return d.StopEngine()
}

func (e *Engine) activeDispatcher(op string) (*Dispatcher, error) {
	e.mu.RLock()
	d := e.dispatcher
	e.mu.RUnlock()
	if d == nil {
		return nil, e.report(contractf(CodeNotInitialized, op, ErrNotInitialized, "engine is not initialized"))
	}
	return d, nil
}

// The methods below run on the dispatcher goroutine.

func (e *Engine) addPlugin(p Plugin) (*Instance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return nil, e.report(contractf(CodeNotInitialized, "add-plugin", ErrNotInitialized, "engine is not initialized"))
	}
	if p == nil {
		return nil, e.report(contractf(CodeInvalidArgument, "add-plugin", nil, "plugin must not be nil"))
	}
	n := e.table.Count()
	if n >= e.table.Capacity() {
		return nil, e.report(fmt.Errorf("%w: %d of %d slots used", ErrTableFull, n, e.table.Capacity()))
	}

	e.table.SetNextID(n)
	defer e.table.SetNextID(e.table.Capacity())

	if !e.running {
		e.cycleMu.Lock()
		defer e.cycleMu.Unlock()
	}
	inst := e.registry.Register(p)
	err := e.mailbox.Exclusive(func() error {
		_, err := e.table.Install(inst)
		return err
	})
	if err != nil {
		e.registry.Forget(inst.UUID)
		if errors.Is(err, mailbox.ErrPending) {
			return nil, e.report(publishError(mailbox.Action{}, err))
		}
		if errors.Is(err, slots.ErrFull) {
			err = fmt.Errorf("%w: %v", ErrTableFull, err)
		}
		return nil, e.report(err)
	}
	e.logger.Debug("plugin added", "plugin", p.Name(), "id", inst.ID(), "uuid", inst.UUID)
	return inst, nil
}

func (e *Engine) removePlugin(id uint) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return "", e.report(contractf(CodeNotInitialized, "remove-plugin", ErrNotInitialized, "engine is not initialized"))
	}
	inst, _ := e.table.Plugin(id).(*Instance)

	e.table.SetNextID(id)
	defer e.table.SetNextID(e.table.Capacity())

	if err := e.requestLocked(context.Background(), mailbox.Action{Opcode: mailbox.OpRemovePlugin, PluginID: id}, true); err != nil {
		return "", err
	}
	if inst == nil {
		return "", nil
	}
	e.dispose(func() error { return e.registry.Dispose(inst.UUID) })
	return inst.Name(), nil
}

func (e *Engine) switchPlugins(a, b uint) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.requestLocked(context.Background(),
		mailbox.Action{Opcode: mailbox.OpSwitchPlugins, PluginID: a, Value: b}, true)
}

func (e *Engine) removeAllPlugins() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return e.report(contractf(CodeNotInitialized, "remove-all-plugins", ErrNotInitialized, "engine is not initialized"))
	}
	if e.table.Count() > 0 {
		e.table.SetNextID(0)
		defer e.table.SetNextID(e.table.Capacity())
		if err := e.requestLocked(context.Background(), mailbox.Action{Opcode: mailbox.OpZeroCount}, true); err != nil {
			return err
		}
	}
	e.dispose(e.registry.DisposeAll)
	return nil
}

// dispose runs fn on the maintenance worker so plugin teardown never
// overlaps their idle calls. Failures are logged.
func (e *Engine) dispose(fn func() error) {
	err := e.worker.RunSync(context.Background(), func(context.Context) error { return fn() })
	if err != nil {
		e.logger.Warn("disposing plugins", "error", err)
	}
}

func (e *Engine) startDriver() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return e.report(contractf(CodeNotInitialized, "start", ErrNotInitialized, "engine is not initialized"))
	}
	if e.running {
		return e.report(contractf(CodeBusy, "start", ErrAlreadyRunning, "engine is already running"))
	}
	if e.driver == nil {
		return e.report(ErrNoDriver)
	}
	if err := e.driver.Start(e.runCycle); err != nil {
		return e.report(fmt.Errorf("start driver: %w", err))
	}
	e.running = true
	e.logger.Info("engine started")
	return nil
}

func (e *Engine) stopDriver() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	return e.stopDriverLocked()
}

func (e *Engine) stopDriverLocked() error {
	err := e.driver.Stop(StopTimeout)
	e.running = false
	if err != nil {
		return e.report(fmt.Errorf("stop driver: %w", err))
	}
	e.logger.Info("engine stopped")
	return nil
}

// idleTask is the maintenance worker tick. It captures the allocations of
// one Init so it never follows pointers Close has released.
func (e *Engine) idleTask(tbl *slots.Table, bufs *events.Buffers, inbox *events.Inbox) func(context.Context) {
	var in, out *events.Buffer
	if bufs != nil {
		in, out = bufs.In, bufs.Out
	}
	var last [3]uint64
	return func(ctx context.Context) {
		tbl.ForEach(func(_ uint, p slots.Plugin) {
			if inst, ok := p.(*Instance); ok {
				if idler, ok := inst.Plugin.(Idler); ok {
					idler.Idle()
				}
			}
		})

		if in == nil || inbox == nil || e.metrics == nil {
			return
		}
		now := [3]uint64{inbox.Dropped(), in.Dropped(), out.Dropped()}
		if now != last {
			e.metrics.OnEventsDropped(now[0]-last[0], now[1]-last[1], now[2]-last[2])
			last = now
		}
	}
}
