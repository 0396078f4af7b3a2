package pluginhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DispatcherOperation represents a structural change request
type DispatcherOperation struct {
	Type     OperationType
	Data     interface{}
	Response chan DispatcherResult
}

// OperationType represents the type of dispatcher operation
type OperationType string

const (
	OpAddPlugin        OperationType = "add_plugin"
	OpRemovePlugin     OperationType = "remove_plugin"
	OpSwitchPlugins    OperationType = "switch_plugins"
	OpRemoveAllPlugins OperationType = "remove_all_plugins"
	OpStartEngine      OperationType = "start"
	OpStopEngine       OperationType = "stop"
)

// DispatcherResult represents the result of a dispatcher operation
type DispatcherResult struct {
	Success bool
	Data    interface{}
	Error   error
}

// SwitchPluginsData carries the two slot ids of a switch.
type SwitchPluginsData struct {
	A, B uint
}

// Journal records completed structural operations. Record runs on the
// dispatcher goroutine after the operation finished; errors are logged.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}

// JournalEntry is one completed dispatcher operation.
type JournalEntry struct {
	Time      time.Time     `json:"time" yaml:"time"`
	Engine    string        `json:"engine" yaml:"engine"`
	Operation OperationType `json:"operation" yaml:"operation"`
	PluginID  uint          `json:"plugin_id" yaml:"plugin_id"`
	Value     uint          `json:"value" yaml:"value"`
	Plugin    string        `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Dispatcher serializes structural changes so at most one of them is in
// flight, which keeps the single-slot mailbox free for it.
type Dispatcher struct {
	engine     *Engine
	logger     *slog.Logger
	mu         sync.RWMutex
	isRunning  bool
	operations chan DispatcherOperation
	stopChan   chan struct{}
	done       chan struct{}

	// Performance tracking
	lastOperationDuration time.Duration
	maxOperationDuration  time.Duration
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(engine *Engine) *Dispatcher {
	return &Dispatcher{
		engine:               engine,
		logger:               engine.logger.With("component", "dispatcher"),
		operations:           make(chan DispatcherOperation, 100),
		stopChan:             make(chan struct{}),
		done:                 make(chan struct{}),
		maxOperationDuration: 300 * time.Millisecond,
	}
}

// Start begins the dispatcher loop
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("dispatcher is already running")
	}

	d.isRunning = true
	go d.dispatchLoop()

	return nil
}

// Stop halts the dispatcher. Operations already queued are answered with
// ErrNotInitialized; it does not wait for an operation in progress.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isRunning {
		return
	}

	close(d.stopChan)
	d.isRunning = false
}

// IsRunning returns whether the dispatcher is active
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}

// GetPerformanceStats returns dispatcher performance statistics
func (d *Dispatcher) GetPerformanceStats() (lastDuration, maxDuration time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastOperationDuration, d.maxOperationDuration
}

func (d *Dispatcher) dispatchLoop() {
	defer close(d.done)
	for {
		select {
		case <-d.stopChan:
			d.drain()
			return
		case op := <-d.operations:
			start := time.Now()
			result := d.executeOperation(op)
			duration := time.Since(start)

			d.mu.Lock()
			d.lastOperationDuration = duration
			d.mu.Unlock()
			if duration > d.maxOperationDuration {
				d.engine.errorHandler.HandleError(
					fmt.Errorf("%s took %v, target is under %v", op.Type, duration, d.maxOperationDuration))
			}

			d.record(op, result, start, duration)
			op.Response <- result
		}
	}
}

// drain answers operations that were queued but never run.
func (d *Dispatcher) drain() {
	for {
		select {
		case op := <-d.operations:
			op.Response <- DispatcherResult{Error: ErrNotInitialized}
		default:
			return
		}
	}
}

func (d *Dispatcher) executeOperation(op DispatcherOperation) DispatcherResult {
	switch op.Type {
	case OpAddPlugin:
		inst, err := d.engine.addPlugin(op.Data.(Plugin))
		return DispatcherResult{Success: err == nil, Data: inst, Error: err}

	case OpRemovePlugin:
		name, err := d.engine.removePlugin(op.Data.(uint))
		return DispatcherResult{Success: err == nil, Data: name, Error: err}

	case OpSwitchPlugins:
		data := op.Data.(SwitchPluginsData)
		err := d.engine.switchPlugins(data.A, data.B)
		return DispatcherResult{Success: err == nil, Error: err}

	case OpRemoveAllPlugins:
		err := d.engine.removeAllPlugins()
		return DispatcherResult{Success: err == nil, Error: err}

	case OpStartEngine:
		err := d.engine.startDriver()
		return DispatcherResult{Success: err == nil, Error: err}

	case OpStopEngine:
		err := d.engine.stopDriver()
		return DispatcherResult{Success: err == nil, Error: err}

	default:
		return DispatcherResult{
			Success: false,
			Error:   fmt.Errorf("unknown operation type: %s", op.Type),
		}
	}
}

func (d *Dispatcher) record(op DispatcherOperation, result DispatcherResult, start time.Time, duration time.Duration) {
	j := d.engine.journal
	if j == nil {
		return
	}
	entry := JournalEntry{
		Time:      start,
		Engine:    d.engine.Name(),
		Operation: op.Type,
		Duration:  duration,
	}
	switch data := op.Data.(type) {
	case Plugin:
		entry.Plugin = data.Name()
		if inst, ok := result.Data.(*Instance); ok && inst != nil {
			entry.PluginID = inst.ID()
		}
	case uint:
		entry.PluginID = data
		if name, ok := result.Data.(string); ok {
			entry.Plugin = name
		}
	case SwitchPluginsData:
		entry.PluginID, entry.Value = data.A, data.B
	}
	if result.Error != nil {
		entry.Error = result.Error.Error()
	}
	if err := j.Record(context.Background(), entry); err != nil {
		d.logger.Warn("journal record failed", "operation", op.Type, "error", err)
	}
}

// submit queues op and waits for its result.
func (d *Dispatcher) submit(typ OperationType, data interface{}) DispatcherResult {
	op := DispatcherOperation{
		Type:     typ,
		Data:     data,
		Response: make(chan DispatcherResult, 1),
	}

	select {
	case d.operations <- op:
	case <-d.stopChan:
		return DispatcherResult{Error: ErrNotInitialized}
	}

	select {
	case result := <-op.Response:
		return result
	case <-d.done:
		select {
		case result := <-op.Response:
			return result
		default:
			return DispatcherResult{Error: ErrNotInitialized}
		}
	}
}

// AddPlugin installs p via the dispatcher
func (d *Dispatcher) AddPlugin(p Plugin) (*Instance, error) {
	result := d.submit(OpAddPlugin, p)
	if result.Success {
		return result.Data.(*Instance), nil
	}
	return nil, result.Error
}

// RemovePlugin removes the plugin at slot id via the dispatcher
func (d *Dispatcher) RemovePlugin(id uint) error {
	return d.submit(OpRemovePlugin, id).Error
}

// SwitchPlugins exchanges two slots via the dispatcher
func (d *Dispatcher) SwitchPlugins(a, b uint) error {
	return d.submit(OpSwitchPlugins, SwitchPluginsData{A: a, B: b}).Error
}

// RemoveAllPlugins empties the table via the dispatcher
func (d *Dispatcher) RemoveAllPlugins() error {
	return d.submit(OpRemoveAllPlugins, nil).Error
}

// StartEngine starts the driver via the dispatcher
func (d *Dispatcher) StartEngine() error {
	return d.submit(OpStartEngine, nil).Error
}

// StopEngine stops the driver via the dispatcher
func (d *Dispatcher) StopEngine() error {
	return d.submit(OpStopEngine, nil).Error
}
