// Package script exposes the engine's control surface to Lua.
//
// Scripts load the "host" module:
//
//	local host = require("host")
//	local id = host.add("gain")
//	host.control(0, 0, 0.5)
//	host.play()
//
// Slot ids are the engine's, starting at 0.
package script

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"gitlab.com/gomidi/midi/v2"

	"github.com/shaban/pluginhost"
	"github.com/shaban/pluginhost/engine/events"
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger behind host.log.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithOutput sets where host.print writes.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// Runner executes control scripts against one engine.
type Runner struct {
	engine  *pluginhost.Engine
	factory pluginhost.PluginFactory
	logger  *slog.Logger
	out     io.Writer
}

// New creates a runner. factory builds plugins for host.add.
func New(e *pluginhost.Engine, factory pluginhost.PluginFactory, opts ...Option) *Runner {
	r := &Runner{engine: e, factory: factory, logger: slog.Default(), out: io.Discard}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "script")
	return r
}

// RunString executes src. ctx cancels a running script.
func (r *Runner) RunString(ctx context.Context, src string) error {
	L := r.newState(ctx)
	defer L.Close()
	if err := L.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// RunFile executes the script at path.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	L := r.newState(ctx)
	defer L.Close()
	if err := L.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return nil
}

// Session is a Lua state that lives across several chunks, with the host
// module bound to the global "host". Not safe for concurrent use.
type Session struct {
	L *lua.LState
}

// NewSession opens a session. ctx bounds every chunk it runs.
func (r *Runner) NewSession(ctx context.Context) (*Session, error) {
	L := r.newState(ctx)
	if err := L.DoString(`host = require("host")`); err != nil {
		L.Close()
		return nil, fmt.Errorf("script: %w", err)
	}
	return &Session{L: L}, nil
}

// Exec runs one chunk. Globals persist between calls.
func (s *Session) Exec(src string) error {
	if err := s.L.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// Close releases the Lua state.
func (s *Session) Close() { s.L.Close() }

func (r *Runner) newState(ctx context.Context) *lua.LState {
	L := lua.NewState()
	L.SetContext(ctx)
	L.PreloadModule("host", r.loader)
	return L
}

func (r *Runner) loader(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"add":     r.add,
		"remove":  r.remove,
		"switch":  r.switchPlugins,
		"clear":   r.clear,
		"count":   r.count,
		"max":     r.max,
		"plugins": r.plugins,
		"play":    r.play,
		"pause":   r.pause,
		"locate":  r.locate,
		"time":    r.time,
		"note":    r.note,
		"control": r.control,
		"sleep":   r.sleep,
		"name":    r.name,
		"log":     r.log,
		"print":   r.print,
	})
	L.Push(mod)
	return 1
}

func (r *Runner) check(L *lua.LState, err error) {
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
}

func slotArg(L *lua.LState, n int) uint {
	v := L.CheckInt(n)
	if v < 0 {
		L.ArgError(n, "slot id must not be negative")
	}
	return uint(v)
}

func (r *Runner) add(L *lua.LState) int {
	name := L.CheckString(1)
	p, err := r.factory(name)
	r.check(L, err)
	inst, err := r.engine.AddPlugin(p)
	if err != nil {
		_ = p.Close()
	}
	r.check(L, err)
	L.Push(lua.LNumber(inst.ID()))
	return 1
}

func (r *Runner) remove(L *lua.LState) int {
	r.check(L, r.engine.RemovePlugin(slotArg(L, 1)))
	return 0
}

func (r *Runner) switchPlugins(L *lua.LState) int {
	r.check(L, r.engine.SwitchPlugins(slotArg(L, 1), slotArg(L, 2)))
	return 0
}

func (r *Runner) clear(L *lua.LState) int {
	r.check(L, r.engine.RemoveAllPlugins())
	return 0
}

func (r *Runner) count(L *lua.LState) int {
	L.Push(lua.LNumber(r.engine.PluginCount()))
	return 1
}

func (r *Runner) max(L *lua.LState) int {
	L.Push(lua.LNumber(r.engine.MaxPluginNumber()))
	return 1
}

// plugins returns an array of names in slot order.
func (r *Runner) plugins(L *lua.LState) int {
	t := L.NewTable()
	for _, ps := range r.engine.Snapshot().Plugins {
		t.Append(lua.LString(ps.Name))
	}
	L.Push(t)
	return 1
}

func (r *Runner) play(L *lua.LState) int {
	r.engine.SetPlaying(true)
	return 0
}

func (r *Runner) pause(L *lua.LState) int {
	r.engine.SetPlaying(false)
	return 0
}

func (r *Runner) locate(L *lua.LState) int {
	frame := L.CheckInt64(1)
	if frame < 0 {
		L.ArgError(1, "frame must not be negative")
	}
	r.engine.Locate(uint64(frame))
	return 0
}

func (r *Runner) time(L *lua.LState) int {
	ti := r.engine.TimeInfo()
	L.Push(lua.LBool(ti.Playing))
	L.Push(lua.LNumber(ti.Frame))
	return 2
}

// note(channel, key, velocity) queues a note-on; velocity 0 queues a
// note-off. Returns false when the event could not be queued.
func (r *Runner) note(L *lua.LState) int {
	ch := uint8(L.CheckInt(1))
	key := uint8(L.CheckInt(2))
	vel := uint8(L.OptInt(3, 100))
	msg := midi.NoteOn(ch, key, vel)
	if vel == 0 {
		msg = midi.NoteOff(ch, key)
	}
	ev, err := events.MIDI(0, msg)
	r.check(L, err)
	L.Push(lua.LBool(r.engine.QueueEvent(ev)))
	return 1
}

func (r *Runner) control(L *lua.LState) int {
	ch := uint8(L.CheckInt(1))
	param := uint16(L.CheckInt(2))
	value := float32(L.CheckNumber(3))
	L.Push(lua.LBool(r.engine.QueueEvent(events.Control(0, ch, param, value))))
	return 1
}

func (r *Runner) sleep(L *lua.LState) int {
	d := time.Duration(L.CheckInt(1)) * time.Millisecond
	select {
	case <-time.After(d):
	case <-L.Context().Done():
		L.RaiseError("%s", L.Context().Err().Error())
	}
	return 0
}

func (r *Runner) name(L *lua.LState) int {
	L.Push(lua.LString(r.engine.Name()))
	return 1
}

func (r *Runner) log(L *lua.LState) int {
	r.logger.Info(L.CheckString(1))
	return 0
}

func (r *Runner) print(L *lua.LState) int {
	// Tab separated, like Lua's own print.
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.Get(i).String())
	}
	fmt.Fprintln(r.out, strings.Join(parts, "\t"))
	return 0
}
