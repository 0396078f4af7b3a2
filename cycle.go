package pluginhost

import (
	"fmt"

	"github.com/shaban/pluginhost/engine/events"
	"github.com/shaban/pluginhost/engine/mailbox"
	"github.com/shaban/pluginhost/engine/setup"
	"github.com/shaban/pluginhost/engine/slots"
	"github.com/shaban/pluginhost/engine/transport"
)

// Cycle is the audio goroutine's view of one cycle. It is only valid inside
// the ProcessFunc it was passed to.
type Cycle struct {
	e      *Engine
	frames uint32
	audio  [][]float32
	time   transport.TimeInfo
}

// Frames returns the number of frames in this cycle.
func (c *Cycle) Frames() uint32 { return c.frames }

// Audio returns one slice per channel, Frames() long, processed in place.
func (c *Cycle) Audio() [][]float32 { return c.audio }

// Time returns the transport position at the start of the cycle.
func (c *Cycle) Time() transport.TimeInfo { return c.time }

// In returns the inbound event buffer, nil without event routing.
func (c *Cycle) In() *events.Buffer {
	if c.e.buffers == nil {
		return nil
	}
	return c.e.buffers.In
}

// Out returns the outbound event buffer, nil without event routing.
func (c *Cycle) Out() *events.Buffer {
	if c.e.buffers == nil {
		return nil
	}
	return c.e.buffers.Out
}

// PluginCount returns the number of active plugins.
func (c *Cycle) PluginCount() uint { return c.e.table.Count() }

// ForEach calls fn for each active plugin in slot order.
func (c *Cycle) ForEach(fn func(id uint, inst *Instance)) {
	c.e.table.ForEach(func(id uint, p slots.Plugin) {
		if inst, ok := p.(*Instance); ok {
			fn(id, inst)
		}
	})
}

// SetPeaks records the meters for slot id.
func (c *Cycle) SetPeaks(id uint, in, out slots.Peaks) { c.e.table.SetPeaks(id, in, out) }

// RequestInline publishes and applies a structural action immediately, from
// the audio goroutine. It must not be called from inside ForEach.
func (c *Cycle) RequestInline(op mailbox.Opcode, pluginID, value uint) error {
	a := mailbox.Action{Opcode: op, PluginID: pluginID, Value: value}
	if _, err := c.e.mailbox.Publish(a); err != nil {
		return publishError(a, err)
	}
	_, err := c.e.mailbox.ConsumeAndApply(c.e.table)
	return err
}

// end is the cycle guard's closing half: apply the pending action, advance
// the transport, then publish it when the engine owns the clock.
func (c *Cycle) end() {
	e := c.e
	if a, err := e.mailbox.ConsumeAndApply(e.table); err != nil {
		e.logger.Error("pending action failed in audio cycle", "action", a.String(), "error", err)
	}
	e.clock.Advance(c.frames)
	if setup.TransportMode(e.transportMode.Load()) == setup.TransportInternal {
		e.clock.Publish()
	}
	e.cycles.Add(1)
	if e.metrics != nil {
		e.metrics.OnCycle(c.frames)
	}
}

// Process runs one audio cycle of frames over the engine's own audio
// buffers, for offline rendering while no driver is running. Calls must come
// from one goroutine. Structural requests and AddPlugin made meanwhile wait
// for the cycle to end, so body must not call them; it uses
// Cycle.RequestInline instead.
func (e *Engine) Process(frames uint32, body ProcessFunc) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	if !e.live.Load() {
		return ErrNotInitialized
	}
	if int(frames) > len(e.audio[0]) {
		return fmt.Errorf("%w: %d > %d", ErrCycleTooLarge, frames, len(e.audio[0]))
	}
	e.process(frames, body)
	return nil
}

// LastAudio returns the audio of the last cycle, one slice per channel.
// Same goroutine as Process only.
func (e *Engine) LastAudio() [][]float32 { return e.cycle.audio }

func (e *Engine) process(frames uint32, body ProcessFunc) {
	c := &e.cycle
	c.frames = frames
	c.time = e.clock.Current()
	for ch := range e.audio {
		buf := e.audio[ch][:frames]
		clear(buf)
		c.audio[ch] = buf
	}
	if e.buffers != nil {
		e.buffers.Clear()
		if q := e.inbox.Load(); q != nil {
			q.DrainInto(e.buffers.In)
		}
	}

	defer c.end()
	e.runBody(body, c)
}

// runBody keeps a panicking body from unwinding through the driver.
func (e *Engine) runBody(body ProcessFunc, c *Cycle) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			e.logger.Error("audio cycle panicked", "panic", r)
		}
	}()
	if body != nil {
		body(c)
	}
}

// runCycle is the callback handed to the driver. It splits out into blocks
// of at most the configured buffer size.
func (e *Engine) runCycle(out [][]float32) {
	if len(out) == 0 || !e.live.Load() {
		return
	}
	total := len(out[0])
	block := len(e.audio[0])
	for off := 0; off < total; off += block {
		n := min(block, total-off)
		e.process(uint32(n), e.processFunc)
		for ch := range out {
			src := e.audio[min(ch, len(e.audio)-1)][:n]
			copy(out[ch][off:off+n], src)
		}
	}
}

// DefaultProcess runs every Processor plugin in slot order over the cycle's
// audio and records peak meters around each one.
func DefaultProcess(c *Cycle) {
	in, out := c.In(), c.Out()
	c.ForEach(func(id uint, inst *Instance) {
		p := inst.processor()
		if p == nil {
			return
		}
		before := peaks(c.audio)
		p.Process(c.frames, c.audio, in, out)
		c.SetPeaks(id, before, peaks(c.audio))
	})
}

func peaks(audio [][]float32) slots.Peaks {
	var pk slots.Peaks
	for ch := 0; ch < len(audio) && ch < len(pk); ch++ {
		for _, s := range audio[ch] {
			if s < 0 {
				s = -s
			}
			if s > pk[ch] {
				pk[ch] = s
			}
		}
	}
	return pk
}
