// Package transport holds the engine's play/pause state and frame position.
package transport

import (
	"runtime"
	"sync/atomic"
)

// TimeInfo is the externally visible transport snapshot.
type TimeInfo struct {
	Playing bool   `json:"playing" yaml:"playing"`
	Frame   uint64 `json:"frame" yaml:"frame"`
}

const (
	cmdNone int32 = iota
	cmdPause
	cmdPlay
)

// Clock is written by the audio goroutine only. Control goroutines queue
// play/pause/locate commands that the audio goroutine picks up at the next
// Advance, and read the published TimeInfo.
type Clock struct {
	// audio goroutine state
	playing bool
	frame   uint64

	// queued control commands
	play      atomic.Int32
	locate    atomic.Uint64
	locateSet atomic.Bool

	// published snapshot, guarded by a sequence counter
	seq        atomic.Uint64
	pubPlaying atomic.Bool
	pubFrame   atomic.Uint64
}

// Play queues a transition to playing.
func (c *Clock) Play() { c.play.Store(cmdPlay) }

// Pause queues a transition to paused.
func (c *Clock) Pause() { c.play.Store(cmdPause) }

// Locate queues a jump to frame.
func (c *Clock) Locate(frame uint64) {
	c.locate.Store(frame)
	c.locateSet.Store(true)
}

// Advance applies queued commands and then moves the frame forward by
// frames while playing. Audio goroutine only.
func (c *Clock) Advance(frames uint32) {
	switch c.play.Swap(cmdNone) {
	case cmdPlay:
		c.playing = true
	case cmdPause:
		c.playing = false
	}
	if c.locateSet.Swap(false) {
		c.frame = c.locate.Load()
	}
	if c.playing {
		c.frame += uint64(frames)
	}
}

// Current returns the audio goroutine's view of the transport.
func (c *Clock) Current() TimeInfo {
	return TimeInfo{Playing: c.playing, Frame: c.frame}
}

// Publish copies the audio goroutine's state into the visible snapshot.
func (c *Clock) Publish() {
	c.Store(TimeInfo{Playing: c.playing, Frame: c.frame})
}

// Store writes ti into the visible snapshot. Used directly when an external
// clock is authoritative. Concurrent writers are serialized by moving the
// sequence from even to odd; a writer that finds it odd waits its turn.
func (c *Clock) Store(ti TimeInfo) {
	for {
		s := c.seq.Load()
		if s&1 == 0 && c.seq.CompareAndSwap(s, s+1) {
			break
		}
		runtime.Gosched()
	}
	c.pubPlaying.Store(ti.Playing)
	c.pubFrame.Store(ti.Frame)
	c.seq.Add(1)
}

// Snapshot returns the last published TimeInfo. Never returns a torn pair.
func (c *Clock) Snapshot() TimeInfo {
	for {
		s1 := c.seq.Load()
		if s1&1 == 1 {
			runtime.Gosched()
			continue
		}
		ti := TimeInfo{Playing: c.pubPlaying.Load(), Frame: c.pubFrame.Load()}
		if c.seq.Load() == s1 {
			return ti
		}
	}
}

// Reset returns the clock to stopped at frame 0 and drops queued commands.
// Only valid while no audio goroutine is running.
func (c *Clock) Reset() {
	c.playing = false
	c.frame = 0
	c.play.Store(cmdNone)
	c.locateSet.Store(false)
	c.locate.Store(0)
	c.Store(TimeInfo{})
}
