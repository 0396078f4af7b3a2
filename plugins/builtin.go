package plugins

import (
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/shaban/pluginhost/engine/events"
)

type passthrough struct{ base }

func (p *passthrough) Process(uint32, [][]float32, *events.Buffer, *events.Buffer) {}

type gain struct{ base }

func (g *gain) Process(frames uint32, audio [][]float32, in, _ *events.Buffer) {
	g.applyControls(in)
	k := g.param(0)
	if k == 1 {
		return
	}
	for _, ch := range audio {
		for i := range ch[:frames] {
			ch[i] *= k
		}
	}
}

// tone is a monophonic sine voice. The last note-on wins; a note-off for
// the sounding key silences it.
type tone struct {
	base
	sampleRate float64

	// audio goroutine only
	key   uint8
	on    bool
	phase float64
}

func (t *tone) Process(frames uint32, audio [][]float32, in, _ *events.Buffer) {
	t.applyControls(in)
	if in != nil {
		for _, ev := range in.Events() {
			if ev.Kind != events.KindMIDI {
				continue
			}
			var ch, key, vel uint8
			msg := ev.Message()
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				t.key, t.on = key, true
			case msg.GetNoteEnd(&ch, &key):
				if key == t.key {
					t.on = false
				}
			}
		}
	}
	if !t.on || len(audio) == 0 {
		return
	}

	level := float64(t.param(0))
	step := 2 * math.Pi * noteHz(t.key) / t.sampleRate
	for i := uint32(0); i < frames; i++ {
		s := float32(level * math.Sin(t.phase))
		for _, ch := range audio {
			ch[i] += s
		}
		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
}

func noteHz(key uint8) float64 {
	return 440 * math.Pow(2, (float64(key)-69)/12)
}

// monitor counts note-ons and copies inbound MIDI to the outbound buffer.
// The count is logged from the maintenance worker, never from the audio
// goroutine.
type monitor struct {
	base
	notes    atomic.Uint64
	reported uint64
}

func (m *monitor) Process(_ uint32, _ [][]float32, in, out *events.Buffer) {
	if in == nil {
		return
	}
	for _, ev := range in.Events() {
		if ev.Kind != events.KindMIDI {
			continue
		}
		var ch, key, vel uint8
		if ev.Message().GetNoteStart(&ch, &key, &vel) {
			m.notes.Add(1)
		}
		if out != nil {
			out.Push(ev)
		}
	}
}

// Notes returns the number of note-ons seen.
func (m *monitor) Notes() uint64 { return m.notes.Load() }

func (m *monitor) Idle() {
	n := m.notes.Load()
	if n == m.reported {
		return
	}
	slog.Debug("notes seen", "plugin", m.Name(), "id", m.ID(), "notes", n, "new", n-m.reported)
	m.reported = n
}

// NoteCounter is implemented by plugins that count notes.
type NoteCounter interface {
	Notes() uint64
}
