package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/shaban/pluginhost/engine/analyze"
	"github.com/shaban/pluginhost/engine/events"
)

func stereo(frames int, v float32) [][]float32 {
	out := make([][]float32, 2)
	for ch := range out {
		out[ch] = make([]float32, frames)
		for i := range out[ch] {
			out[ch][i] = v
		}
	}
	return out
}

func TestList(t *testing.T) {
	infos := List()
	assert.Equal(t, []string{"gain", "monitor", "passthrough", "tone"}, infos.Names())
	assert.Equal(t, []string{"tone"}, infos.ByCategory(CategoryInstrument).Names())
	assert.Equal(t, []string{"passthrough"}, infos.ByName("PASS").Names())
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("reverb", 48000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: gain, monitor, passthrough, tone")
}

func TestIdentityAndClose(t *testing.T) {
	p, err := New("passthrough", 48000)
	require.NoError(t, err)
	p.SetID(7)
	assert.Equal(t, uint(7), p.ID())
	assert.Equal(t, "passthrough", p.Name())
	assert.NoError(t, p.Close())
	assert.Error(t, p.Close())
}

func TestGain_ControlEventSetsParameter(t *testing.T) {
	p, err := New("gain", 48000)
	require.NoError(t, err)

	in := events.NewBuffer(4)
	in.Push(events.Control(0, 0, 0, 0.5))
	audio := stereo(8, 1)
	p.Process(8, audio, in, nil)

	v, ok := p.Parameter(0)
	require.True(t, ok)
	assert.Equal(t, float32(0.5), v)
	assert.Equal(t, float32(0.5), audio[0][0])
	assert.Equal(t, float32(0.5), audio[1][7])

	require.NoError(t, p.SetParameter(0, 10))
	v, _ = p.Parameter(0)
	assert.Equal(t, float32(2), v, "clamped to max")
	assert.Error(t, p.SetParameter(3, 1))
}

func TestTone_NoteOnOff(t *testing.T) {
	p, err := New("tone", 48000)
	require.NoError(t, err)

	in := events.NewBuffer(4)
	on, err := events.MIDI(0, midi.NoteOn(0, 69, 100))
	require.NoError(t, err)
	in.Push(on)

	audio := stereo(64, 0)
	p.Process(64, audio, in, nil)
	var peak float32
	for _, s := range audio[0] {
		peak = max(peak, s)
	}
	assert.Greater(t, peak, float32(0.1))

	in.Clear()
	off, err := events.MIDI(0, midi.NoteOff(0, 69))
	require.NoError(t, err)
	in.Push(off)
	audio = stereo(64, 0)
	p.Process(64, audio, in, nil)
	assert.Equal(t, float32(0), audio[0][10])
}

func TestToneThroughGain_Level(t *testing.T) {
	src, err := New("tone", 48000)
	require.NoError(t, err)
	g, err := New("gain", 48000)
	require.NoError(t, err)
	require.NoError(t, g.SetParameter(0, 0.5))

	in := events.NewBuffer(4)
	on, err := events.MIDI(0, midi.NoteOn(0, 57, 100))
	require.NoError(t, err)
	in.Push(on)

	var before, after analyze.Tap
	for i := 0; i < 8; i++ {
		audio := stereo(256, 0)
		src.Process(256, audio, in, nil)
		before.Add(audio)
		g.Process(256, audio, nil, nil)
		after.Add(audio)
		in.Clear()
	}

	chain := analyze.AnalyzePluginChain(before.Metrics(), after.Metrics())
	assert.NoError(t, analyze.ValidateChainAnalysis(chain, -6, analyze.DefaultAnalysisConfig()))
	assert.NoError(t, analyze.ValidateStereoAnalysis(analyze.AnalyzeStereo(&after), 0, analyze.DefaultAnalysisConfig()))
	assert.Equal(t, 2048, after.Metrics().FrameCount)
}

func TestMonitor_CountsAndForwards(t *testing.T) {
	p, err := New("monitor", 48000)
	require.NoError(t, err)

	in, out := events.NewBuffer(8), events.NewBuffer(8)
	for _, key := range []uint8{60, 64, 67} {
		ev, err := events.MIDI(0, midi.NoteOn(1, key, 90))
		require.NoError(t, err)
		in.Push(ev)
	}
	in.Push(events.Control(0, 1, 3, 0.2))

	p.Process(32, stereo(32, 0), in, out)
	assert.Equal(t, uint64(3), p.(NoteCounter).Notes())
	assert.Equal(t, 3, out.Len())

	idler, ok := p.(interface{ Idle() })
	require.True(t, ok)
	idler.Idle()
}

func TestNoteHz(t *testing.T) {
	assert.InDelta(t, 440.0, noteHz(69), 1e-9)
	assert.InDelta(t, 880.0, noteHz(81), 1e-9)
}
