package pluginhost

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaban/pluginhost/driver"
	"github.com/shaban/pluginhost/engine/events"
	"github.com/shaban/pluginhost/engine/mailbox"
	"github.com/shaban/pluginhost/engine/setup"
	"github.com/shaban/pluginhost/internal/testutil"
)

// collectingHandler records every reported error.
type collectingHandler struct {
	mu   sync.Mutex
	errs []error
}

func (h *collectingHandler) HandleError(err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func (h *collectingHandler) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func newTestEngine(t *testing.T, mode setup.ProcessMode, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		Options: setup.Options{ProcessMode: mode, BufferSize: 64},
	}, append([]EngineOption{WithErrorHandler(&collectingHandler{})}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, e.Init("test"))
	t.Cleanup(func() {
		if !e.IsInitialized() {
			return
		}
		_ = e.Stop()
		_ = e.RemoveAllPlugins()
		_ = e.Close()
	})
	return e
}

func addFakes(t *testing.T, e *Engine, names ...string) []*testutil.FakePlugin {
	t.Helper()
	fakes := testutil.Plugins(names...)
	for _, p := range fakes {
		_, err := e.AddPlugin(p)
		require.NoError(t, err)
	}
	return fakes
}

// pump runs callback cycles until stopped, standing in for an audio device.
type pump struct {
	cb   *driver.Callback
	stop chan struct{}
	done chan struct{}
}

func startPump(t *testing.T, cb *driver.Callback, frames int) *pump {
	t.Helper()
	p := &pump{cb: cb, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stop:
				return
			default:
			}
			_, _ = cb.Run(frames)
			time.Sleep(200 * time.Microsecond)
		}
	}()
	t.Cleanup(p.Stop)
	return p
}

func (p *pump) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}

// gainPlugin scales audio and records the input it saw.
type gainPlugin struct {
	*testutil.FakePlugin
	gain  float32
	calls atomic.Int32
}

func newGain(name string, gain float32) *gainPlugin {
	return &gainPlugin{FakePlugin: testutil.NewFakePlugin(name), gain: gain}
}

func (g *gainPlugin) Process(frames uint32, audio [][]float32, in, out *events.Buffer) {
	g.calls.Add(1)
	for ch := range audio {
		for i := range audio[ch][:frames] {
			audio[ch][i] *= g.gain
		}
	}
}

// sourcePlugin writes a constant level into every channel.
type sourcePlugin struct {
	*testutil.FakePlugin
	level float32
}

func (s *sourcePlugin) Process(frames uint32, audio [][]float32, _, _ *events.Buffer) {
	for ch := range audio {
		for i := range audio[ch][:frames] {
			audio[ch][i] = s.level
		}
	}
}

type panicPlugin struct{ *testutil.FakePlugin }

func (panicPlugin) Process(uint32, [][]float32, *events.Buffer, *events.Buffer) {
	panic("plugin exploded")
}

func newCallback() *driver.Callback {
	return driver.NewCallback(driver.Config{BufferSize: 64, Channels: AudioChannels})
}

func mailboxZero() mailbox.Opcode { return mailbox.OpZeroCount }

func mailboxRemove(id uint) mailbox.Action {
	return mailbox.Action{Opcode: mailbox.OpRemovePlugin, PluginID: id}
}

func eventFixture() events.Event {
	return events.Control(0, 0, 0, 1)
}

func names(e *Engine) []string {
	var out []string
	for id := uint(0); id < e.PluginCount(); id++ {
		out = append(out, e.Plugin(id).Name())
	}
	return out
}
