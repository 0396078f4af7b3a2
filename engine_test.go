package pluginhost

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaban/pluginhost/engine/setup"
)

func TestNewEngine_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    setup.Options
		wantErr bool
	}{
		{"defaults", setup.Options{}, false},
		{"sample rate too low", setup.Options{SampleRate: 4000}, true},
		{"sample rate too high", setup.Options{SampleRate: 400000}, true},
		{"buffer too small", setup.Options{BufferSize: 8}, true},
		{"buffer too large", setup.Options{BufferSize: 8192}, true},
		{"negative buffer", setup.Options{BufferSize: -1}, true},
		{"explicit", setup.Options{SampleRate: 44100, BufferSize: 128}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(EngineConfig{Options: tt.opts})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.False(t, e.IsInitialized())
			assert.False(t, e.IsRunning())
			assert.Zero(t, e.MaxPluginNumber())
		})
	}
}

func TestInit_CapacityPerMode(t *testing.T) {
	tests := []struct {
		mode       setup.ProcessMode
		max        uint
		events     bool
		stereo bool
	}{
		{setup.ProcessModeDefault, 99, false, false},
		{setup.ProcessModeContinuousRack, 16, true, true},
		{setup.ProcessModePatchbay, 255, true, false},
		{setup.ProcessModeBridge, 1, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			e := newTestEngine(t, tt.mode)
			assert.Equal(t, tt.max, e.MaxPluginNumber())
			assert.Zero(t, e.PluginCount())

			l := e.Layout()
			assert.Equal(t, tt.events, l.EventCapacity > 0)
			assert.Equal(t, tt.stereo, l.ForceStereo)
			assert.Equal(t, tt.stereo, e.Options().ForceStereo)

			require.NoError(t, e.Process(64, func(c *Cycle) {
				assert.Equal(t, tt.events, c.In() != nil)
				assert.Equal(t, tt.events, c.Out() != nil)
			}))
		})
	}
}

func TestLifecycle_RoundTrip(t *testing.T) {
	e, err := NewEngine(EngineConfig{Options: setup.Options{ProcessMode: setup.ProcessModePatchbay}})
	require.NoError(t, err)

	for round := 0; round < 3; round++ {
		require.NoError(t, e.Init("round trip"))
		assert.True(t, e.IsInitialized())
		assert.Equal(t, "round_trip", e.Name())

		fakes := addFakes(t, e, "a", "b")
		e.Locate(500)
		e.SetPlaying(true)
		require.NoError(t, e.Process(64, nil))
		assert.Equal(t, uint64(564), e.TimeInfo().Frame)

		require.NoError(t, e.RemoveAllPlugins())
		for _, p := range fakes {
			assert.True(t, p.Closed())
		}
		require.NoError(t, e.Close())

		assert.False(t, e.IsInitialized())
		assert.Zero(t, e.PluginCount())
		assert.Zero(t, e.MaxPluginNumber())
		assert.Empty(t, e.Name())
		assert.Equal(t, uint64(0), e.TimeInfo().Frame)
		assert.False(t, e.TimeInfo().Playing)
		assert.False(t, e.QueueEvent(eventFixture()))
		assert.ErrorIs(t, e.Process(64, nil), ErrNotInitialized)
	}
}

func TestInit_Twice(t *testing.T) {
	e := newTestEngine(t, setup.ProcessModeDefault)
	err := e.Init("again")
	require.Error(t, err)
	assert.True(t, IsContractViolation(err))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, "test", e.Name())
}

func TestInit_EmptyName(t *testing.T) {
	e, err := NewEngine(EngineConfig{})
	require.NoError(t, err)
	err = e.Init("   ")
	require.Error(t, err)
	var ce *ContractError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeInvalidArgument, ce.Code)
	assert.False(t, e.IsInitialized())
}

func TestClose_Twice(t *testing.T) {
	e, err := NewEngine(EngineConfig{}, WithErrorHandler(&collectingHandler{}))
	require.NoError(t, err)
	require.NoError(t, e.Init("x"))
	require.NoError(t, e.Close())

	err = e.Close()
	require.Error(t, err)
	assert.True(t, IsContractViolation(err))
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestClose_RefusedWhileAddInProgress(t *testing.T) {
	e := newTestEngine(t, setup.ProcessModeDefault)
	e.table.SetNextID(0)

	err := e.Close()
	var ce *ContractError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeBusy, ce.Code)
	assert.True(t, e.IsInitialized())

	e.table.SetNextID(e.table.Capacity())
}

func TestClose_RefusedWhileActionPending(t *testing.T) {
	e := newTestEngine(t, setup.ProcessModeDefault)
	addFakes(t, e, "a", "b")
	_, err := e.mailbox.Publish(mailboxRemove(0))
	require.NoError(t, err)

	err = e.Close()
	assert.ErrorIs(t, err, ErrActionPending)
	assert.True(t, e.IsInitialized())

	// Draining the mailbox lets Close through.
	require.NoError(t, e.Process(64, nil))
	assert.Equal(t, uint(1), e.PluginCount())
}

func TestClose_DisposesRemainingPlugins(t *testing.T) {
	e, err := NewEngine(EngineConfig{})
	require.NoError(t, err)
	require.NoError(t, e.Init("x"))
	fakes := addFakes(t, e, "a", "b", "c")

	require.NoError(t, e.Close())
	for _, p := range fakes {
		assert.True(t, p.Closed(), p.Name())
	}
}

func TestClose_StopsRunningDriver(t *testing.T) {
	cb := newCallback()
	e, err := NewEngine(EngineConfig{Options: setup.Options{BufferSize: 64}}, WithDriver(cb))
	require.NoError(t, err)
	require.NoError(t, e.Init("x"))
	require.NoError(t, e.Start())
	assert.True(t, e.IsRunning())

	start := time.Now()
	require.NoError(t, e.Close())
	assert.Less(t, time.Since(start), 2*StopTimeout)
	assert.False(t, e.IsRunning())
	assert.False(t, cb.Running())
}

func TestStart_Preconditions(t *testing.T) {
	e, err := NewEngine(EngineConfig{}, WithErrorHandler(&collectingHandler{}))
	require.NoError(t, err)
	assert.ErrorIs(t, e.Start(), ErrNotInitialized)

	require.NoError(t, e.Init("x"))
	defer e.Close()
	assert.ErrorIs(t, e.Start(), ErrNoDriver)
	assert.NoError(t, e.Stop())
}

func TestStart_Twice(t *testing.T) {
	e := newTestEngine(t, setup.ProcessModeDefault, WithDriver(newCallback()))
	require.NoError(t, e.Start())
	err := e.Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	assert.False(t, e.IsRunning())
}

func TestOperationsBeforeInit(t *testing.T) {
	h := &collectingHandler{}
	e, err := NewEngine(EngineConfig{}, WithErrorHandler(h))
	require.NoError(t, err)

	_, err = e.AddPlugin(nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, e.RemovePlugin(0), ErrNotInitialized)
	assert.ErrorIs(t, e.SwitchPlugins(0, 1), ErrNotInitialized)
	assert.ErrorIs(t, e.RemoveAllPlugins(), ErrNotInitialized)
	assert.ErrorIs(t, e.RequestAction(mailboxZero(), 0, 0, true), ErrNotInitialized)
	assert.Nil(t, e.Plugin(0))
	assert.Len(t, h.Errors(), 5)
	for _, err := range h.Errors() {
		assert.True(t, errors.Is(err, ErrContractViolation), err)
	}
}

func TestEnvironment(t *testing.T) {
	e := newTestEngine(t, setup.ProcessModeDefault)

	require.NoError(t, e.SetName(" my host-1 "))
	assert.Equal(t, "my_host_1", e.Name())
	assert.True(t, IsContractViolation(e.SetName("")))

	e.WithEnvironment(func(env *Environment) {
		env.Options.TransportMode = setup.TransportExternal
	})
	assert.Equal(t, setup.TransportExternal, e.Options().TransportMode)
	require.NoError(t, e.SetExternalTime(true, 4800))
	assert.Equal(t, uint64(4800), e.TimeInfo().Frame)

	// The engine does not publish its own clock in external mode.
	require.NoError(t, e.Process(64, nil))
	assert.Equal(t, uint64(4800), e.TimeInfo().Frame)

	opts := e.Options()
	opts.TransportMode = setup.TransportInternal
	e.SetOptions(opts)
	assert.True(t, IsContractViolation(e.SetExternalTime(false, 0)))
}

func TestBasicName(t *testing.T) {
	tests := map[string]string{
		"plain":        "plain",
		"  padded  ":   "padded",
		"with space":   "with_space",
		"dash-dot.x":   "dash_dot_x",
		"Ünïcode":      "Unicode",
		"ﬁlter²":       "filter2",
		"日本":           "__",
		"under_score9": "under_score9",
		"":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, basicName(in), in)
	}
}

func TestErrors_ContractError(t *testing.T) {
	err := contractf(CodeActionPending, "request-action", ErrActionPending, "%s rejected", "remove-plugin(1)")
	assert.Equal(t, "ACTION_PENDING: request-action: remove-plugin(1) rejected", err.Error())
	assert.ErrorIs(t, err, ErrContractViolation)
	assert.ErrorIs(t, err, ErrActionPending)
	assert.NotErrorIs(t, err, ErrTimeout)

	var ce *ContractError
	require.ErrorAs(t, errors.Join(errors.New("other"), err), &ce)
	assert.Equal(t, CodeActionPending, ce.Code)

	bare := contractf(CodeUnsupported, "", nil, "nope")
	assert.Equal(t, "UNSUPPORTED: nope", bare.Error())
	assert.True(t, IsContractViolation(bare))
	assert.False(t, IsContractViolation(ErrTimeout))
}
