package mailbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaban/pluginhost/engine/slots"
	"github.com/shaban/pluginhost/internal/testutil"
)

func table(t *testing.T, capacity uint, names ...string) *slots.Table {
	t.Helper()
	tbl := slots.New(capacity)
	for _, p := range testutil.Plugins(names...) {
		_, err := tbl.Install(p)
		require.NoError(t, err)
	}
	return tbl
}

func TestPublish_RejectsNone(t *testing.T) {
	m := New(true)
	_, err := m.Publish(Action{})
	assert.ErrorIs(t, err, ErrNoAction)
	assert.True(t, m.Empty())
}

func TestPublish_SecondWhilePendingIsRejected(t *testing.T) {
	m := New(true)
	_, err := m.Publish(Action{Opcode: OpZeroCount})
	require.NoError(t, err)

	_, err = m.Publish(Action{Opcode: OpRemovePlugin, PluginID: 1})
	assert.ErrorIs(t, err, ErrPending)
	assert.Equal(t, OpZeroCount, m.Pending().Opcode)
}

func TestPublish_BridgeRefusesStructuralOps(t *testing.T) {
	m := New(false)
	_, err := m.Publish(Action{Opcode: OpRemovePlugin})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = m.Publish(Action{Opcode: OpSwitchPlugins, PluginID: 0, Value: 1})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = m.Publish(Action{Opcode: OpZeroCount})
	assert.NoError(t, err)
}

func TestConsumeAndApply_EmptyIsNoop(t *testing.T) {
	m := New(true)
	tbl := table(t, 3, "A", "B")

	a, err := m.ConsumeAndApply(tbl)
	assert.NoError(t, err)
	assert.Equal(t, OpNone, a.Opcode)
	assert.Equal(t, uint(2), tbl.Count())
	assert.NoError(t, Apply(tbl, Action{}))
	assert.Equal(t, uint(2), tbl.Count())
	assert.NoError(t, tbl.Check())
}

func TestConsumeAndApply_ResetsMailboxAndCompletesTicket(t *testing.T) {
	m := New(true)
	tbl := table(t, 4, "A", "B", "C")

	tk, err := m.Publish(Action{Opcode: OpRemovePlugin, PluginID: 0})
	require.NoError(t, err)
	select {
	case <-tk.Done():
		t.Fatal("ticket completed before the action was applied")
	default:
	}

	a, err := m.ConsumeAndApply(tbl)
	require.NoError(t, err)
	assert.Equal(t, OpRemovePlugin, a.Opcode)
	assert.True(t, m.Empty())
	assert.Equal(t, Action{}, m.Pending())
	assert.NoError(t, tk.Wait(context.Background()))
	assert.Equal(t, uint(2), tbl.Count())
}

func TestConsumeAndApply_ReportsPreconditionFailure(t *testing.T) {
	m := New(true)
	tbl := table(t, 4)

	tk, err := m.Publish(Action{Opcode: OpRemovePlugin, PluginID: 0})
	require.NoError(t, err)
	_, err = m.ConsumeAndApply(tbl)
	assert.ErrorIs(t, err, slots.ErrEmpty)
	assert.ErrorIs(t, tk.Err(), slots.ErrEmpty)
	assert.True(t, m.Empty())
}

func TestTicket_WaitHonoursContext(t *testing.T) {
	m := New(true)
	tk, err := m.Publish(Action{Opcode: OpZeroCount})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tk.Wait(ctx), context.DeadlineExceeded)
	// not withdrawn
	assert.Equal(t, OpZeroCount, m.Pending().Opcode)
}

// TestRendezvous runs an audio goroutine draining the mailbox once per cycle
// while control goroutines compete to publish. Every accepted action must be
// applied exactly once and no waiter may hang.
func TestRendezvous(t *testing.T) {
	m := New(true)
	tbl := table(t, 8, "A", "B", "C", "D")

	stop := make(chan struct{})
	var cycles atomic.Int64
	var audio sync.WaitGroup
	audio.Add(1)
	go func() {
		defer audio.Done()
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				_, _ = m.ConsumeAndApply(tbl)
				cycles.Add(1)
			}
		}
	}()

	const workers = 8
	var accepted, rejected atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				tk, err := m.Publish(Action{Opcode: OpSwitchPlugins, PluginID: 0, Value: 3})
				if err != nil {
					assert.ErrorIs(t, err, ErrPending)
					rejected.Add(1)
					time.Sleep(200 * time.Microsecond)
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				assert.NoError(t, tk.Wait(ctx))
				cancel()
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(stop)
	audio.Wait()

	t.Logf("accepted=%d rejected=%d cycles=%d", accepted.Load(), rejected.Load(), cycles.Load())
	assert.Equal(t, int64(workers*20), accepted.Load()+rejected.Load())
	assert.True(t, m.Empty())
	assert.NoError(t, tbl.Check())
	assert.Equal(t, uint(4), tbl.Count())
}

func TestExclusive_RefusedWhilePending(t *testing.T) {
	m := New(true)
	ran := false
	require.NoError(t, m.Exclusive(func() error { ran = true; return nil }))
	assert.True(t, ran)

	_, err := m.Publish(Action{Opcode: OpZeroCount})
	require.NoError(t, err)
	ran = false
	assert.ErrorIs(t, m.Exclusive(func() error { ran = true; return nil }), ErrPending)
	assert.False(t, ran)
}

func TestOpcodeStrings(t *testing.T) {
	assert.Equal(t, "remove-plugin(2)", Action{Opcode: OpRemovePlugin, PluginID: 2}.String())
	assert.Equal(t, "switch-plugins(0,1)", Action{Opcode: OpSwitchPlugins, Value: 1}.String())
	assert.Equal(t, "zero-count", Action{Opcode: OpZeroCount}.String())
	assert.Equal(t, "opcode(9)", Opcode(9).String())
}
