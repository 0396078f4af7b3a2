package pluginhost

import (
	"time"

	"github.com/shaban/pluginhost/engine/mailbox"
)

// MetricsHook allows callers to observe the engine's structural requests and
// audio cycles. Implementers can log, aggregate metrics, or emit traces.
//
// OnCycle runs on the audio goroutine and must neither block nor allocate.
// The other methods run on the requesting goroutine.
type MetricsHook interface {
	// A structural action was accepted by the mailbox.
	OnActionRequested(a mailbox.Action)
	// A structural action finished. wait is publish-to-applied latency.
	OnActionApplied(a mailbox.Action, wait time.Duration, err error)

	// One audio cycle completed.
	OnCycle(frames uint32)

	// The maintenance worker saw dropped events since the previous report.
	OnEventsDropped(inbox, in, out uint64)
}

// NopMetrics implements MetricsHook with no-ops. Embed it to implement only
// the methods you need.
type NopMetrics struct{}

func (NopMetrics) OnActionRequested(mailbox.Action) {}
func (NopMetrics) OnActionApplied(mailbox.Action, time.Duration, error) {}
func (NopMetrics) OnCycle(uint32) {}
func (NopMetrics) OnEventsDropped(uint64, uint64, uint64) {}
