package gattc

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultPollInterval is the sleep granularity of Gate.Wait.
const DefaultPollInterval = 10 * time.Millisecond

// WaitResult tells how a Gate.Wait ended.
type WaitResult int

const (
	// WaitSucceeded means the gate was cleared by a completion event.
	WaitSucceeded WaitResult = iota
	// WaitTimedOut means the budget elapsed and the gate was forced idle.
	WaitTimedOut
	// WaitAborted means the wait ended early on a context or drain error.
	WaitAborted
)

func (r WaitResult) String() string {
	switch r {
	case WaitSucceeded:
		return "succeeded"
	case WaitTimedOut:
		return "timed_out"
	case WaitAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Gate turns one asynchronous procedure into a blocking call. The caller
// marks the gate busy, starts the procedure and waits; the completion event
// clears the gate.
//
// Wait polls: every tick it runs the drain function, which delivers pending
// radio events on the waiting goroutine, then re-checks the busy flag.
type Gate struct {
	busy  atomic.Bool
	tick  time.Duration
	drain func() error
}

// NewGate creates an idle gate. drain may be nil.
func NewGate(tick time.Duration, drain func() error) *Gate {
	if tick <= 0 {
		tick = DefaultPollInterval
	}
	return &Gate{tick: tick, drain: drain}
}

// SetBusy marks a procedure as outstanding.
func (g *Gate) SetBusy() { g.busy.Store(true) }

// SetClear marks the gate idle. Idempotent.
func (g *Gate) SetClear() { g.busy.Store(false) }

// Busy reports whether a procedure is outstanding.
func (g *Gate) Busy() bool { return g.busy.Load() }

// Wait blocks until the gate is cleared or timeout elapses.
//
// On timeout the gate is forced idle. Permissive waits then return
// (WaitTimedOut, nil), strict waits (WaitTimedOut, ErrTimeout). A drain error
// or context cancellation also forces the gate idle and is returned as is.
// Wait returns no later than one tick after the timeout.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration, permissive bool) (WaitResult, error) {
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(g.tick)
	defer timer.Stop()

	for {
		if g.drain != nil {
			if err := g.drain(); err != nil {
				g.SetClear()
				return WaitAborted, err
			}
		}
		if !g.Busy() {
			return WaitSucceeded, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			g.SetClear()
			if permissive {
				return WaitTimedOut, nil
			}
			return WaitTimedOut, ErrTimeout
		}

		sleep := g.tick
		if remaining < sleep {
			sleep = remaining
		}
		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			g.SetClear()
			return WaitAborted, ctx.Err()
		case <-timer.C:
		}
	}
}
