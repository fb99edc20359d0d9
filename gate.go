package partconsumer

import "context"

// processorResult is what a processorGate invocation reports back to
// the run loop.
type processorResult struct {
	maxOffset int64
	count     int
	err       error
}

// processorGate ensures at most one processor invocation runs at a
// time, and gives the run loop a single place to cancel (Stop) versus
// await (Shutdown) the in-flight call. Because only the run loop ever
// calls dispatch, and it never calls dispatch again before draining
// the previous result, "at most one in flight" falls out of the run
// loop's own sequencing; this type still owns the cancellation
// plumbing so that responsibility doesn't leak into consumer.go.
type processorGate struct {
	proc   Processor
	cancel context.CancelFunc
	result chan processorResult
}

func newProcessorGate(proc Processor) *processorGate {
	return &processorGate{proc: proc, result: make(chan processorResult, 1)}
}

// running reports whether a processor invocation is currently in
// flight.
func (g *processorGate) running() bool { return g.cancel != nil }

// dispatch invokes the processor on its own goroutine with a batch
// that is guaranteed non-empty by the caller: an empty batch never
// reaches the gate, delivering one is a no-op the caller handles
// itself.
func (g *processorGate) dispatch(parent context.Context, batch []Message) {
	ctx, cancel := context.WithCancel(parent)
	g.cancel = cancel
	go func() {
		err := g.proc(ctx, batch)
		g.result <- processorResult{
			maxOffset: batch[len(batch)-1].Offset,
			count:     len(batch),
			err:       err,
		}
	}()
}

// results is the channel the run loop selects on for the outcome of
// the in-flight invocation.
func (g *processorGate) results() <-chan processorResult { return g.result }

// done clears in-flight bookkeeping once the run loop has consumed a
// result.
func (g *processorGate) done() { g.cancel = nil }

// cancelInFlight is Stop's half of the cancel-vs-await contract: it
// signals the processor's context but does not wait for it. The
// goroutine's eventual result goes into the buffered g.result channel,
// where it is left unread once the run loop has exited.
func (g *processorGate) cancelInFlight() {
	if g.cancel != nil {
		g.cancel()
	}
}
