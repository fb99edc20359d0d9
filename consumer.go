package partconsumer

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"
)

// publicState mirrors the run loop's internal phase for String() and
// for the synchronous precondition checks Start/Stop/Shutdown/Commit
// must make without racing the loop goroutine.
type publicState int32

const (
	stateInitialized publicState = iota
	stateRunning
	stateStopping
	stateStopped
)

func (s publicState) String() string {
	switch s {
	case stateInitialized:
		return "initialized"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// commitTrigger records why the currently in-flight commit was
// started, so the run loop knows whether a failure must also be
// surfaced to the Start completion: automatic and final commits
// propagate a fatal failure to Start's result, a plain manual commit
// failure only resolves its own caller.
type commitTrigger int

const (
	commitNone commitTrigger = iota
	commitManual
	commitAuto
	commitFinal
)

type stopRequest struct{ reply chan Result }
type shutdownRequest struct{ reply chan Result }
type commitRequestMsg struct {
	ctx      context.Context
	reply    chan CommitResult
	accepted chan error
}

// Consumer drives exactly one (topic, partition) pair for its entire
// lifetime: constructed, started exactly once, optionally committed
// repeatedly, and stopped or shut down exactly once.
//
// All of its mutable state lives exclusively inside the run-loop
// goroutine Start spawns; every public method only ever talks to that
// goroutine over a channel or reads an atomically-published snapshot,
// so nothing here needs a mutex — one owning goroutine, with
// short-lived worker goroutines reporting results back over channels.
type Consumer struct {
	cfg *Config

	topic     string
	partition int32
	group     string

	started     int32 // atomic: 0 not started, 1 started
	terminating int32 // atomic: 0 none, 1 stop requested, 2 shutdown requested

	stopCh     chan stopRequest
	shutdownCh chan shutdownRequest
	commitCh   chan commitRequestMsg

	doneCh chan struct{} // closed when the run loop exits
	result *Result       // valid for reading only after doneCh is closed

	state int32 // atomic publicState, for String() and outside-the-loop reads
}

// New validates cfg and constructs a Consumer in the initialized
// state. It does not start any goroutine or issue any broker request;
// construction itself does no I/O.
func New(cfg Config) (*Consumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	full := cfg.withDefaults()
	c := &Consumer{
		cfg:        full,
		topic:      full.Topic,
		partition:  full.Partition,
		group:      full.Group,
		stopCh:     make(chan stopRequest, 1),
		shutdownCh: make(chan shutdownRequest, 1),
		commitCh:   make(chan commitRequestMsg),
		doneCh:     make(chan struct{}),
	}
	return c, nil
}

func (c *Consumer) String() string {
	return fmt.Sprintf("<Consumer [%s] topic=%s, partition=%d, processor=%s>",
		publicState(atomic.LoadInt32(&c.state)), c.topic, c.partition, processorName(c.cfg.Processor))
}

func processorName(p Processor) string {
	if p == nil {
		return "<nil>"
	}
	return runtime.FuncForPC(reflect.ValueOf(p).Pointer()).Name()
}

// Start begins consuming from pos. It may be called exactly once per
// Consumer; the returned channel delivers exactly one Result when the
// consumer reaches the stopped state.
func (c *Consumer) Start(pos StartAt) (<-chan Result, error) {
	if pos.kind == startCommitted && c.group == "" {
		return nil, &InvalidConsumerGroupError{Op: "start at COMMITTED"}
	}
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return nil, &RestartError{}
	}
	atomic.StoreInt32(&c.state, int32(stateRunning))
	resultCh := make(chan Result, 1)
	go c.run(pos, resultCh)
	return resultCh, nil
}

// Commit requests an immediate commit of the current
// last_processed_offset. Valid while running or stopping.
func (c *Consumer) Commit(ctx context.Context) (<-chan CommitResult, error) {
	if atomic.LoadInt32(&c.started) == 0 {
		return nil, &RestopError{Reason: "consumer not started"}
	}
	reply := make(chan CommitResult, 1)
	accepted := make(chan error, 1)
	select {
	case c.commitCh <- commitRequestMsg{ctx: ctx, reply: reply, accepted: accepted}:
	case <-c.doneCh:
		return nil, &CancelledError{}
	}
	select {
	case err := <-accepted:
		if err != nil {
			return nil, err
		}
		return reply, nil
	case <-c.doneCh:
		return nil, &CancelledError{}
	}
}

// Stop immediately cancels the in-flight broker request and processor
// invocation (if any) and terminates the consumer.
func (c *Consumer) Stop() (<-chan Result, error) {
	if atomic.LoadInt32(&c.started) == 0 {
		return nil, &RestopError{}
	}
	if !atomic.CompareAndSwapInt32(&c.terminating, 0, 1) {
		return nil, &RestopError{Reason: "consumer already stopping or stopped"}
	}
	reply := make(chan Result, 1)
	select {
	case c.stopCh <- stopRequest{reply: reply}:
	case <-c.doneCh:
		reply <- *c.result
		close(reply)
	}
	return reply, nil
}

// Shutdown waits for any in-flight processor invocation to finish,
// performs a final commit if a group is configured and there is
// progress to commit, then terminates the consumer.
func (c *Consumer) Shutdown() (<-chan Result, error) {
	if atomic.LoadInt32(&c.started) == 0 {
		return nil, &RestopError{}
	}
	if !atomic.CompareAndSwapInt32(&c.terminating, 0, 2) {
		if atomic.LoadInt32(&c.terminating) == 2 {
			return nil, &RestopError{Reason: "Shutdown called more than once."}
		}
		return nil, &RestopError{Reason: "consumer already stopping or stopped"}
	}
	reply := make(chan Result, 1)
	select {
	case c.shutdownCh <- shutdownRequest{reply: reply}:
	case <-c.doneCh:
		reply <- *c.result
		close(reply)
	}
	return reply, nil
}

// run is the single cooperative-scheduler goroutine that owns every
// piece of mutable consumer state for the lifetime of this instance.
// Everything below this point touches that state directly; nothing
// outside run ever does.
func (c *Consumer) run(pos StartAt, resultCh chan Result) {
	ctx, cancelAll := context.WithCancel(context.Background())
	defer cancelAll()

	log := newScopedLogger(c.cfg.Logger, c.topic, c.partition)
	retry := &RetryPolicy{
		InitDelay: c.cfg.RetryInitDelay, MaxDelay: c.cfg.RetryMaxDelay,
		MaxAttempts: c.cfg.RetryMaxAttempts, Log: log,
	}
	cm := newCommitManager(c.cfg.Client, retry, c.group, c.cfg.CommitMetadata, c.topic, c.partition, c.cfg.Metrics, log)
	gate := newProcessorGate(c.cfg.Processor)
	autoTimer := newPeriodicTimer(c.cfg.AutoCommitEvery)
	defer autoTimer.Stop()

	var (
		phase                = stateRunning
		fatalErr             error
		fetchOffset          int64
		offsetResolved       bool
		bufferSize           = c.cfg.BufferSize
		fetchPending         bool
		fetchDoneCh          = make(chan fetchOutcome, 1)
		offsetDoneCh         = make(chan offsetResolution, 1)
		heldBatch            []Message
		lastProcessed        *int64
		lastCommitted        *int64
		commitCountSinceAck  int
		trigger              = commitNone
		pendingStopReply     chan Result
		pendingShutdownReply chan Result
	)

	go resolveOffset(ctx, c.cfg.Client, retry, c.topic, c.partition, c.group, pos, offsetDoneCh)

	issueFetch := func() {
		if phase != stateRunning {
			return
		}
		if fetchPending {
			log.Debugf("fetch already in flight, ignoring request to start another")
			return
		}
		fetchPending = true
		go fetchWorker(ctx, c.cfg.Client, retry, c.topic, c.partition, fetchOffset, bufferSize, c.cfg.MaxBufferSize, c.cfg.FetchMinBytes, c.cfg.FetchMaxWait, log, fetchDoneCh)
	}

	dispatchBatch := func(batch []Message) {
		c.cfg.Metrics.BatchSizeHistogram().Update(int64(len(batch)))
		gate.dispatch(ctx, batch)
		fetchOffset = batch[len(batch)-1].Offset + 1
	}

	transitionStopped := func(fatal error) {
		if fatal != nil && fatalErr == nil {
			fatalErr = fatal
		}
		cancelAll()
		gate.cancelInFlight()
		cm.cancelWaiters()
		autoTimer.Stop()
		phase = stateStopped
		atomic.StoreInt32(&c.state, int32(stateStopped))
	}

	// pendingFinal records that Shutdown wants the final commit as soon
	// as the commit currently in flight (manual or automatic) resolves —
	// CommitManager only ever runs one commit at a time, so the final
	// commit can't simply be dispatched on top of it.
	var pendingFinal bool

	maybeBeginFinal := func() {
		if trigger != commitNone {
			pendingFinal = true
			return
		}
		dispatched, short := cm.beginFinal(ctx, lastProcessed, lastCommitted)
		if dispatched {
			trigger = commitFinal
			return
		}
		lastCommitted = short
		transitionStopped(nil)
	}

	for phase != stateStopped {
		var nilOrFetchDoneCh chan fetchOutcome
		if fetchPending {
			nilOrFetchDoneCh = fetchDoneCh
		}
		var nilOrOffsetDoneCh chan offsetResolution
		if !offsetResolved {
			nilOrOffsetDoneCh = offsetDoneCh
		}
		var gateResultsCh <-chan processorResult
		if gate.running() {
			gateResultsCh = gate.results()
		}
		var commitResultsCh <-chan commitWorkerOutcome
		if trigger != commitNone {
			commitResultsCh = cm.results()
		}

		select {
		case res := <-nilOrOffsetDoneCh:
			offsetResolved = true
			if res.err != nil {
				transitionStopped(res.err)
				continue
			}
			fetchOffset = res.fetchOffset
			lastCommitted = res.committed
			issueFetch()

		case o := <-nilOrFetchDoneCh:
			fetchPending = false
			bufferSize = o.bufferSize
			if o.err != nil {
				transitionStopped(o.err)
				continue
			}
			if phase != stateRunning {
				// Shutting down: discard rather than advance or refetch.
				continue
			}
			if len(o.messages) == 0 {
				issueFetch()
				continue
			}
			if gate.running() {
				heldBatch = o.messages
				continue
			}
			dispatchBatch(o.messages)
			issueFetch()

		case o := <-gateResultsCh:
			gate.done()
			if o.err != nil {
				transitionStopped(o.err)
				continue
			}
			lastProcessed = int64ptr(o.maxOffset)
			commitCountSinceAck += o.count
			if phase != stateRunning {
				maybeBeginFinal()
				continue
			}
			if c.cfg.AutoCommitEveryN > 0 && commitCountSinceAck >= c.cfg.AutoCommitEveryN {
				commitCountSinceAck = 0
				if cm.triggerAuto(ctx, lastProcessed, lastCommitted) {
					trigger = commitAuto
				}
			}
			if heldBatch != nil {
				batch := heldBatch
				heldBatch = nil
				dispatchBatch(batch)
				issueFetch()
			} else if !fetchPending {
				issueFetch()
			}

		case o := <-commitResultsCh:
			finished := trigger
			trigger = commitNone
			val, err := cm.onResult(o)
			if err != nil {
				log.Errorf("commit failed: %s", err)
				if finished == commitAuto || finished == commitFinal {
					transitionStopped(err)
					continue
				}
			} else {
				lastCommitted = val
				autoTimer.Reset()
				if finished == commitFinal {
					transitionStopped(nil)
					continue
				}
			}
			if pendingFinal && phase == stateStopping {
				pendingFinal = false
				maybeBeginFinal()
			}

		case <-autoTimer.C():
			if phase == stateRunning && cm.triggerAuto(ctx, lastProcessed, lastCommitted) {
				trigger = commitAuto
			}
			autoTimer.Reset()

		case req := <-c.commitCh:
			dispatched, err := cm.requestManual(req.ctx, lastProcessed, lastCommitted, req.reply)
			req.accepted <- err
			if dispatched {
				trigger = commitManual
			}

		case req := <-c.stopCh:
			pendingStopReply = req.reply
			transitionStopped(nil)

		case req := <-c.shutdownCh:
			pendingShutdownReply = req.reply
			phase = stateStopping
			atomic.StoreInt32(&c.state, int32(stateStopping))
			if !gate.running() {
				maybeBeginFinal()
			}
		}
	}

	final := Result{LastProcessed: lastProcessed, LastCommitted: lastCommitted, Err: fatalErr}
	c.result = &final
	resultCh <- final
	close(resultCh)
	if pendingStopReply != nil {
		pendingStopReply <- Result{LastProcessed: lastProcessed, LastCommitted: lastCommitted}
		close(pendingStopReply)
	}
	if pendingShutdownReply != nil {
		pendingShutdownReply <- Result{LastProcessed: lastProcessed, LastCommitted: lastCommitted}
		close(pendingShutdownReply)
	}
	close(c.doneCh)
}
