package partconsumer

import (
	"context"

	pkgerrors "github.com/pkg/errors"
)

// commitWorkerOutcome is what a commit worker goroutine reports back
// to the run loop.
type commitWorkerOutcome struct {
	offset int64
	err    error
}

// commitManager serializes manual and automatic commits, retries
// transient failures through RetryPolicy, and short-circuits when
// there is nothing new to commit. It does not own the processed/
// committed offset bookkeeping itself — that stays with the run loop
// — callers pass the current values in on every trigger and
// commitManager returns the new committed value on success.
type commitManager struct {
	client    BrokerClient
	retry     *RetryPolicy
	group     string
	metadata  string
	topic     string
	partition int32
	metrics   Registry
	log       Logger

	inFlight bool
	waiters  []chan<- CommitResult
	resultCh chan commitWorkerOutcome
}

func newCommitManager(client BrokerClient, retry *RetryPolicy, group, metadata, topic string, partition int32, metrics Registry, log Logger) *commitManager {
	return &commitManager{
		client: client, retry: retry, group: group, metadata: metadata,
		topic: topic, partition: partition, metrics: metrics, log: log,
		resultCh: make(chan commitWorkerOutcome, 1),
	}
}

// computeShortCircuit reports success with no broker round trip when
// there is nothing new to commit: nothing has been processed yet, or
// the last processed offset is already the last committed one.
func computeShortCircuit(lastProcessed, lastCommitted *int64) (*int64, bool) {
	if lastProcessed == nil {
		return lastCommitted, true
	}
	if lastCommitted != nil && *lastProcessed == *lastCommitted {
		return lastCommitted, true
	}
	return nil, false
}

// requestManual handles a caller-initiated Commit(). A group must be
// configured; a second caller while one is already in flight fails
// immediately with OperationInProgress — commits are not stacked.
// reply is supplied by the caller (consumer.go's Commit()) so the run
// loop can hand the same channel straight back to the external caller
// instead of wrapping one.
func (m *commitManager) requestManual(ctx context.Context, lastProcessed, lastCommitted *int64, reply chan<- CommitResult) (dispatched bool, err error) {
	if m.group == "" {
		return false, &InvalidConsumerGroupError{Op: "commit"}
	}
	if v, ok := computeShortCircuit(lastProcessed, lastCommitted); ok {
		reply <- CommitResult{Committed: v}
		close(reply)
		return false, nil
	}
	if m.inFlight {
		return false, &OperationInProgress{}
	}
	m.waiters = append(m.waiters, reply)
	m.inFlight = true
	go m.run(ctx, *lastProcessed)
	return true, nil
}

// triggerAuto handles an auto-commit-by-count or periodic-timer
// trigger. It is silently skipped (not queued) if a commit is already
// in flight, or if there is no group configured, or if there is
// nothing new to commit. It reports whether a worker was actually
// dispatched, so the run loop knows whether to track the in-flight
// commit's trigger kind.
func (m *commitManager) triggerAuto(ctx context.Context, lastProcessed, lastCommitted *int64) bool {
	if m.group == "" || m.inFlight {
		return false
	}
	if _, ok := computeShortCircuit(lastProcessed, lastCommitted); ok {
		return false
	}
	m.inFlight = true
	go m.run(ctx, *lastProcessed)
	return true
}

// beginFinal is Shutdown's one-shot final commit, issued once the
// processor has gone idle and a group is configured and there is
// progress to commit. It reports whether a worker was actually
// dispatched; when it wasn't (no group, or nothing to commit), short
// is the value Shutdown should treat as the final committed offset.
func (m *commitManager) beginFinal(ctx context.Context, lastProcessed, lastCommitted *int64) (dispatched bool, short *int64) {
	if m.group == "" {
		return false, lastCommitted
	}
	if v, ok := computeShortCircuit(lastProcessed, lastCommitted); ok {
		return false, v
	}
	if m.inFlight {
		return false, lastCommitted
	}
	m.inFlight = true
	go m.run(ctx, *lastProcessed)
	return true, nil
}

func (m *commitManager) run(ctx context.Context, offset int64) {
	err := m.retry.Do(ctx, "commit", func(ctx context.Context) error {
		_, sendErr := m.client.SendOffsetCommitRequest(ctx, m.group, []OffsetCommitRequest{{
			Topic: m.topic, Partition: m.partition, Offset: offset,
			Timestamp: TimestampInvalid, Metadata: m.metadata,
		}})
		if sendErr != nil {
			m.metrics.CommitRetryCounter().Inc(1)
		}
		return sendErr
	})
	if err != nil {
		// Wrap with pkg/errors so the stack trace at the point of final
		// failure survives the hop from this goroutine to the run loop
		// that logs it.
		err = pkgerrors.Wrap(err, "commit worker")
	}
	outcome := commitWorkerOutcome{offset: offset, err: err}
	select {
	case m.resultCh <- outcome:
	case <-ctx.Done():
		select {
		case m.resultCh <- commitWorkerOutcome{offset: offset, err: ctx.Err()}:
		default:
		}
	}
}

// results is the channel the run loop selects on for the outcome of
// the in-flight commit, regardless of which trigger started it.
func (m *commitManager) results() <-chan commitWorkerOutcome { return m.resultCh }

// onResult consumes a worker outcome, resolves any manual waiters, and
// returns the new committed offset on success. Errors that are
// unhandleable (non-retryable, or retries exhausted) must additionally
// be logged at error level by the caller when the trigger was
// automatic — commitManager itself doesn't know which trigger this
// was, so the run loop does that logging.
func (m *commitManager) onResult(o commitWorkerOutcome) (*int64, error) {
	m.inFlight = false
	waiters := m.waiters
	m.waiters = nil
	if o.err == nil {
		m.metrics.CommitCounter().Inc(1)
		v := o.offset
		for _, w := range waiters {
			w <- CommitResult{Committed: &v}
			close(w)
		}
		return &v, nil
	}
	for _, w := range waiters {
		w <- CommitResult{Err: o.err}
		close(w)
	}
	return nil, o.err
}

// cancelWaiters resolves any pending manual commit completions with
// CancelledError. Stop cancels them rather than waiting them out.
func (m *commitManager) cancelWaiters() {
	for _, w := range m.waiters {
		w <- CommitResult{Err: &CancelledError{}}
		close(w)
	}
	m.waiters = nil
	m.inFlight = false
}
