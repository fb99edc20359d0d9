package partconsumer

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/go-resiliency/retrier"
)

// callKind tags which BrokerClient method a recorded call belongs to,
// so fakeBroker can queue distinct scripts per kind the way a real
// broker would answer distinct request types independently.
type callKind int

const (
	callOffset callKind = iota
	callOffsetFetch
	callFetch
	callOffsetCommit
)

// fakeBroker is the in-process BrokerClient test double every package
// test drives directly, rather than a live cluster.
type fakeBroker struct {
	mu sync.Mutex

	offsetResps      []offsetScriptEntry
	offsetFetchResps []offsetFetchScriptEntry
	fetchResps       []fetchScriptEntry
	commitResps      []commitScriptEntry

	calls []callKind
}

type offsetScriptEntry struct {
	resp []OffsetResponse
	err  error
}
type offsetFetchScriptEntry struct {
	resp []OffsetFetchResponse
	err  error
}
type fetchScriptEntry struct {
	resp   []FetchResponse
	err    error
	repeat bool
}
type commitScriptEntry struct {
	resp []OffsetCommitResponse
	err  error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{}
}

func (f *fakeBroker) queueOffset(resp []OffsetResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsetResps = append(f.offsetResps, offsetScriptEntry{resp, err})
}

func (f *fakeBroker) queueOffsetFetch(resp []OffsetFetchResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsetFetchResps = append(f.offsetFetchResps, offsetFetchScriptEntry{resp, err})
}

func (f *fakeBroker) queueFetch(resp []FetchResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchResps = append(f.fetchResps, fetchScriptEntry{resp, err})
}

func (f *fakeBroker) queueCommit(resp []OffsetCommitResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitResps = append(f.commitResps, commitScriptEntry{resp, err})
}

// queueFetchForever repeats the same empty-batch response so a fetch
// loop a test isn't interested in driving to completion just idles
// instead of exhausting its script, which makes SendFetchRequest fail
// with errIncompleteResponse and stops the consumer.
func (f *fakeBroker) queueFetchForever(resp FetchResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchResps = append(f.fetchResps, fetchScriptEntry{resp: []FetchResponse{resp}, err: nil, repeat: true})
}

func (f *fakeBroker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBroker) countOf(kind callKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.calls {
		if k == kind {
			n++
		}
	}
	return n
}

func (f *fakeBroker) commitCalls() int { return f.countOf(callOffsetCommit) }

func (f *fakeBroker) SendOffsetRequest(ctx context.Context, reqs []OffsetRequest) ([]OffsetResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, callOffset)
	if len(f.offsetResps) == 0 {
		f.mu.Unlock()
		return nil, errNoOffsetsReturned
	}
	e := f.offsetResps[0]
	f.offsetResps = f.offsetResps[1:]
	f.mu.Unlock()
	return e.resp, e.err
}

func (f *fakeBroker) SendOffsetFetchRequest(ctx context.Context, group string, reqs []OffsetFetchRequest) ([]OffsetFetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, callOffsetFetch)
	if len(f.offsetFetchResps) == 0 {
		f.mu.Unlock()
		return nil, errIncompleteResponse
	}
	e := f.offsetFetchResps[0]
	f.offsetFetchResps = f.offsetFetchResps[1:]
	f.mu.Unlock()
	return e.resp, e.err
}

func (f *fakeBroker) SendFetchRequest(ctx context.Context, reqs []FetchRequest, maxWait time.Duration, minBytes int32) ([]FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, callFetch)
	if len(f.fetchResps) == 0 {
		f.mu.Unlock()
		return nil, errIncompleteResponse
	}
	e := f.fetchResps[0]
	if !e.repeat {
		f.fetchResps = f.fetchResps[1:]
	}
	f.mu.Unlock()
	return e.resp, e.err
}

func (f *fakeBroker) SendOffsetCommitRequest(ctx context.Context, group string, reqs []OffsetCommitRequest) ([]OffsetCommitResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, callOffsetCommit)
	if len(f.commitResps) == 0 {
		f.mu.Unlock()
		return nil, errIncompleteResponse
	}
	e := f.commitResps[0]
	f.commitResps = f.commitResps[1:]
	f.mu.Unlock()
	return e.resp, e.err
}

// flakyCommitBroker scripts "fails N times, then succeeds" for the
// commit-retry-to-exhaustion and commit-retry-recovery scenarios. It
// borrows go-resiliency's ExponentialBackoff schedule to pace each
// canned answer with a doubling delay (1ms, 2ms, 4ms, ...) before
// returning —
// real use of the dependency, but purely as a delay generator:
// commit.go's own RetryPolicy is what decides whether and when to call
// again, so wrapping this in go-resiliency's own Run loop would hide
// the attempt count the tests assert on.
type flakyCommitBroker struct {
	*fakeBroker
	backoff   []time.Duration
	failUntil int
	attempted int
	failWith  error
}

func newFlakyCommitBroker(failures int, failWith error) *flakyCommitBroker {
	return &flakyCommitBroker{
		fakeBroker: newFakeBroker(),
		backoff:    retrier.ExponentialBackoff(failures+1, time.Millisecond),
		failUntil:  failures,
		failWith:   failWith,
	}
}

func (f *flakyCommitBroker) SendOffsetCommitRequest(ctx context.Context, group string, reqs []OffsetCommitRequest) ([]OffsetCommitResponse, error) {
	idx := f.attempted
	f.attempted++
	if idx < len(f.backoff) {
		time.Sleep(f.backoff[idx])
	}
	if idx < f.failUntil {
		return nil, f.failWith
	}
	return []OffsetCommitResponse{{Topic: reqs[0].Topic, Partition: reqs[0].Partition}}, nil
}
