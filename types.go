package partconsumer

import (
	"context"
	"time"
)

// TimestampInvalid is the sentinel commit timestamp meaning "let the
// broker stamp it", matching how brokers treat a missing timestamp on
// an offset commit.
const TimestampInvalid int64 = -1

// startKind tags the symbolic start position a consumer resolves at
// Start.
type startKind int

const (
	startLiteral startKind = iota
	startEarliest
	startLatest
	startCommitted
)

// StartAt is the symbolic or literal fetch position a consumer begins
// from. Construct with Earliest, Latest, Committed, or Literal.
type StartAt struct {
	kind    startKind
	literal int64
}

// Earliest resolves to the partition's oldest available offset.
func Earliest() StartAt { return StartAt{kind: startEarliest} }

// Latest resolves to the partition's newest available offset.
func Latest() StartAt { return StartAt{kind: startLatest} }

// Committed resolves to one past the consumer group's last committed
// offset, falling back to Earliest if the broker has no offset stored
// for the group. Requires a consumer group.
func Committed() StartAt { return StartAt{kind: startCommitted} }

// Literal resolves to the given offset verbatim.
func Literal(offset int64) StartAt { return StartAt{kind: startLiteral, literal: offset} }

// Message is a single decoded record delivered to the processor.
// Payload is opaque: this core never interprets its contents.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Payload   []byte
}

// Processor is the user-supplied asynchronous callback. Batch is
// always non-empty and strictly increasing by Offset. The processor
// must respect ctx cancellation: Stop cancels ctx for the in-flight
// invocation; Shutdown lets it run to completion.
type Processor func(ctx context.Context, batch []Message) error

// OffsetRequest asks the broker for the concrete offset at a
// well-known time sentinel (Earliest/Latest).
type OffsetRequest struct {
	Topic     string
	Partition int32
	Sentinel  TimeSentinel
	MaxResults int32
}

// TimeSentinel selects which well-known offset an OffsetRequest wants.
type TimeSentinel int

const (
	TimeEarliest TimeSentinel = iota
	TimeLatest
)

// OffsetResponse answers an OffsetRequest.
type OffsetResponse struct {
	Topic     string
	Partition int32
	Offsets   []int64
}

// OffsetFetchRequest asks the broker what offset a consumer group has
// committed for a partition.
type OffsetFetchRequest struct {
	Topic     string
	Partition int32
}

// OffsetFetchResponse answers an OffsetFetchRequest. Offset < 0 means
// "no offset stored for this group".
type OffsetFetchResponse struct {
	Topic     string
	Partition int32
	Offset    int64
	Metadata  string
}

// FetchRequest asks the broker for messages starting at Offset.
type FetchRequest struct {
	Topic     string
	Partition int32
	Offset    int64
	MaxBytes  int32
}

// FetchResponse answers a FetchRequest. The fetch loop uses only the
// entry whose Topic and Partition match the request and logs and
// ignores entries for any other partition; the Messages inside the
// matching entry are not checked against it.
type FetchResponse struct {
	Topic            string
	Partition        int32
	HighWaterMark    int64
	Messages         []Message
	BufferTooSmall   bool
}

// OffsetCommitRequest commits a single partition's progress under a
// consumer group.
type OffsetCommitRequest struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp int64
	Metadata  string
}

// OffsetCommitResponse answers an OffsetCommitRequest.
type OffsetCommitResponse struct {
	Topic     string
	Partition int32
}

// BrokerClient is the transport collaborator this package is built
// against. It is injected; this core never dials a connection, tracks
// cluster metadata, or owns a wire codec.
type BrokerClient interface {
	SendOffsetRequest(ctx context.Context, reqs []OffsetRequest) ([]OffsetResponse, error)
	SendOffsetFetchRequest(ctx context.Context, group string, reqs []OffsetFetchRequest) ([]OffsetFetchResponse, error)
	SendFetchRequest(ctx context.Context, reqs []FetchRequest, maxWait time.Duration, minBytes int32) ([]FetchResponse, error)
	SendOffsetCommitRequest(ctx context.Context, group string, reqs []OffsetCommitRequest) ([]OffsetCommitResponse, error)
}

// Result is delivered exactly once on the channel returned by Start,
// Stop, or Shutdown when the consumer reaches the stopped state.
type Result struct {
	LastProcessed *int64
	LastCommitted *int64
	Err           error
}

// CommitResult is delivered exactly once on the channel returned by
// Commit.
type CommitResult struct {
	Committed *int64
	Err       error
}

func int64ptr(v int64) *int64 { return &v }
