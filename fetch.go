package partconsumer

import (
	"context"
	"time"
)

// fetchOutcome is what a fetch worker goroutine reports back to the
// run loop.
type fetchOutcome struct {
	messages   []Message
	bufferSize int32
	err        error
}

// fetchWorker runs one fetch-request cycle on its own goroutine. It
// retries transient fetch-request failures through RetryPolicy; a
// too-small-buffer condition is handled inside fetchOnce without
// backoff.
func fetchWorker(
	ctx context.Context,
	client BrokerClient,
	retry *RetryPolicy,
	topic string,
	partition int32,
	fetchOffset int64,
	bufferSize, maxBufferSize int32,
	minBytes int32,
	maxWait time.Duration,
	log Logger,
	done chan<- fetchOutcome,
) {
	result := fetchOutcome{bufferSize: bufferSize}
	err := retry.Do(ctx, "fetch", func(ctx context.Context) error {
		msgs, newSize, ferr := fetchOnce(ctx, client, topic, partition, fetchOffset, result.bufferSize, maxBufferSize, minBytes, maxWait, log)
		result.bufferSize = newSize
		if ferr != nil {
			return ferr
		}
		result.messages = msgs
		return nil
	})
	result.err = err
	select {
	case done <- result:
	case <-ctx.Done():
	}
}

// fetchOnce issues a fetch request and, on each too-small-buffer
// response, grows the buffer in-place and re-sends at once (no
// backoff), until either a batch is decoded or the buffer has hit its
// ceiling.
func fetchOnce(
	ctx context.Context,
	client BrokerClient,
	topic string,
	partition int32,
	fetchOffset int64,
	bufferSize, maxBufferSize int32,
	minBytes int32,
	maxWait time.Duration,
	log Logger,
) ([]Message, int32, error) {
	for {
		resps, err := client.SendFetchRequest(ctx, []FetchRequest{
			{Topic: topic, Partition: partition, Offset: fetchOffset, MaxBytes: bufferSize},
		}, maxWait, minBytes)
		if err != nil {
			return nil, bufferSize, err
		}

		resp, ok := findFetchResponse(resps, topic, partition, log)
		if !ok {
			// Missing entirely: treat as empty and let the caller retry.
			return nil, bufferSize, nil
		}

		if resp.BufferTooSmall {
			if bufferSize >= maxBufferSize {
				return nil, bufferSize, &ConsumerFetchSizeTooSmall{MaxBufferSize: maxBufferSize}
			}
			bufferSize = growBuffer(bufferSize, maxBufferSize)
			continue
		}

		return dropStale(resp.Messages, fetchOffset), bufferSize, nil
	}
}

// findFetchResponse locates the entry matching the requested
// partition, logging a warning and ignoring any entry for a different
// partition. Tolerates a broker returning entries for partitions
// nobody asked for.
func findFetchResponse(resps []FetchResponse, topic string, partition int32, log Logger) (FetchResponse, bool) {
	for _, r := range resps {
		if r.Topic != topic || r.Partition != partition {
			log.Warnf("fetch response contained entry for %s/%d, expected %s/%d: ignoring", r.Topic, r.Partition, topic, partition)
			continue
		}
		return r, true
	}
	return FetchResponse{}, false
}

// dropStale removes decoded messages whose offset precedes fetchOffset.
// Legitimate: compressed batches may start earlier than requested.
func dropStale(msgs []Message, fetchOffset int64) []Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.Offset < fetchOffset {
			continue
		}
		out = append(out, m)
	}
	return out
}

// growBuffer doubles bufferSize, capped at maxBufferSize and at
// int32's range.
func growBuffer(bufferSize, maxBufferSize int32) int32 {
	grown := bufferSize * 2
	if grown <= 0 || grown > maxBufferSize {
		grown = maxBufferSize
	}
	return grown
}
