package partconsumer

import "context"

// offsetResolution is what resolveOffset reports back to the run loop:
// the concrete fetch offset to begin from, and the committed offset
// (if any) to surface as the Start result's LastCommitted when the
// consumer stops having processed nothing.
type offsetResolution struct {
	fetchOffset int64
	committed   *int64
	err         error
}

// resolveOffset turns a symbolic or literal StartAt into a concrete
// fetch offset. It is run on its own goroutine by the run loop and
// reports its outcome on done; the run loop's select honors ctx
// cancellation the same way it does for fetches and commits.
func resolveOffset(ctx context.Context, client BrokerClient, retry *RetryPolicy, topic string, partition int32, group string, start StartAt, done chan<- offsetResolution) {
	res, err := doResolveOffset(ctx, client, retry, topic, partition, group, start)
	if err != nil {
		select {
		case done <- offsetResolution{err: err}:
		case <-ctx.Done():
		}
		return
	}
	select {
	case done <- res:
	case <-ctx.Done():
	}
}

func doResolveOffset(ctx context.Context, client BrokerClient, retry *RetryPolicy, topic string, partition int32, group string, start StartAt) (offsetResolution, error) {
	switch start.kind {
	case startLiteral:
		return offsetResolution{fetchOffset: start.literal}, nil

	case startEarliest, startLatest:
		sentinel := TimeEarliest
		if start.kind == startLatest {
			sentinel = TimeLatest
		}
		var offset int64
		err := retry.Do(ctx, "offset-lookup", func(ctx context.Context) error {
			resps, err := client.SendOffsetRequest(ctx, []OffsetRequest{{
				Topic: topic, Partition: partition, Sentinel: sentinel, MaxResults: 1,
			}})
			if err != nil {
				return err
			}
			resp, err := findOffsetResponse(resps, topic, partition)
			if err != nil {
				return err
			}
			if len(resp.Offsets) == 0 {
				return &KafkaUnavailableError{Cause: errNoOffsetsReturned}
			}
			offset = resp.Offsets[0]
			return nil
		})
		if err != nil {
			return offsetResolution{}, err
		}
		return offsetResolution{fetchOffset: offset}, nil

	case startCommitted:
		if group == "" {
			return offsetResolution{}, &InvalidConsumerGroupError{Op: "start at COMMITTED"}
		}
		var committed int64
		err := retry.Do(ctx, "offset-fetch", func(ctx context.Context) error {
			resps, err := client.SendOffsetFetchRequest(ctx, group, []OffsetFetchRequest{{Topic: topic, Partition: partition}})
			if err != nil {
				return err
			}
			resp, err := findOffsetFetchResponse(resps, topic, partition)
			if err != nil {
				return err
			}
			committed = resp.Offset
			return nil
		})
		if err != nil {
			return offsetResolution{}, err
		}
		if committed < 0 {
			// No offset stored for this group: fall through to EARLIEST
			// semantics, committed stays none.
			earliest, err := doResolveOffset(ctx, client, retry, topic, partition, group, Earliest())
			if err != nil {
				return offsetResolution{}, err
			}
			return offsetResolution{fetchOffset: earliest.fetchOffset}, nil
		}
		return offsetResolution{fetchOffset: committed + 1, committed: int64ptr(committed)}, nil
	}
	panic("partconsumer: unreachable start kind")
}

func findOffsetResponse(resps []OffsetResponse, topic string, partition int32) (*OffsetResponse, error) {
	for i := range resps {
		if resps[i].Topic == topic && resps[i].Partition == partition {
			return &resps[i], nil
		}
	}
	return nil, &KafkaUnavailableError{Cause: errIncompleteResponse}
}

func findOffsetFetchResponse(resps []OffsetFetchResponse, topic string, partition int32) (*OffsetFetchResponse, error) {
	for i := range resps {
		if resps[i].Topic == topic && resps[i].Partition == partition {
			return &resps[i], nil
		}
	}
	return nil, &KafkaUnavailableError{Cause: errIncompleteResponse}
}
