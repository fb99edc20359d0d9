package partconsumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeShortCircuitNoProgressYet(t *testing.T) {
	v, ok := computeShortCircuit(nil, nil)
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestComputeShortCircuitAlreadyCommitted(t *testing.T) {
	v, ok := computeShortCircuit(int64ptr(5), int64ptr(5))
	assert.True(t, ok)
	require.NotNil(t, v)
	assert.Equal(t, int64(5), *v)
}

func TestComputeShortCircuitHasProgress(t *testing.T) {
	_, ok := computeShortCircuit(int64ptr(6), int64ptr(5))
	assert.False(t, ok)
}

func TestCommitManagerRequestManualRequiresGroup(t *testing.T) {
	cm := newCommitManager(newFakeBroker(), testRetry(), "", "", "t", 0, NewRegistry(), &recordingLogger{})
	reply := make(chan CommitResult, 1)
	dispatched, err := cm.requestManual(context.Background(), int64ptr(1), nil, reply)
	assert.False(t, dispatched)
	var groupErr *InvalidConsumerGroupError
	require.ErrorAs(t, err, &groupErr)
}

func TestCommitManagerRequestManualShortCircuits(t *testing.T) {
	cm := newCommitManager(newFakeBroker(), testRetry(), "g", "", "t", 0, NewRegistry(), &recordingLogger{})
	reply := make(chan CommitResult, 1)
	dispatched, err := cm.requestManual(context.Background(), nil, nil, reply)
	require.NoError(t, err)
	assert.False(t, dispatched)
	res := <-reply
	assert.Nil(t, res.Committed)
	assert.NoError(t, res.Err)
}

func TestCommitManagerRequestManualRejectsSecondWhileInFlight(t *testing.T) {
	broker := newFakeBroker()
	broker.queueCommit([]OffsetCommitResponse{{Topic: "t", Partition: 0}}, nil)
	cm := newCommitManager(broker, testRetry(), "g", "", "t", 0, NewRegistry(), &recordingLogger{})

	reply1 := make(chan CommitResult, 1)
	dispatched, err := cm.requestManual(context.Background(), int64ptr(10), nil, reply1)
	require.NoError(t, err)
	require.True(t, dispatched)

	reply2 := make(chan CommitResult, 1)
	_, err = cm.requestManual(context.Background(), int64ptr(10), nil, reply2)
	var inProgress *OperationInProgress
	require.ErrorAs(t, err, &inProgress)

	out := <-cm.results()
	val, err := cm.onResult(out)
	require.NoError(t, err)
	assert.Equal(t, int64(10), *val)
	res := <-reply1
	assert.Equal(t, int64(10), *res.Committed)
}

func TestCommitManagerTriggerAutoSkipsWithoutGroup(t *testing.T) {
	cm := newCommitManager(newFakeBroker(), testRetry(), "", "", "t", 0, NewRegistry(), &recordingLogger{})
	dispatched := cm.triggerAuto(context.Background(), int64ptr(5), nil)
	assert.False(t, dispatched)
}

func TestCommitManagerCancelWaitersResolvesWithCancelledError(t *testing.T) {
	broker := newFakeBroker()
	cm := newCommitManager(broker, testRetry(), "g", "", "t", 0, NewRegistry(), &recordingLogger{})
	reply := make(chan CommitResult, 1)
	_, err := cm.requestManual(context.Background(), int64ptr(1), nil, reply)
	require.NoError(t, err)
	cm.cancelWaiters()
	res := <-reply
	var cancelled *CancelledError
	require.ErrorAs(t, res.Err, &cancelled)
}

func TestCommitManagerRetriesThenSucceeds(t *testing.T) {
	broker := newFlakyCommitBroker(2, &KafkaUnavailableError{Cause: errors.New("down")})
	retry := &RetryPolicy{InitDelay: time.Microsecond, MaxDelay: time.Microsecond, MaxAttempts: 5, Log: &recordingLogger{}}
	cm := newCommitManager(broker, retry, "g", "", "t", 0, NewRegistry(), &recordingLogger{})
	reply := make(chan CommitResult, 1)
	dispatched, err := cm.requestManual(context.Background(), int64ptr(42), nil, reply)
	require.NoError(t, err)
	require.True(t, dispatched)
	out := <-cm.results()
	val, err := cm.onResult(out)
	require.NoError(t, err)
	assert.Equal(t, int64(42), *val)
	assert.Equal(t, 3, broker.attempted)
}

func TestCommitManagerExhaustsRetriesAndSurfacesError(t *testing.T) {
	broker := newFlakyCommitBroker(99, &KafkaUnavailableError{Cause: errors.New("down")})
	retry := &RetryPolicy{InitDelay: time.Microsecond, MaxDelay: time.Microsecond, MaxAttempts: 4, Log: &recordingLogger{}}
	cm := newCommitManager(broker, retry, "g", "", "t", 0, NewRegistry(), &recordingLogger{})
	reply := make(chan CommitResult, 1)
	_, err := cm.requestManual(context.Background(), int64ptr(42), nil, reply)
	require.NoError(t, err)
	out := <-cm.results()
	_, err = cm.onResult(out)
	require.Error(t, err)
	res := <-reply
	require.Error(t, res.Err)
}
