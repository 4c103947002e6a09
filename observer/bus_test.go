package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SequenceNumbersStartAtOneAndIncrease(t *testing.T) {
	b := New(10, nil)
	e1 := b.Publish("t1", TypeTaskStarted, "task-1", nil)
	e2 := b.Publish("t1", TypeTaskCompleted, "task-1", nil)
	e3 := b.Publish("t1", TypePlanUpdated, "task-1", nil)

	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, uint64(2), e2.Sequence)
	assert.Equal(t, uint64(3), e3.Sequence)
}

func TestBus_SequencesAreIndependentPerThread(t *testing.T) {
	b := New(10, nil)
	b.Publish("t1", TypeTaskStarted, "", nil)
	e := b.Publish("t2", TypeTaskStarted, "", nil)
	assert.Equal(t, uint64(1), e.Sequence, "a new thread's sequence must start at 1 regardless of other threads")
}

func TestBus_LateSubscriberGetsReplayThenLive(t *testing.T) {
	b := New(10, nil)
	b.Publish("t1", TypeTaskStarted, "", map[string]interface{}{"n": 1})
	b.Publish("t1", TypeTaskStarted, "", map[string]interface{}{"n": 2})

	sub := b.Subscribe("t1")
	b.Publish("t1", TypeTaskStarted, "", map[string]interface{}{"n": 3})

	var seqs []uint64
	for i := 0; i < 3; i++ {
		ev := <-sub.Events()
		seqs = append(seqs, ev.Sequence)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seqs, "replay events must arrive before live events, in order")
}

func TestBus_ReplayBufferBounded(t *testing.T) {
	b := New(3, nil)
	for i := 0; i < 10; i++ {
		b.Publish("t1", TypeTaskStarted, "", nil)
	}
	sub := b.Subscribe("t1")
	first := <-sub.Events()
	assert.Equal(t, uint64(8), first.Sequence, "replay buffer should only hold the most recent N events")
}

func TestBus_SubscriberDroppedOnRepeatedErrors(t *testing.T) {
	b := New(10, nil)
	sub := b.Subscribe("t1")
	require.Equal(t, 1, b.SubscriberCount("t1"))

	sub.MarkError()
	sub.MarkError()
	sub.MarkError()

	assert.Equal(t, 0, b.SubscriberCount("t1"), "three consecutive errors should drop the subscriber")
	_, ok := <-sub.Events()
	assert.False(t, ok, "dropped subscriber's channel should be closed")
}

func TestBus_SubscriberDroppedOnBufferOverflow(t *testing.T) {
	b := New(2, nil)
	sub := b.Subscribe("t1")
	// Fill the channel beyond capacity without draining it.
	for i := 0; i < 5; i++ {
		b.Publish("t1", TypeTaskStarted, "", nil)
	}
	assert.Equal(t, 0, b.SubscriberCount("t1"), "an overflowing subscriber must be dropped")
}
