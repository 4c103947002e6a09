package observer

import (
	"sync"
	"time"

	"github.com/windrose/conductor/core"
)

// DefaultReplayBufferSize is N from spec §4.6: the default number of
// recent events per thread a late subscriber catches up on.
const DefaultReplayBufferSize = 50

// maxConsecutiveErrors is how many handler errors a subscriber may
// accumulate before the bus drops it, per spec §4.6's "a subscriber that
// repeatedly errs ... is dropped".
const maxConsecutiveErrors = 3

// Bus is a typed, per-thread in-process publish/subscribe fan-out.
type Bus struct {
	mu         sync.Mutex
	threads    map[string]*threadState
	bufferSize int
	logger     core.Logger
}

type threadState struct {
	seq       uint64
	replay    []Event
	subs      map[uint64]*Subscription
	nextSubID uint64
}

// Subscription is a live subscriber's handle. Events arrive on Events();
// call Close to unsubscribe, or MarkError to report a delivery failure
// (three consecutive reports drop the subscription automatically).
type Subscription struct {
	id       uint64
	threadID string
	bus      *Bus
	ch       chan Event
	mu       sync.Mutex
	errCount int
	closed   bool
}

// Events returns the channel events are delivered on, replay events
// first in sequence order, followed by live events.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// MarkError records a delivery failure observed by the caller (e.g. the
// SSE/WS transport failed to write a frame). After maxConsecutiveErrors
// consecutive reports the subscription is dropped.
func (s *Subscription) MarkError() {
	s.mu.Lock()
	s.errCount++
	drop := s.errCount >= maxConsecutiveErrors
	s.mu.Unlock()
	if drop {
		s.bus.drop(s.threadID, s.id)
	}
}

// MarkSuccess resets the consecutive error counter.
func (s *Subscription) MarkSuccess() {
	s.mu.Lock()
	s.errCount = 0
	s.mu.Unlock()
}

// Close unsubscribes.
func (s *Subscription) Close() {
	s.bus.drop(s.threadID, s.id)
}

// New builds an empty Bus with the given replay buffer size
// (DefaultReplayBufferSize if zero).
func New(bufferSize int, logger core.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultReplayBufferSize
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Bus{
		threads:    make(map[string]*threadState),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

func (b *Bus) threadStateLocked(threadID string) *threadState {
	ts, ok := b.threads[threadID]
	if !ok {
		ts = &threadState{subs: make(map[uint64]*Subscription)}
		b.threads[threadID] = ts
	}
	return ts
}

// Publish stamps and fans out an event for threadID. The assigned
// sequence number starts at 1 and is strictly increasing per thread,
// per spec §8's testable invariant.
func (b *Bus) Publish(threadID string, typ Type, taskID string, payload map[string]interface{}) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.threadStateLocked(threadID)
	ts.seq++
	ev := Event{
		Type:      typ,
		ThreadID:  threadID,
		TaskID:    taskID,
		Sequence:  ts.seq,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	ts.replay = append(ts.replay, ev)
	if len(ts.replay) > b.bufferSize {
		ts.replay = ts.replay[len(ts.replay)-b.bufferSize:]
	}

	for id, sub := range ts.subs {
		select {
		case sub.ch <- ev:
		default:
			// Buffer overflow: drop the subscriber per spec §4.6.
			b.logger.Warn("observer subscriber dropped: buffer overflow", map[string]interface{}{
				"thread_id": threadID, "subscriber_id": id,
			})
			close(sub.ch)
			delete(ts.subs, id)
		}
	}
	return ev
}

// Subscribe registers a new subscriber for threadID. It immediately
// enqueues the current replay buffer (oldest-first) ahead of any live
// events, all delivered through the same channel so ordering is
// preserved without the caller needing to distinguish catch-up from live.
func (b *Bus) Subscribe(threadID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.threadStateLocked(threadID)
	ch := make(chan Event, b.bufferSize+1)
	for _, ev := range ts.replay {
		ch <- ev
	}

	id := ts.nextSubID
	ts.nextSubID++
	sub := &Subscription{id: id, threadID: threadID, bus: b, ch: ch}
	ts.subs[id] = sub
	return sub
}

func (b *Bus) drop(threadID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.threads[threadID]
	if !ok {
		return
	}
	if sub, ok := ts.subs[id]; ok {
		sub.mu.Lock()
		alreadyClosed := sub.closed
		sub.closed = true
		sub.mu.Unlock()
		if !alreadyClosed {
			close(sub.ch)
		}
		delete(ts.subs, id)
	}
}

// SubscriberCount reports the current live subscriber count for a thread,
// for tests and diagnostics.
func (b *Bus) SubscriberCount(threadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.threads[threadID]
	if !ok {
		return 0
	}
	return len(ts.subs)
}
