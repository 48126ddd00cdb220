package bus

import (
	"math"
	"sync"
)

// DeadLetterEntry is one failed delivery as recorded in the DLQ. It
// captures the Delivery's terminal facts rather than holding the live
// Delivery itself, so the DLQ doesn't keep a subscriber's in-flight state
// reachable after resolution (spec §5's "resource lifetime" rule).
type DeadLetterEntry struct {
	ChannelName  string
	SubscriberID int64
	Message      any
	TimedOut     bool
	Reason       string // "timeout" or "nack"
}

// DeadLetterQueue is the ordered, per-channel store of failed deliveries
// described in spec §4.4. It's backed by RingBuffer, adapted from the
// teacher's message ring buffer to hold DeadLetterEntry values instead of
// raw bytes.
type DeadLetterQueue struct {
	mu     sync.RWMutex
	rb     *RingBuffer[DeadLetterEntry]
	onPush func(DeadLetterEntry)
}

func NewDeadLetterQueue() *DeadLetterQueue {
	rb, _ := NewRingBuffer[DeadLetterEntry](16)
	return &DeadLetterQueue{rb: rb}
}

// OnPush registers (or replaces) the single-slot push callback.
func (q *DeadLetterQueue) OnPush(fn func(DeadLetterEntry)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onPush = fn
}

// Push appends a failed delivery, deriving its Reason from TimedOut.
func (q *DeadLetterQueue) Push(d *Delivery) {
	entry := DeadLetterEntry{
		ChannelName:  d.ChannelName,
		SubscriberID: d.SubscriberID,
		Message:      d.Message,
		TimedOut:     d.TimedOut(),
	}
	if entry.TimedOut {
		entry.Reason = "timeout"
	} else {
		entry.Reason = "nack"
	}

	q.mu.Lock()
	q.rb.Put(entry)
	cb := q.onPush
	q.mu.Unlock()

	if cb != nil {
		cb(entry)
	}
}

func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return int(q.rb.Len())
}

func (q *DeadLetterQueue) Empty() bool {
	return q.Size() == 0
}

// Each iterates the queue's current contents in insertion order without
// draining it.
func (q *DeadLetterQueue) Each(fn func(DeadLetterEntry)) {
	q.mu.RLock()
	entries := q.rb.Snapshot()
	q.mu.RUnlock()

	for _, e := range entries {
		fn(e)
	}
}

// Drain empties the queue and returns its previous contents, in insertion
// order.
func (q *DeadLetterQueue) Drain() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rb.PopN(math.MaxInt64)
}

// Clear empties the queue without returning its contents.
func (q *DeadLetterQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rb.Clear()
}
