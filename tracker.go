package bus

import (
	"sync"

	"github.com/google/uuid"
)

type outcome int

const (
	outcomePending outcome = iota
	outcomeAcked
	outcomeNacked
)

// DeliveryTracker aggregates every subscriber's outcome for one publish
// call into a single resolution event. The subscriber-id set is fixed at
// construction — a snapshot of whoever was subscribed when publish began
// fanning out.
type DeliveryTracker struct {
	ID          uuid.UUID
	Message     any
	ChannelName string

	mu       sync.Mutex
	outcomes map[int64]outcome
	resolved bool

	onComplete   func()
	onResolved   func()
	onDeadLetter func(subscriberID int64)
}

// NewDeliveryTracker snapshots subscriberIDs as the fixed set of slots this
// tracker must resolve before it fires.
func NewDeliveryTracker(msg any, channelName string, subscriberIDs []int64) *DeliveryTracker {
	outcomes := make(map[int64]outcome, len(subscriberIDs))
	for _, id := range subscriberIDs {
		outcomes[id] = outcomePending
	}
	return &DeliveryTracker{
		ID:          uuid.New(),
		Message:     msg,
		ChannelName: channelName,
		outcomes:    outcomes,
	}
}

// OnComplete registers the callback that fires exactly once, only if every
// outcome ended up acked. Replaces any prior registration.
func (t *DeliveryTracker) OnComplete(fn func()) { t.onComplete = fn }

// OnResolved registers the callback that fires exactly once, unconditionally,
// at resolution (the channel uses this to drop the tracker and signal the
// backpressure gate). Replaces any prior registration.
func (t *DeliveryTracker) OnResolved(fn func()) { t.onResolved = fn }

// OnDeadLetter registers the callback invoked for each nack, receiving the
// nacking subscriber's id. Replaces any prior registration.
func (t *DeliveryTracker) OnDeadLetter(fn func(subscriberID int64)) { t.onDeadLetter = fn }

// Ack records subscriberID as acked and runs the resolution check.
func (t *DeliveryTracker) Ack(subscriberID int64) error {
	return t.resolve(subscriberID, outcomeAcked)
}

// Nack records subscriberID as nacked, fires OnDeadLetter, and runs the
// resolution check.
func (t *DeliveryTracker) Nack(subscriberID int64) error {
	return t.resolve(subscriberID, outcomeNacked)
}

func (t *DeliveryTracker) resolve(subscriberID int64, to outcome) error {
	t.mu.Lock()
	cur, ok := t.outcomes[subscriberID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownSubscriber
	}
	if cur != outcomePending {
		t.mu.Unlock()
		return ErrAlreadyResolved
	}
	t.outcomes[subscriberID] = to

	var deadLetterCb func(int64)
	if to == outcomeNacked {
		deadLetterCb = t.onDeadLetter
	}

	fullyResolved := t.fullyResolvedLocked()
	var completeCb, resolvedCb func()
	justResolved := false
	if fullyResolved && !t.resolved {
		t.resolved = true
		justResolved = true
		if t.fullyDeliveredLocked() {
			completeCb = t.onComplete
		}
		resolvedCb = t.onResolved
	}
	t.mu.Unlock()

	if deadLetterCb != nil {
		deadLetterCb(subscriberID)
	}
	if justResolved {
		if completeCb != nil {
			completeCb()
		}
		if resolvedCb != nil {
			resolvedCb()
		}
	}
	return nil
}

// FullyDelivered reports whether every outcome is acked.
func (t *DeliveryTracker) FullyDelivered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fullyDeliveredLocked()
}

func (t *DeliveryTracker) fullyDeliveredLocked() bool {
	for _, o := range t.outcomes {
		if o != outcomeAcked {
			return false
		}
	}
	return true
}

// FullyResolved reports whether no outcome is still pending.
func (t *DeliveryTracker) FullyResolved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fullyResolvedLocked()
}

func (t *DeliveryTracker) fullyResolvedLocked() bool {
	for _, o := range t.outcomes {
		if o == outcomePending {
			return false
		}
	}
	return true
}

// PendingCount returns how many subscriber slots are still pending.
func (t *DeliveryTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, o := range t.outcomes {
		if o == outcomePending {
			n++
		}
	}
	return n
}
