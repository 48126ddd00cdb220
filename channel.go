package bus

import (
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// noSubscriberID is the sentinel subscriber id a publish with no
// subscribers is recorded under in the DLQ, matching the source's use of
// -1 (spec §4.3 step 5).
const noSubscriberID int64 = -1

// TypeConstraint pins a Channel to a single payload type, checked by
// reference identity of the top-level type per spec §4.3 step 2. The zero
// value means "no constraint".
type TypeConstraint struct {
	typ reflect.Type
}

// ConstrainTo builds a TypeConstraint from a sample value of the type a
// channel should accept. Passing a nil interface or calling this function
// at all is optional — channels default to unconstrained.
func ConstrainTo(sample any) TypeConstraint {
	return TypeConstraint{typ: reflect.TypeOf(sample)}
}

func (c TypeConstraint) isSet() bool { return c.typ != nil }

func (c TypeConstraint) accepts(msg any) bool {
	if !c.isSet() {
		return true
	}
	return reflect.TypeOf(msg) == c.typ
}

// Channel is a named topic: the fan-out, throttle, backpressure and
// lifecycle engine spec §3/§4.3 describes, generalized from the teacher's
// topicAll. Unlike topicAll, a Channel doesn't run a background manager
// goroutine draining a ring buffer of queued messages — Publish fans out
// synchronously to a snapshot of subscribers. Publish takes the channel
// mutex around each step that touches shared state (it is not one atomic
// section), and handlers run as their own goroutines.
type Channel struct {
	name           string
	typeConstraint TypeConstraint
	timeout        time.Duration
	maxPending     *int
	throttle       float64
	logger         Logger
	counters       *Counters

	subs *subscriberSet
	dlq  *DeadLetterQueue

	mu                sync.Mutex
	gate              *backpressureGate
	closed            bool
	pendingTrackers   map[uuid.UUID]*DeliveryTracker
	activeDeliveries  map[*Delivery]struct{}
}

// NewChannel constructs a Channel from a resolved configuration (the
// output of the config cascade in config.go) and the shared counter map a
// Registry hands every channel it owns.
func NewChannel(cfg Resolved, counters *Counters) (*Channel, error) {
	if cfg.Name == "" {
		return nil, ErrInvalidChannel
	}
	if cfg.Throttle != 0 {
		if cfg.MaxPending == nil {
			return nil, ErrThrottleMisconfigured
		}
		if cfg.Throttle <= 0 || cfg.Throttle >= 1 {
			return nil, ErrThrottleMisconfigured
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	c := &Channel{
		name:             cfg.Name,
		typeConstraint:   cfg.TypeConstraint,
		timeout:          cfg.Timeout,
		maxPending:       cfg.MaxPending,
		throttle:         cfg.Throttle,
		logger:           logger,
		counters:         counters,
		subs:             newSubscriberSet(),
		dlq:              NewDeadLetterQueue(),
		pendingTrackers:  make(map[uuid.UUID]*DeliveryTracker),
		activeDeliveries: make(map[*Delivery]struct{}),
	}
	c.gate = newBackpressureGate(&c.mu)
	return c, nil
}

func (c *Channel) Name() string { return c.name }

// Subscribe registers handler and returns its monotonically increasing id.
func (c *Channel) Subscribe(handler Handler) (int64, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return c.subs.add(handler), nil
}

// UnsubscribeID removes the subscriber with the given id. No-op if absent.
func (c *Channel) UnsubscribeID(id int64) {
	c.subs.removeByID(id)
}

// UnsubscribeHandler removes the first subscriber matching handler by
// reference equality. No-op if absent.
func (c *Channel) UnsubscribeHandler(handler Handler) {
	c.subs.removeByHandler(handler)
}

// Publish is the core's main flow (spec §4.3). It returns the
// DeliveryTracker for this publish, or (nil, nil) when there were no
// subscribers to dispatch to (the message still lands in the DLQ under
// the sentinel subscriber id).
func (c *Channel) Publish(msg any) (*DeliveryTracker, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	if !c.typeConstraint.accepts(msg) {
		return nil, ErrTypeMismatch
	}

	c.maybeThrottle()

	if err := c.waitForCapacity(); err != nil {
		return nil, err
	}

	ids := c.subs.snapshot()
	if len(ids) == 0 {
		c.publishNoSubscribers(msg)
		return nil, nil
	}

	tracker := NewDeliveryTracker(msg, c.name, ids)
	if !c.registerTracker(tracker) {
		return nil, ErrClosed
	}

	for _, id := range ids {
		c.dispatchOne(tracker, id, msg)
	}

	return tracker, nil
}

// maybeThrottle implements the asymptotic throttle curve of spec §4.3
// step 3. remaining_ratio == 0 means the channel is already full; the
// formula is skipped and waitForCapacity blocks instead.
func (c *Channel) maybeThrottle() {
	if c.throttle <= 0 || c.maxPending == nil {
		return
	}

	c.mu.Lock()
	pending := len(c.pendingTrackers)
	c.mu.Unlock()

	max := *c.maxPending
	if max <= 0 {
		return
	}
	remainingRatio := float64(max-pending) / float64(max)
	if remainingRatio > c.throttle {
		return
	}
	c.counters.Incr(c.name+"_throttled", 1)
	if remainingRatio <= 0 {
		return
	}
	delay := time.Duration(float64(time.Second) / (float64(max) * remainingRatio))
	time.Sleep(delay)
}

// waitForCapacity blocks until current_pending < max_pending or the
// channel closes, per spec §4.3 step 4.
func (c *Channel) waitForCapacity() error {
	if c.maxPending == nil {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pendingTrackers) >= *c.maxPending && !c.closed {
		c.gate.Wait()
	}
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Channel) publishNoSubscribers(msg any) {
	d := newDelivery(msg, c.name, noSubscriberID, 0, nil, nil)
	_ = d.Nack()
	c.dlq.Push(d)
	c.counters.Incr(c.name+"_nacked", 1)
	c.counters.Incr(c.name+"_dead_lettered", 1)
}

// registerTracker adds tracker to the pending set unless the channel has
// closed since waitForCapacity returned, in which case it reports false
// and the caller must not dispatch anything — this keeps "closed implies
// no new pending trackers" true even though Publish's steps aren't a
// single atomic section the way they would be in a cooperative reactor.
func (c *Channel) registerTracker(tracker *DeliveryTracker) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.pendingTrackers[tracker.ID] = tracker
	c.mu.Unlock()

	tracker.OnComplete(func() {
		c.counters.Incr(c.name+"_delivered", 1)
	})
	tracker.OnResolved(func() {
		c.mu.Lock()
		delete(c.pendingTrackers, tracker.ID)
		c.mu.Unlock()
		c.gate.Signal()
	})
	return true
}

// dispatchOne handles one subscriber slot of the fan-out. If the
// subscriber has since unsubscribed (the race spec §9's first open
// question describes), the slot is resolved as nacked immediately rather
// than left pending forever — Open Question decision 1 in SPEC_FULL.md.
func (c *Channel) dispatchOne(tracker *DeliveryTracker, id int64, msg any) {
	handler, ok := c.subs.handlerFor(id)
	if !ok {
		_ = tracker.Nack(id)
		return
	}

	var delivery *Delivery
	onAck := func(subscriberID int64) {
		c.removeActive(delivery)
		_ = tracker.Ack(subscriberID)
	}
	onNack := func(subscriberID int64) {
		c.removeActive(delivery)
		_ = tracker.Nack(subscriberID)
		c.dlq.Push(delivery)
		c.counters.Incr(c.name+"_dead_lettered", 1)
		if delivery.TimedOut() {
			c.counters.Incr(c.name+"_timed_out", 1)
		} else {
			c.counters.Incr(c.name+"_nacked", 1)
		}
	}
	delivery = newDelivery(msg, c.name, id, c.timeout, onAck, onNack)

	c.mu.Lock()
	c.activeDeliveries[delivery] = struct{}{}
	c.mu.Unlock()

	go c.runHandler(handler, delivery)
}

func (c *Channel) runHandler(handler Handler, delivery *Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber handler panicked", "channel", c.name, "subscriber", delivery.SubscriberID, "panic", r)
			if delivery.Pending() {
				_ = delivery.Nack()
			}
		}
	}()

	if err := handler(delivery); err != nil {
		c.logger.Error("subscriber handler failed", "channel", c.name, "subscriber", delivery.SubscriberID, "err", err)
		if delivery.Pending() {
			_ = delivery.Nack()
		}
	}
}

func (c *Channel) removeActive(d *Delivery) {
	c.mu.Lock()
	delete(c.activeDeliveries, d)
	c.mu.Unlock()
}

// Close is idempotent. Every active, still-pending delivery is force-nacked
// (routing it to the DLQ through the normal callback wiring), and any
// publisher blocked on the backpressure gate wakes and observes closed.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := make([]*Delivery, 0, len(c.activeDeliveries))
	for d := range c.activeDeliveries {
		pending = append(pending, d)
	}
	c.mu.Unlock()

	for _, d := range pending {
		if d.Pending() {
			_ = d.Nack()
		}
	}
	c.gate.Signal()
}

// Clear hard-resets in-flight state without closing the channel: every
// active delivery's timeout task is cancelled, the active-delivery and
// pending-tracker sets are discarded, and the DLQ is emptied.
func (c *Channel) Clear() {
	c.mu.Lock()
	for d := range c.activeDeliveries {
		d.CancelTimeout()
	}
	c.activeDeliveries = make(map[*Delivery]struct{})
	c.pendingTrackers = make(map[uuid.UUID]*DeliveryTracker)
	c.mu.Unlock()

	c.dlq.Clear()
	c.gate.Signal()
}

func (c *Channel) SubscriberCount() int { return c.subs.count() }

func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingTrackers)
}

func (c *Channel) Pending() bool { return c.PendingCount() > 0 }

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) DeadLetters() *DeadLetterQueue { return c.dlq }
