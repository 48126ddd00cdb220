package bus

import (
	"sync"
	"time"
)

// deliveryState is the state machine spec §3/§4.1 describes: strictly
// pending -> acked or pending -> nacked, never out of a terminal state.
type deliveryState int

const (
	deliveryPending deliveryState = iota
	deliveryAcked
	deliveryNacked
)

// Delivery is the per-(message, subscriber) envelope. Exactly one of Ack
// or Nack may ever succeed against a given Delivery; whichever happens
// first — including the timeout firing — wins the race.
type Delivery struct {
	Message       any
	ChannelName   string
	SubscriberID  int64

	mu       sync.Mutex
	state    deliveryState
	timedOut bool
	timer    *time.Timer

	onAck  func(subscriberID int64)
	onNack func(subscriberID int64)
}

// newDelivery constructs a pending Delivery and, if timeout > 0, starts its
// timeout task: a time.AfterFunc timer that, after timeout and only if the
// delivery is still pending, nacks it with TimedOut set. Ack and Nack stop
// the timer (Channel.Close reaches it through Nack, Channel.Clear through
// CancelTimeout) before it fires when possible, and the state check in
// fireTimeout makes a late fire harmless if it races ahead of cancellation.
func newDelivery(msg any, channelName string, subscriberID int64, timeout time.Duration, onAck, onNack func(int64)) *Delivery {
	d := &Delivery{
		Message:      msg,
		ChannelName:  channelName,
		SubscriberID: subscriberID,
		state:        deliveryPending,
		onAck:        onAck,
		onNack:       onNack,
	}
	if timeout > 0 {
		d.timer = time.AfterFunc(timeout, d.fireTimeout)
	}
	return d
}

func (d *Delivery) fireTimeout() {
	d.mu.Lock()
	if d.state != deliveryPending {
		d.mu.Unlock()
		return
	}
	d.state = deliveryNacked
	d.timedOut = true
	cb := d.onNack
	sub := d.SubscriberID
	d.mu.Unlock()

	if cb != nil {
		cb(sub)
	}
}

// Ack transitions the delivery to acked. Returns ErrAlreadyResolved if the
// delivery is no longer pending.
func (d *Delivery) Ack() error {
	d.mu.Lock()
	if d.state != deliveryPending {
		d.mu.Unlock()
		return ErrAlreadyResolved
	}
	d.state = deliveryAcked
	d.stopTimerLocked()
	cb := d.onAck
	sub := d.SubscriberID
	d.mu.Unlock()

	if cb != nil {
		cb(sub)
	}
	return nil
}

// Nack transitions the delivery to nacked explicitly (not via timeout).
// Returns ErrAlreadyResolved if the delivery is no longer pending.
func (d *Delivery) Nack() error {
	d.mu.Lock()
	if d.state != deliveryPending {
		d.mu.Unlock()
		return ErrAlreadyResolved
	}
	d.state = deliveryNacked
	d.stopTimerLocked()
	cb := d.onNack
	sub := d.SubscriberID
	d.mu.Unlock()

	if cb != nil {
		cb(sub)
	}
	return nil
}

// CancelTimeout stops the timeout task without touching delivery state.
// Idempotent; safe to call on a delivery that never had a timer.
func (d *Delivery) CancelTimeout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopTimerLocked()
}

func (d *Delivery) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Delivery) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == deliveryPending
}

func (d *Delivery) Acked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == deliveryAcked
}

func (d *Delivery) Nacked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == deliveryNacked
}

func (d *Delivery) TimedOut() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timedOut
}
