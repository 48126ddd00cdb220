package bus

import "sync"

// backpressureGate is the condition-variable-style primitive spec §4.5
// calls for: Wait suspends the caller until Signal is called; Signal wakes
// every waiter. sync.Cond is the idiomatic Go realization of exactly this
// — the standard library already names the concept "condition variable"
// the same way the spec does, and no pack repo reimplements one, so there
// is no ecosystem library to prefer over it here.
//
// The gate shares its lock with whatever predicate it's guarding (a
// Channel's own mutex) rather than owning a private one, so a caller can
// check the predicate and call Wait atomically:
//
//	gate.L.Lock()
//	for !predicate() {
//	    gate.Wait()
//	}
//	gate.L.Unlock()
//
// A private lock would let a Signal land in the gap between the predicate
// check and the Wait call and be missed.
type backpressureGate struct {
	L    sync.Locker
	cond *sync.Cond
}

func newBackpressureGate(l sync.Locker) *backpressureGate {
	return &backpressureGate{L: l, cond: sync.NewCond(l)}
}

// Wait suspends the calling goroutine until the next Signal. The gate's L
// must already be held; Wait releases it while suspended and reacquires
// it before returning.
func (g *backpressureGate) Wait() {
	g.cond.Wait()
}

// Signal wakes every goroutine currently blocked in Wait.
func (g *backpressureGate) Signal() {
	g.L.Lock()
	g.cond.Broadcast()
	g.L.Unlock()
}
