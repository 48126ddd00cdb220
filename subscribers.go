package bus

import (
	"fmt"
	"reflect"
	"sync"
)

// Handler is the subscriber callback a Channel dispatches a Delivery to.
type Handler func(d *Delivery) error

// subscriberSet is the channel's subscriber map. It differs from gomemq's
// topicAll, which kept subscribers in a plain slice the underlying map's
// insertion order never actually guarded: here, order is explicit and
// enforced, resolving spec §9's second open question (the snapshot must be
// insertion order, not whatever a Go map iterates in).
//
// IDs are assigned from a monotonically increasing counter starting at 1
// and are never reused, even across unsubscribe/subscribe cycles.
type subscriberSet struct {
	mu      sync.RWMutex
	order   []int64
	byID    map[int64]Handler
	nextID  int64
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{byID: make(map[int64]Handler)}
}

// add assigns the next id to handler and returns it.
func (s *subscriberSet) add(handler Handler) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.byID[id] = handler
	s.order = append(s.order, id)
	return id
}

// removeByID removes the subscriber with the given id. No-op if absent.
func (s *subscriberSet) removeByID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeByIDLocked(id)
}

func (s *subscriberSet) removeByIDLocked(id int64) {
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// removeByHandler removes the first subscriber whose handler matches by
// reference-pointer equality, mirroring gomemq's getHandlerPointer. No-op
// if absent.
func (s *subscriberSet) removeByHandler(handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := handlerPointer(handler)
	for _, id := range s.order {
		if handlerPointer(s.byID[id]) == target {
			s.removeByIDLocked(id)
			return
		}
	}
}

// handlerFor looks up the handler for id. The second return is false if
// the subscriber has since been removed — the channel's dispatch path uses
// this to detect the snapshot-vs-dispatch race spec §4.3/§9 describes.
func (s *subscriberSet) handlerFor(id int64) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.byID[id]
	return h, ok
}

// snapshot returns every currently subscribed id, in insertion order.
func (s *subscriberSet) snapshot() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, len(s.order))
	copy(out, s.order)
	return out
}

func (s *subscriberSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func handlerPointer(h Handler) string {
	return fmt.Sprintf("%d", reflect.ValueOf(h).Pointer())
}
