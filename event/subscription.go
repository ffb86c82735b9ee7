package event

import (
	"sync/atomic"
)

// Subscription receives the events of the kinds it was created with.
type Subscription struct {
	id     uint64
	ch     chan Event
	kinds  map[Kind]struct{}
	closed atomic.Bool
}

func newSubscription(id uint64, buffer int, kinds []Kind) *Subscription {
	s := &Subscription{
		id: id,
		ch: make(chan Event, buffer),
	}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	return s
}

// C returns the read-only event channel. It is closed by Unsubscribe or
// on bus shutdown.
func (s *Subscription) C() <-chan Event { return s.ch }

// wants reports whether the subscription accepts kind. An empty kind set
// accepts everything.
func (s *Subscription) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// send delivers without blocking. It returns false if the event was
// dropped.
func (s *Subscription) send(evt Event) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
