// Package event is the process-wide publish/subscribe hub of §4.7: weakly
// referenced subscriptions, filtered by target entity type and an optional
// predicate, delivered synchronously in subscription-insertion order. A
// subscriber whose receiver has been garbage collected is swept the next
// time delivery is attempted, exactly as if it had unsubscribed.
package event

import (
	"reflect"
	"sync"
	"weak"
)

// Kind is the change that produced a notification.
type Kind int

const (
	Added Kind = iota
	Changed
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Message is the payload handed to every matching subscription.
type Message struct {
	Entity any
	Kind   Kind
	Code   int
}

// Predicate filters a Message after the target-type and liveness checks
// pass; return false to skip delivery to this subscription.
type Predicate func(Message) bool

// DeliveryFunc receives a matched Message.
type DeliveryFunc func(Message)

// Subscription is the token returned by Subscribe; call Unsubscribe to
// remove it explicitly instead of waiting for the receiver to be collected.
type Subscription struct {
	hub *Hub
	id  uint64
}

// Unsubscribe removes this subscription from its hub. Safe to call more
// than once and safe to call after the receiver has already been swept.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.remove(s.id)
}

// weakRef erases the generic parameter of weak.Pointer[T] so the hub's
// subscription list can hold receivers of any concrete type uniformly.
type weakRef interface {
	alive() bool
}

type weakBox[T any] struct {
	p weak.Pointer[T]
}

func (w weakBox[T]) alive() bool { return w.p.Value() != nil }

type subscription struct {
	id         uint64
	receiver   weakRef
	targetType reflect.Type // entity type this subscription listens for
	predicate  Predicate
	deliver    DeliveryFunc
}

// Hub is a process-wide publish/subscribe point. The zero value is ready
// to use; New returns one. Global holds the default process-wide
// instance per §4.7's "global event hub, process-wide registry" note.
type Hub struct {
	mu     sync.Mutex
	subs   []*subscription
	nextID uint64
}

// New constructs an independent Hub; most callers use Global instead.
func New() *Hub {
	return &Hub{}
}

// Global is the process-wide event hub instance that connections publish
// to and application code subscribes against by default.
var Global = New()

// Subscribe registers a weakly-held subscriber: receiver is kept alive by
// the caller, not by the hub, and once it is garbage collected the
// subscription is swept on the next delivery attempt. targetType selects
// which entity type's messages reach deliver; predicate may be nil to match
// every message of that type.
func Subscribe[T any](h *Hub, receiver *T, targetType reflect.Type, predicate Predicate, deliver DeliveryFunc) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, &subscription{
		id:         id,
		receiver:   weakBox[T]{p: weak.Make(receiver)},
		targetType: targetType,
		predicate:  predicate,
		deliver:    deliver,
	})
	return &Subscription{hub: h, id: id}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers msg to every live subscription whose targetType is
// assignable from msg's entity type and whose predicate (if any) accepts
// it. Dead receivers are removed from the hub as part of this call. The
// mutex only guards the copy of the filtered delivery list; the delivery
// functions themselves run outside the lock so a subscriber cannot
// deadlock the hub by subscribing or unsubscribing from inside its own
// callback.
func (h *Hub) Publish(msg Message) {
	entityType := reflect.TypeOf(msg.Entity)

	h.mu.Lock()
	live := h.subs[:0:0]
	var matched []*subscription
	for _, s := range h.subs {
		if !s.receiver.alive() {
			continue // swept: receiver has been collected
		}
		live = append(live, s)
		if entityType != nil && s.targetType != nil && !entityType.AssignableTo(s.targetType) {
			continue
		}
		if s.predicate != nil && !s.predicate(msg) {
			continue
		}
		matched = append(matched, s)
	}
	h.subs = live
	h.mu.Unlock()

	for _, s := range matched {
		s.deliver(msg)
	}
}

// Publish delivers msg via the process-wide Global hub.
func Publish(msg Message) { Global.Publish(msg) }
