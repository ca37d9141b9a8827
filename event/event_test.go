package event

import (
	"reflect"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct{ Name string }
type widget struct{ Name string }

func TestKindString(t *testing.T) {
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, "changed", Changed.String())
	assert.Equal(t, "deleted", Deleted.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestSubscribeDeliversMatchingType(t *testing.T) {
	h := New()
	receiver := &account{}
	var got []Message
	Subscribe(h, receiver, reflect.TypeOf(account{}), nil, func(m Message) { got = append(got, m) })

	h.Publish(Message{Entity: account{Name: "acme"}, Kind: Added})
	h.Publish(Message{Entity: widget{Name: "widget"}, Kind: Added})

	require.Len(t, got, 1)
	assert.Equal(t, Added, got[0].Kind)
	runtime.KeepAlive(receiver)
}

func TestSubscribePredicateFiltersMessages(t *testing.T) {
	h := New()
	receiver := &account{}
	var got []Message
	predicate := func(m Message) bool { return m.Code == 7 }
	Subscribe(h, receiver, reflect.TypeOf(account{}), predicate, func(m Message) { got = append(got, m) })

	h.Publish(Message{Entity: account{}, Kind: Added, Code: 1})
	h.Publish(Message{Entity: account{}, Kind: Added, Code: 7})

	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].Code)
	runtime.KeepAlive(receiver)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New()
	receiver := &account{}
	var count int
	sub := Subscribe(h, receiver, reflect.TypeOf(account{}), nil, func(Message) { count++ })

	h.Publish(Message{Entity: account{}, Kind: Added})
	sub.Unsubscribe()
	h.Publish(Message{Entity: account{}, Kind: Added})

	assert.Equal(t, 1, count)
	runtime.KeepAlive(receiver)
}

func TestUnsubscribeIsSafeToCallTwice(t *testing.T) {
	h := New()
	receiver := &account{}
	sub := Subscribe(h, receiver, reflect.TypeOf(account{}), nil, func(Message) {})
	assert.NotPanics(t, func() {
		sub.Unsubscribe()
		sub.Unsubscribe()
	})
	runtime.KeepAlive(receiver)
}

func TestNilSubscriptionUnsubscribeIsNoOp(t *testing.T) {
	var sub *Subscription
	assert.NotPanics(t, func() { sub.Unsubscribe() })
}

func TestPackageLevelPublishUsesGlobalHub(t *testing.T) {
	receiver := &account{}
	var got Message
	Subscribe(Global, receiver, reflect.TypeOf(account{}), nil, func(m Message) { got = m })

	Publish(Message{Entity: account{Name: "acme"}, Kind: Changed})

	assert.Equal(t, "acme", got.Entity.(account).Name)
	runtime.KeepAlive(receiver)
}

func TestDeliveryOrderMatchesSubscriptionOrder(t *testing.T) {
	h := New()
	receiver := &account{}
	var order []int
	Subscribe(h, receiver, reflect.TypeOf(account{}), nil, func(Message) { order = append(order, 1) })
	Subscribe(h, receiver, reflect.TypeOf(account{}), nil, func(Message) { order = append(order, 2) })

	h.Publish(Message{Entity: account{}, Kind: Added})

	assert.Equal(t, []int{1, 2}, order)
	runtime.KeepAlive(receiver)
}
