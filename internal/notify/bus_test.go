package notify

import (
	"context"
	"sync"
	"testing"
)

func TestDeliverOnlyReachesMatchingCorrelationID(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe("c1")
	b := bus.Subscribe("c2")

	if n := bus.Deliver(Outcome{CorrelationID: "c1", Succeeded: true}); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	select {
	case o := <-a.C():
		if o.CorrelationID != "c1" || !o.Succeeded {
			t.Fatalf("unexpected outcome %+v", o)
		}
	default:
		t.Fatal("subscriber for c1 received nothing")
	}

	select {
	case o := <-b.C():
		t.Fatalf("subscriber for c2 received %+v", o)
	default:
	}
}

func TestDeliverFansOutToEverySubscriber(t *testing.T) {
	bus := NewBus()
	subs := []*Subscription{bus.Subscribe("c1"), bus.Subscribe("c1"), bus.Subscribe("c1")}

	if n := bus.Deliver(Outcome{CorrelationID: "c1", Succeeded: true}); n != len(subs) {
		t.Fatalf("expected %d deliveries, got %d", len(subs), n)
	}
	for i, s := range subs {
		if len(s.C()) != 1 {
			t.Fatalf("subscriber %d has %d pending outcomes", i, len(s.C()))
		}
	}
}

func TestDeliverWithoutSubscribersIsDropped(t *testing.T) {
	bus := NewBus()
	if n := bus.Deliver(Outcome{CorrelationID: "nobody"}); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}

	// no replay for late subscribers
	s := bus.Subscribe("nobody")
	if len(s.C()) != 0 {
		t.Fatal("late subscriber received a past outcome")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	s := bus.Subscribe("c1")
	other := bus.Subscribe("c1")

	bus.Unsubscribe(s)
	bus.Unsubscribe(s)
	bus.Unsubscribe(nil)

	if s.Active() {
		t.Fatal("subscription still active after unsubscribe")
	}
	if n := bus.Deliver(Outcome{CorrelationID: "c1"}); n != 1 {
		t.Fatalf("expected only the remaining subscriber to receive, got %d", n)
	}
	if len(s.C()) != 0 {
		t.Fatal("unsubscribed subscription received an outcome")
	}

	bus.Unsubscribe(other)
	if st := bus.Stats(); st.CorrelationIDs != 0 || st.Subscribers != 0 {
		t.Fatalf("registry not empty after unsubscribing everyone: %+v", st)
	}
}

func TestDeliverSkipsSubscriberWithUnreadOutcome(t *testing.T) {
	bus := NewBus()
	s := bus.Subscribe("c1")

	bus.Deliver(Outcome{CorrelationID: "c1", Succeeded: true})
	if n := bus.Deliver(Outcome{CorrelationID: "c1", Reason: "amount_mismatch"}); n != 0 {
		t.Fatalf("expected full subscriber to be skipped, got %d", n)
	}

	o := <-s.C()
	if !o.Succeeded {
		t.Fatalf("expected the first outcome to be kept, got %+v", o)
	}
	if st := bus.Stats(); st.Dropped != 1 || st.Delivered != 1 || st.Published != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestPublishSatisfiesPublisher(t *testing.T) {
	var p Publisher = NewBus()
	if err := p.Publish(context.Background(), Outcome{CorrelationID: "c1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConcurrentSubscribeDeliverUnsubscribe(t *testing.T) {
	bus := NewBus()
	ids := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := ids[i%len(ids)]
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := bus.Subscribe(id)
			bus.Unsubscribe(s)
		}()
		go func() {
			defer wg.Done()
			bus.Deliver(Outcome{CorrelationID: id, Succeeded: true})
		}()
	}
	wg.Wait()

	if st := bus.Stats(); st.Subscribers != 0 {
		t.Fatalf("expected no subscribers left, got %+v", st)
	}
}

func TestDecodeOutcomeRejectsMissingCorrelationID(t *testing.T) {
	if _, err := decodeOutcome(`{"succeeded":true}`); err == nil {
		t.Fatal("expected error for payload without correlation id")
	}

	payload, err := encodeOutcome(Outcome{CorrelationID: "c1", Reason: "not_found"})
	if err != nil {
		t.Fatal(err)
	}
	o, err := decodeOutcome(payload)
	if err != nil {
		t.Fatal(err)
	}
	if o.CorrelationID != "c1" || o.Reason != "not_found" || o.Succeeded {
		t.Fatalf("unexpected outcome %+v", o)
	}
}

func TestEnqueueReportsBacklog(t *testing.T) {
	out := make(chan Outcome, 1)
	if err := enqueue(out, Outcome{CorrelationID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if err := enqueue(out, Outcome{CorrelationID: "c2"}); err != ErrRelayBacklog {
		t.Fatalf("expected ErrRelayBacklog, got %v", err)
	}
}
