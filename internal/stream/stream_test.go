package stream

import (
	"testing"

	"github.com/logscout/logscout/internal/orchestrator"
)

func TestRegistrySubscribePublish(t *testing.T) {
	r := NewRegistry(nil)
	events, cancel := r.Subscribe("conv-1")
	defer cancel()

	sink := r.SinkFor("conv-1")
	sink.Emit(orchestrator.Event{Type: orchestrator.EventTurnStarted, TurnID: "turn-1"})
	sink.Emit(orchestrator.Event{Type: orchestrator.EventAnswerDelta, TurnID: "turn-1", TextDelta: "hello"})

	e := <-events
	if e.Type != orchestrator.EventTurnStarted {
		t.Fatalf("first event = %q", e.Type)
	}
	e = <-events
	if e.Type != orchestrator.EventAnswerDelta || e.TextDelta != "hello" {
		t.Fatalf("second event = %+v", e)
	}
}

func TestRegistryIsolatesConversations(t *testing.T) {
	r := NewRegistry(nil)
	a, cancelA := r.Subscribe("conv-a")
	defer cancelA()
	_, cancelB := r.Subscribe("conv-b")
	defer cancelB()

	r.Publish("conv-a", orchestrator.Event{Type: orchestrator.EventTurnStarted, TurnID: "t"})

	select {
	case e := <-a:
		if e.TurnID != "t" {
			t.Fatalf("unexpected event: %+v", e)
		}
	default:
		t.Fatal("conv-a subscriber received nothing")
	}
	if got := r.SubscriberCount("conv-a"); got != 1 {
		t.Fatalf("conv-a subscribers = %d", got)
	}
}

func TestRegistryUnsubscribeClosesChannel(t *testing.T) {
	r := NewRegistry(nil)
	events, cancel := r.Subscribe("conv-1")
	cancel()
	cancel() // idempotent

	if _, ok := <-events; ok {
		t.Fatal("channel not closed after unsubscribe")
	}
	if got := r.SubscriberCount("conv-1"); got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}
	// Publishing to a conversation with no subscribers is a no-op.
	r.Publish("conv-1", orchestrator.Event{Type: orchestrator.EventTurnStarted})
}

func TestRegistryDropsWhenSubscriberFull(t *testing.T) {
	r := NewRegistry(nil)
	events, cancel := r.Subscribe("conv-1")
	defer cancel()

	for i := 0; i < 300; i++ {
		r.Publish("conv-1", orchestrator.Event{Type: orchestrator.EventAnswerDelta, TextDelta: "x"})
	}
	// Buffer holds 256; the rest were dropped without blocking.
	if len(events) != 256 {
		t.Fatalf("buffered events = %d, want 256", len(events))
	}
}
