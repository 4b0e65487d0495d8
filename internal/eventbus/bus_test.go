package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe(TypeAnalysisDone, received)

	bus.Publish(Event{
		Type:     TypeAnalysisDone,
		EquityID: 7,
		Quarter:  "Q1",
		Year:     2027,
		Data:     map[string]int64{"analysis_id": 3},
	})

	select {
	case evt := <-received:
		if evt.Type != TypeAnalysisDone {
			t.Errorf("expected %s, got %s", TypeAnalysisDone, evt.Type)
		}
		if evt.EquityID != 7 {
			t.Errorf("expected equity 7, got %d", evt.EquityID)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp should be filled in on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan Event, 10)
	ch2 := make(chan Event, 10)
	bus.Subscribe(TypeTranscriptAvailable, ch1)
	bus.Subscribe(TypeTranscriptAvailable, ch2)

	bus.Publish(Event{Type: TypeTranscriptAvailable, EquityID: 1})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	analysisCh := make(chan Event, 10)
	researchCh := make(chan Event, 10)
	bus.Subscribe(TypeAnalysisDone, analysisCh)
	bus.Subscribe(TypeResearchDone, researchCh)

	bus.Publish(Event{Type: TypeAnalysisDone, EquityID: 1})

	select {
	case <-analysisCh:
	case <-time.After(time.Second):
		t.Fatal("analysis subscriber did not receive event")
	}

	select {
	case <-researchCh:
		t.Fatal("research subscriber should NOT receive analysis.done event")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}

func TestBus_PublishBatch(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 100)
	bus.Subscribe(TypeEmailSent, received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			bus.Publish(Event{Type: TypeEmailSent, EquityID: id})
		}(int64(i))
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)
	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := New()

	received := make(chan Event, 1)
	bus.Subscribe(TypeResearchDone, received)

	bus.Close()
	bus.Publish(Event{Type: TypeResearchDone})

	select {
	case <-received:
		t.Fatal("closed bus should drop events")
	case <-time.After(50 * time.Millisecond):
	}
}
