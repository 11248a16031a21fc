package events

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/storyreel/internal/models"
)

func TestPublishAssignsMonotonicSequences(t *testing.T) {
	bus := NewBus(nil)
	jobID := uuid.New()

	e1 := bus.Publish(jobID, Event{Type: EventTypeProgress, Progress: 10})
	e2 := bus.Publish(jobID, Event{Type: EventTypeProgress, Progress: 20})
	e3 := bus.Publish(jobID, Event{Type: EventTypeProgress, Progress: 30})

	if !(e1.Seq < e2.Seq && e2.Seq < e3.Seq) {
		t.Fatalf("sequences not monotonic: %d %d %d", e1.Seq, e2.Seq, e3.Seq)
	}
}

func TestSequencesIndependentAcrossJobs(t *testing.T) {
	bus := NewBus(nil)
	a, b := uuid.New(), uuid.New()

	bus.Publish(a, Event{Type: EventTypeProgress})
	bus.Publish(a, Event{Type: EventTypeProgress})
	eb := bus.Publish(b, Event{Type: EventTypeProgress})

	if eb.Seq != 1 {
		t.Errorf("job b first seq = %d, want 1", eb.Seq)
	}
}

func TestLateSubscriberGetsReplay(t *testing.T) {
	bus := NewBus(nil)
	jobID := uuid.New()

	bus.Publish(jobID, Event{Type: EventTypeProgress, Progress: 10, Message: "first"})
	bus.Publish(jobID, Event{Type: EventTypeProgress, Progress: 40, Message: "latest"})

	sub := bus.Subscribe(jobID)
	defer sub.Close()

	select {
	case e := <-sub.Events():
		if e.Message != "latest" {
			t.Errorf("replayed event = %q, want latest", e.Message)
		}
		if e.Progress != 40 {
			t.Errorf("replayed progress = %d, want 40", e.Progress)
		}
	case <-time.After(time.Second):
		t.Fatal("no replayed event received")
	}
}

func TestTerminalEventEndsAllStreams(t *testing.T) {
	bus := NewBus(nil)
	jobID := uuid.New()

	const subscribers = 3
	subs := make([]*Subscription, subscribers)
	for i := range subs {
		subs[i] = bus.Subscribe(jobID)
	}

	bus.Publish(jobID, Event{Type: EventTypeProgress, Progress: 50})
	result := &models.FinalVideo{Path: "/videos/x/final.mp4", SceneCount: 3}
	bus.Publish(jobID, Event{Type: EventTypeCompleted, Result: result})

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			var last Event
			for e := range sub.Events() {
				last = e
			}
			if last.Type != EventTypeCompleted {
				t.Errorf("subscriber %d last event = %s, want completed", i, last.Type)
			}
			if last.Result == nil || last.Result.Path != result.Path {
				t.Errorf("subscriber %d got result %+v", i, last.Result)
			}
		}(i, sub)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribers did not complete after terminal event")
	}
}

func TestSubscribeAfterTerminalDeliversTerminalAndCloses(t *testing.T) {
	bus := NewBus(nil)
	jobID := uuid.New()

	bus.Publish(jobID, Event{Type: EventTypeFailed, Kind: models.ErrKindValidation, Detail: "too short"})

	sub := bus.Subscribe(jobID)

	e, ok := <-sub.Events()
	if !ok {
		t.Fatal("expected the terminal event before close")
	}
	if e.Type != EventTypeFailed || e.Kind != models.ErrKindValidation {
		t.Errorf("unexpected event: %+v", e)
	}

	if _, ok := <-sub.Events(); ok {
		t.Error("stream should be closed after the terminal event")
	}
}

func TestSlowConsumerIsDropped(t *testing.T) {
	bus := NewBus(nil)
	jobID := uuid.New()

	sub := bus.Subscribe(jobID)
	// Never read: overflow the buffer.
	for i := 0; i < subscriberBuffer+2; i++ {
		bus.Publish(jobID, Event{Type: EventTypeProgress, Progress: i})
	}

	select {
	case <-sub.Dropped():
	case <-time.After(time.Second):
		t.Fatal("slow consumer was not dropped")
	}

	// A publisher must keep working after the drop.
	e := bus.Publish(jobID, Event{Type: EventTypeProgress, Progress: 99})
	if e.Seq == 0 {
		t.Error("publish after drop did not assign a sequence")
	}
}

func TestPostTerminalPublishIsIgnored(t *testing.T) {
	bus := NewBus(nil)
	jobID := uuid.New()

	bus.Publish(jobID, Event{Type: EventTypeCompleted})
	bus.Publish(jobID, Event{Type: EventTypeProgress, Progress: 10})

	latest, ok := bus.Latest(jobID)
	if !ok {
		t.Fatal("latest missing")
	}
	if latest.Type != EventTypeCompleted {
		t.Errorf("latest = %s, want completed", latest.Type)
	}
}
