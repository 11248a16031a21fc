// Package events provides in-process fan-out of per-job progress events with
// last-event replay for late-joining subscribers.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/storyreel/internal/models"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeProgress  EventType = "progress"
	EventTypeCompleted EventType = "completed"
	EventTypeFailed    EventType = "failed"
)

// Event is a sequenced payload consumed by progress subscribers.
type Event struct {
	Seq       int64              `json:"seq"`
	Timestamp time.Time          `json:"timestamp"`
	JobID     uuid.UUID          `json:"job_id"`
	Type      EventType          `json:"type"`
	Stage     models.Stage       `json:"stage,omitempty"`
	Progress  int                `json:"progress,omitempty"`
	Message   string             `json:"message,omitempty"`
	Result    *models.FinalVideo `json:"result,omitempty"`
	Kind      models.ErrorKind   `json:"kind,omitempty"`
	Detail    string             `json:"detail,omitempty"`
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventTypeCompleted || e.Type == EventTypeFailed
}

// subscriberBuffer bounds how far a subscriber may lag before it is dropped.
const subscriberBuffer = 64

// Subscription is one observer's view of a job's event stream. Events()
// yields the replayed latest event (if any) followed by live events, and is
// closed after a terminal event is delivered or the subscriber is dropped.
type Subscription struct {
	ch      chan Event
	dropped chan struct{}
	once    sync.Once
	bus     *Bus
	jobID   uuid.UUID
}

// Events returns the receive channel for this subscription.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped is closed when the subscriber was disconnected for not keeping up.
func (s *Subscription) Dropped() <-chan struct{} { return s.dropped }

// Close detaches the subscription early. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.jobID, s)
		close(s.ch)
	})
}

// closeDropped marks the subscriber as too slow and detaches it.
// Caller must not hold the bus lock for the jobState in question.
func (s *Subscription) closeDropped() {
	s.once.Do(func() {
		close(s.dropped)
		close(s.ch)
	})
}

func (s *Subscription) closeTerminal() {
	s.once.Do(func() {
		close(s.ch)
	})
}

type jobState struct {
	nextSeq     int64
	latest      *Event
	subscribers []*Subscription
	terminal    bool
}

// Relay mirrors published events to an external channel (Redis pub/sub).
// Implementations must not block the publisher.
type Relay interface {
	Relay(event Event)
}

// Bus is the process-wide event bus. Safe for concurrent use; a publisher
// never blocks on subscriber throughput.
type Bus struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*jobState
	relay Relay
}

// NewBus creates an empty bus. relay may be nil.
func NewBus(relay Relay) *Bus {
	return &Bus{
		jobs:  make(map[uuid.UUID]*jobState),
		relay: relay,
	}
}

// Publish appends an event for a job, assigning a fresh sequence number, and
// fans it out to all current subscribers. Subscribers whose buffers are full
// are dropped with a slow-consumer signal.
func (b *Bus) Publish(jobID uuid.UUID, event Event) Event {
	b.mu.Lock()

	state := b.jobs[jobID]
	if state == nil {
		state = &jobState{}
		b.jobs[jobID] = state
	}
	if state.terminal {
		// A terminal event already went out; late publishes are a bug in the
		// caller, not something to propagate to observers.
		b.mu.Unlock()
		log.Printf("[Events] Dropping post-terminal event for job %s (type=%s)", jobID, event.Type)
		return event
	}

	state.nextSeq++
	event.Seq = state.nextSeq
	event.JobID = jobID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	stored := event
	state.latest = &stored

	var slow []*Subscription
	for _, sub := range state.subscribers {
		select {
		case sub.ch <- event:
		default:
			slow = append(slow, sub)
		}
	}

	subscribers := state.subscribers
	if event.Terminal() {
		state.terminal = true
		state.subscribers = nil
	} else if len(slow) > 0 {
		kept := subscribers[:0]
		for _, sub := range subscribers {
			if !contains(slow, sub) {
				kept = append(kept, sub)
			}
		}
		state.subscribers = kept
	}
	b.mu.Unlock()

	for _, sub := range slow {
		log.Printf("[Events] Dropping slow consumer for job %s at seq %d", jobID, event.Seq)
		sub.closeDropped()
	}
	if event.Terminal() {
		for _, sub := range subscribers {
			if !contains(slow, sub) {
				sub.closeTerminal()
			}
		}
	}

	if b.relay != nil {
		b.relay.Relay(event)
	}

	return event
}

// Subscribe attaches an observer to a job's stream. The latest event (if any)
// is replayed first. If the job already reached a terminal state the
// subscription delivers that terminal event and completes immediately.
func (b *Bus) Subscribe(jobID uuid.UUID) *Subscription {
	sub := &Subscription{
		ch:      make(chan Event, subscriberBuffer),
		dropped: make(chan struct{}),
		bus:     b,
		jobID:   jobID,
	}

	b.mu.Lock()
	state := b.jobs[jobID]
	if state == nil {
		state = &jobState{}
		b.jobs[jobID] = state
	}

	if state.latest != nil {
		sub.ch <- *state.latest
	}
	if state.terminal {
		b.mu.Unlock()
		sub.closeTerminal()
		return sub
	}
	state.subscribers = append(state.subscribers, sub)
	b.mu.Unlock()

	return sub
}

// Latest returns the most recent event for a job, if any.
func (b *Bus) Latest(jobID uuid.UUID) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.jobs[jobID]
	if state == nil || state.latest == nil {
		return Event{}, false
	}
	return *state.latest, true
}

// Forget drops all bus state for a job, including the latest event kept for
// replay. The engine does not call it; per-job state otherwise stays on the
// bus for the life of the process.
func (b *Bus) Forget(jobID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobs, jobID)
}

func (b *Bus) unsubscribe(jobID uuid.UUID, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.jobs[jobID]
	if state == nil {
		return
	}
	for i, s := range state.subscribers {
		if s == sub {
			state.subscribers = append(state.subscribers[:i], state.subscribers[i+1:]...)
			return
		}
	}
}

func contains(subs []*Subscription, target *Subscription) bool {
	for _, s := range subs {
		if s == target {
			return true
		}
	}
	return false
}
