package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the document and certificate handlers
const (
	QuoteIssued     = "quote.issued"
	QuoteRevised    = "quote.revised"
	AgreementIssued = "agreement.issued"
	AgreementSigned = "agreement.signed"
	DocumentEmailed = "document.emailed"
	// Certificate events are "certificate." followed by the audit action
	CertificatePrefix = "certificate."
)

// Event is a domain event about one flow
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	ActorRole string    `json:"actor_role,omitempty"`
	Data      any       `json:"data"`
}

// NewEvent creates an event about subject with a fresh ID and timestamp
func NewEvent(eventType, source, subject string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithActor records the lifecycle role that caused the event
func (e Event) WithActor(role string) Event {
	e.ActorRole = role
	return e
}

// Publisher accepts domain events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Historian reads back the events recorded for a subject
type Historian interface {
	History(ctx context.Context, subject string, limit uint64) ([]Event, error)
}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns the recorded events, optionally filtered by type
func (r *Recorder) Events(types ...string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(types) == 0 {
		return append([]Event(nil), r.events...)
	}
	var out []Event
	for _, e := range r.events {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// History returns up to limit events for subject, oldest first
func (r *Recorder) History(_ context.Context, subject string, limit uint64) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if limit > 0 && uint64(len(out)) >= limit {
			break
		}
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out, nil
}
