package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Event types published after a state change commits.
const (
	CitationIssued          = "citation.issued"
	CitationPaymentRecorded = "citation.payment_recorded"
	CitationOverdue         = "citation.overdue"
	CitationVoided          = "citation.voided"
	CitationUpdated         = "citation.updated"
	ContestSubmitted        = "contest.submitted"
	ContestUnderReview      = "contest.under_review"
	ContestApproved         = "contest.approved"
	ContestRejected         = "contest.rejected"
	ContestWithdrawn        = "contest.withdrawn"
	RuleVersionCreated      = "rule.version_created"
	RuleDeactivated         = "rule.deactivated"
)

// Event describes a committed change to a citation, contest or rule.
type Event struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	AggregateID string      `json:"aggregate_id"`
	Reference   string      `json:"reference,omitempty"`
	Actor       string      `json:"actor,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Payload     interface{} `json:"payload,omitempty"`
}

// New creates an event with a fresh ID.
func New(eventType, aggregateID, reference, actor string, at time.Time, payload interface{}) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		Reference:   reference,
		Actor:       actor,
		OccurredAt:  at,
		Payload:     payload,
	}
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout delivers each event to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var err error
	for _, p := range f {
		err = multierr.Append(err, p.Publish(ctx, event))
	}
	return err
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of every published event in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}
