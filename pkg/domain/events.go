package domain

import (
	"context"
	"time"
)

// EventKind distinguishes commands from free text.
type EventKind string

const (
	EventCommand EventKind = "command"
	EventText    EventKind = "text"
)

// Event is an inbound message delivered by the messaging transport.
type Event struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	Kind           EventKind `json:"kind"`
	Text           string    `json:"text"`
}

// Command returns the command name without its leading slash or bot suffix
// ("/start@VelloraBot" -> "start"). It returns "" for text events.
func (e Event) Command() string {
	if e.Kind != EventCommand {
		return ""
	}
	name := e.Text
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	for i, r := range name {
		if r == '@' || r == ' ' {
			name = name[:i]
			break
		}
	}
	return name
}

// Outcome classifies the result of processing one event.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeTerminal Outcome = "terminal"
	OutcomeRestart  Outcome = "restart"
	// OutcomeIgnored marks events answered without touching the dialogue.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeFailed marks events that could not be processed.
	OutcomeFailed Outcome = "failed"
)

// TransitionEvent describes one processed event for observers.
type TransitionEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	CorrelationID  string    `json:"correlation_id"`
	From           Step      `json:"from"`
	To             Step      `json:"to"`
	Outcome        Outcome   `json:"outcome"`
}

// LifecycleHooks defines callbacks for controller observability.
type LifecycleHooks struct {
	OnTransition func(context.Context, *TransitionEvent)
	OnCompleted  func(context.Context, *Record)

	// OnConflict is called before an event is re-run after a version race.
	OnConflict func(ctx context.Context, op string)
}
