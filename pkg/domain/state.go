package domain

import (
	"reflect"
	"time"
)

// Status is the lifecycle gate of a conversation and of its activation code.
type Status string

const (
	StatusPending Status = "pending" // Code minted, payment not yet confirmed
	StatusUnused  Status = "unused"  // Payment confirmed, dialogue not finished
	StatusUsed    Status = "used"    // Dialogue completed
)

// rank orders statuses along the only valid lifecycle pending -> unused -> used.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusUnused:
		return 2
	case StatusUsed:
		return 3
	}
	return 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() > 0
}

// Precedes reports whether moving from s to next is a forward lifecycle transition.
func (s Status) Precedes(next Status) bool {
	return s.rank() < next.rank() && next.Valid()
}

// ParseStatus converts a stored value into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// TargetKind selects what the automation engages with.
type TargetKind string

const (
	TargetHashtags TargetKind = "hashtags"
	TargetAccounts TargetKind = "accounts"
)

// MaxTargetItems caps the targeting list.
const MaxTargetItems = 5

// Targeting is the user's engagement focus.
type Targeting struct {
	Kind  TargetKind `json:"kind"`
	Items []string   `json:"items"`
}

// Clone returns a deep copy.
func (t *Targeting) Clone() *Targeting {
	if t == nil {
		return nil
	}
	c := &Targeting{Kind: t.Kind}
	if t.Items != nil {
		c.Items = append([]string(nil), t.Items...)
	}
	return c
}

// Record represents the durable snapshot of one onboarding conversation.
// Empty strings stand for fields that have not been collected yet.
type Record struct {
	ConversationID string `json:"conversation_id"`

	// Code is the redeemed activation code, empty until step 0 is accepted.
	Code   string `json:"code,omitempty"`
	Status Status `json:"status"`
	Step   Step   `json:"step"`
	Plan   string `json:"plan,omitempty"`

	Name   string `json:"name,omitempty"`
	Handle string `json:"handle,omitempty"`

	// CredentialHash is a one-way hash. The raw secret never reaches the store.
	CredentialHash string `json:"credential_hash,omitempty"`

	Targeting        *Targeting `json:"targeting,omitempty"`
	UnfollowInactive *bool      `json:"unfollow_inactive,omitempty"`
	ActiveHours      string     `json:"active_hours,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	// LastMessageID is the transport id of the last event that changed the record.
	// A redelivered message carrying the same id is not applied twice.
	LastMessageID string `json:"last_message_id,omitempty"`

	// Version is the optimistic concurrency token. It is owned by the store:
	// zero means "not persisted yet", and every successful Put increments it.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates a clean record awaiting an activation code.
func NewRecord(conversationID string) *Record {
	return &Record{
		ConversationID: conversationID,
		Status:         StatusPending,
		Step:           StepCode,
	}
}

// Clone returns a deep copy so callers cannot mutate stored state through pointers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Targeting = r.Targeting.Clone()
	if r.UnfollowInactive != nil {
		v := *r.UnfollowInactive
		c.UnfollowInactive = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// Bound reports whether an activation code has been redeemed for this conversation.
func (r *Record) Bound() bool {
	return r.Code != ""
}

// Completed reports whether the dialogue reached its terminal step.
// A restart clears CompletedAt and re-opens the dialogue.
func (r *Record) Completed() bool {
	return r.Step.Terminal() || (r.Status == StatusUsed && r.CompletedAt != nil)
}

// Seen reports whether the event with messageID was already applied to the record.
func (r *Record) Seen(messageID string) bool {
	return messageID != "" && r.LastMessageID == messageID
}

// Equivalent compares the collected content of two records, ignoring the
// bookkeeping fields maintained by the store and the delivery marker.
func (r *Record) Equivalent(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	a, b := r.Clone(), other.Clone()
	a.Version, b.Version = 0, 0
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	a.LastMessageID, b.LastMessageID = "", ""
	if a.CompletedAt != nil && b.CompletedAt != nil && a.CompletedAt.Equal(*b.CompletedAt) {
		a.CompletedAt = b.CompletedAt
	}
	return reflect.DeepEqual(a, b)
}
