package domain

import "time"

// CodeLength is the number of characters of an activation code.
const CodeLength = 6

// ActivationCode represents a single-use code that can be redeemed for a plan.
type ActivationCode struct {
	Code   string `json:"code"`
	Plan   string `json:"plan"`
	Status Status `json:"status"`

	// ConversationID is empty until the code is redeemed.
	ConversationID string `json:"conversation_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	BoundAt   *time.Time `json:"bound_at,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Clone returns a deep copy.
func (c *ActivationCode) Clone() *ActivationCode {
	if c == nil {
		return nil
	}
	out := *c
	if c.BoundAt != nil {
		v := *c.BoundAt
		out.BoundAt = &v
	}
	if c.UsedAt != nil {
		v := *c.UsedAt
		out.UsedAt = &v
	}
	return &out
}

// Redeemable reports whether conversationID may bind this code given the accepted statuses.
// A code already bound to the same conversation is always redeemable again.
func (c *ActivationCode) Redeemable(conversationID string, accepted []Status) bool {
	if c.ConversationID != "" {
		return c.ConversationID == conversationID
	}
	for _, s := range accepted {
		if c.Status == s {
			return true
		}
	}
	return false
}
