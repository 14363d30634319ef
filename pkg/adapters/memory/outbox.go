package memory

import (
	"context"
	"sync"
)

// Message is one reply recorded by the Outbox.
type Message struct {
	ConversationID string
	Text           string
}

// Outbox implements ports.Messenger by recording replies and deletions.
type Outbox struct {
	mu      sync.Mutex
	replies []Message
	deleted []string

	// FailDeletes makes DeleteMessage fail, to exercise best-effort handling.
	FailDeletes error
	// FailReplies makes Reply fail.
	FailReplies error
}

// NewOutbox creates an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Reply records a reply.
func (o *Outbox) Reply(ctx context.Context, conversationID, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailReplies != nil {
		return o.FailReplies
	}
	o.replies = append(o.replies, Message{ConversationID: conversationID, Text: text})
	return nil
}

// DeleteMessage records a deletion.
func (o *Outbox) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailDeletes != nil {
		return o.FailDeletes
	}
	o.deleted = append(o.deleted, conversationID+"/"+messageID)
	return nil
}

// Replies returns the recorded replies.
func (o *Outbox) Replies() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.replies...)
}

// Last returns the most recent reply text, or "".
func (o *Outbox) Last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.replies) == 0 {
		return ""
	}
	return o.replies[len(o.replies)-1].Text
}

// Deleted returns the deleted messages as "conversation/message" keys.
func (o *Outbox) Deleted() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.deleted...)
}
