package ports

import "context"

// Messenger is the outbound side of the messaging transport.
type Messenger interface {
	// Reply sends text to the conversation.
	Reply(ctx context.Context, conversationID, text string) error

	// DeleteMessage removes a message from the conversation. Callers treat failures as non-fatal.
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
}
