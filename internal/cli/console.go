package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aretw0/vellora/internal/presentation/tui"
)

// Console is a ports.Messenger that prints replies to a terminal.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	render tui.Renderer
}

// NewConsole returns a Console writing to out. A nil renderer prints plain text.
func NewConsole(out io.Writer, render tui.Renderer) *Console {
	if render == nil {
		render = tui.PlainRenderer
	}
	return &Console{out: out, render: render}
}

// Reply prints the rendered text.
func (c *Console) Reply(ctx context.Context, conversationID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, c.render(text))
	return err
}

// DeleteMessage notes the removal; secrets typed at the console are never echoed.
func (c *Console) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "(message %s removed)\n", messageID)
	return err
}
