package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/aretw0/vellora/pkg/domain"
)

// SecretReader reads one line without echoing it.
type SecretReader func() (string, error)

// ChatOptions configures an interactive conversation.
type ChatOptions struct {
	ConversationID string
	In             io.Reader
	Out            io.Writer

	// Secret reads the answer at the credential step. Nil reads a normal line.
	Secret SecretReader
}

// TerminalSecret returns a SecretReader for f, or nil when f is not a terminal.
func TerminalSecret(f *os.File) SecretReader {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func() (string, error) {
		b, err := term.ReadPassword(fd)
		return string(b), err
	}
}

// Chat runs the onboarding dialogue for one conversation on a line based
// terminal. Lines starting with "/" are sent as commands, "exit" and "quit"
// leave the loop. Replies go through app.Messenger.
func Chat(ctx context.Context, app *App, opts ChatOptions) error {
	if opts.ConversationID == "" {
		return errors.New("chat: conversation id is required")
	}
	id := opts.ConversationID
	lines := bufio.NewScanner(opts.In)
	// Message ids must not repeat across sessions of the same conversation.
	sessionID := uuid.NewString()
	msgSeq := 0

	// The controller already answered failures; the error is only logged.
	send := func(ev domain.Event) {
		msgSeq++
		ev.ConversationID = id
		ev.MessageID = sessionID + "-" + strconv.Itoa(msgSeq)
		if resp, err := app.Controller.Handle(ctx, ev); err != nil {
			app.Logger.Debug("Event failed", "correlation_id", resp.CorrelationID, "err", err)
		}
	}

	rec, err := app.Gateway.Load(ctx, id)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		send(domain.Event{Kind: domain.EventCommand, Text: "/" + domain.CommandStart})
	case err != nil:
		return fmt.Errorf("load conversation %q: %w", id, err)
	default:
		printSystemMessage(opts.Out, "Resuming at '%s' step.", rec.Step)
		if err := app.Messenger.Reply(ctx, id, app.Engine.Prompts().For(rec)); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return handleExecutionError(err)
		}

		secret := opts.Secret != nil && atCredentialStep(ctx, app, id)
		fmt.Fprint(opts.Out, "> ")

		var line string
		if secret {
			line, err = opts.Secret()
			fmt.Fprintln(opts.Out)
			if err != nil {
				return handleExecutionError(fmt.Errorf("read secret: %w", err))
			}
		} else {
			if !lines.Scan() {
				if err := lines.Err(); err != nil {
					return handleExecutionError(err)
				}
				printSystemMessage(opts.Out, "Bye!")
				return nil
			}
			line = lines.Text()
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case !secret && (line == "exit" || line == "quit"):
			printSystemMessage(opts.Out, "Bye!")
			return nil
		case strings.HasPrefix(line, "/"):
			send(domain.Event{Kind: domain.EventCommand, Text: line})
		default:
			send(domain.Event{Kind: domain.EventText, Text: line})
		}
	}
}

func atCredentialStep(ctx context.Context, app *App, id string) bool {
	rec, err := app.Gateway.Load(ctx, id)
	return err == nil && rec.Step == domain.StepCredential
}
