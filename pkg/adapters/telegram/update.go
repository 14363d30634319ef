package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/aretw0/vellora/pkg/domain"
)

// SecretHeader carries the secret token configured with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// DecodeUpdate reads an update from r. ok is false for updates without a text
// message, which the bot ignores.
func DecodeUpdate(r io.Reader) (ev domain.Event, ok bool, err error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return domain.Event{}, false, fmt.Errorf("telegram: decode update: %w", err)
	}
	m := u.Message
	if m == nil || m.Chat == nil || m.Text == "" {
		return domain.Event{}, false, nil
	}
	return MessageEvent(m), true, nil
}

// MessageEvent converts a chat message into a controller event. Any text
// starting with a slash counts as a command, with or without an entity.
func MessageEvent(m *tgbotapi.Message) domain.Event {
	kind := domain.EventText
	if m.IsCommand() || strings.HasPrefix(m.Text, "/") {
		kind = domain.EventCommand
	}
	return domain.Event{
		ConversationID: strconv.FormatInt(m.Chat.ID, 10),
		MessageID:      strconv.Itoa(m.MessageID),
		Kind:           kind,
		Text:           m.Text,
	}
}

// VerifySecret reports whether r carries the expected secret token.
// An empty secret disables the check.
func VerifySecret(r *http.Request, secret string) bool {
	if secret == "" {
		return true
	}
	got := r.Header.Get(SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
