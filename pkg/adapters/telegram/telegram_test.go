package telegram_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/vellora/pkg/adapters/telegram"
	"github.com/aretw0/vellora/pkg/domain"
)

type botServer struct {
	mu      sync.Mutex
	calls   []string
	forms   []url.Values
	fail    int
	limited int
	status  int
}

func (b *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = r.ParseForm()
	b.calls = append(b.calls, r.URL.Path)
	b.forms = append(b.forms, r.PostForm)

	switch {
	case b.fail > 0:
		b.fail--
		w.WriteHeader(http.StatusBadGateway)
	case b.limited > 0:
		b.limited--
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`)
	case b.status != 0:
		w.WriteHeader(b.status)
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: message can't be deleted"}`)
	default:
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}
}

func newClient(t *testing.T, b *botServer) *telegram.Client {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return telegram.NewClient("123:abc", telegram.WithBaseURL(srv.URL), telegram.WithRetry(3, 0))
}

func TestClient_Reply(t *testing.T) {
	b := &botServer{}
	c := newClient(t, b)

	require.NoError(t, c.Reply(context.Background(), "42", "hello"))
	require.Len(t, b.calls, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", b.calls[0])
	assert.Equal(t, "42", b.forms[0].Get("chat_id"))
	assert.Equal(t, "hello", b.forms[0].Get("text"))
}

func TestClient_DeleteMessage(t *testing.T) {
	b := &botServer{}
	c := newClient(t, b)

	require.NoError(t, c.DeleteMessage(context.Background(), "42", "7"))
	assert.Equal(t, "/bot123:abc/deleteMessage", b.calls[0])
	assert.Equal(t, "7", b.forms[0].Get("message_id"))

	assert.Error(t, c.DeleteMessage(context.Background(), "42", "not-a-number"))
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	b := &botServer{fail: 1, limited: 1}
	c := newClient(t, b)

	require.NoError(t, c.Reply(context.Background(), "42", "hello"))
	assert.Len(t, b.calls, 3)
}

func TestClient_GivesUpWithoutLeakingToken(t *testing.T) {
	c := telegram.NewClient("123:abc", telegram.WithBaseURL("http://127.0.0.1:1"), telegram.WithRetry(2, 0))
	err := c.Reply(context.Background(), "42", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, telegram.ErrTransient)
	assert.NotContains(t, err.Error(), "123:abc")
}

func TestClient_APIErrorIsNotRetried(t *testing.T) {
	b := &botServer{status: http.StatusBadRequest}
	c := newClient(t, b)

	err := c.DeleteMessage(context.Background(), "42", "7")
	var apiErr *telegram.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Code)
	assert.Contains(t, apiErr.Description, "can't be deleted")
	assert.Len(t, b.calls, 1)
}

func TestClient_InvalidChatID(t *testing.T) {
	c := telegram.NewClient("t")
	assert.Error(t, c.Reply(context.Background(), "chat", "hi"))
}

func TestDecodeUpdate(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
		want domain.Event
	}{
		{
			name: "Command",
			body: `{"update_id":1,"message":{"message_id":5,"chat":{"id":42},"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`,
			ok:   true,
			want: domain.Event{ConversationID: "42", MessageID: "5", Kind: domain.EventCommand, Text: "/start"},
		},
		{
			name: "Text",
			body: `{"update_id":2,"message":{"message_id":6,"chat":{"id":-100},"text":"Jo Lin"}}`,
			ok:   true,
			want: domain.Event{ConversationID: "-100", MessageID: "6", Kind: domain.EventText, Text: "Jo Lin"},
		},
		{
			name: "No Message",
			body: `{"update_id":3,"edited_message":{"message_id":6,"chat":{"id":1},"text":"x"}}`,
		},
		{
			name: "Slash Without Entity",
			body: `{"update_id":5,"message":{"message_id":8,"chat":{"id":42},"text":"/hunter2"}}`,
			ok:   true,
			want: domain.Event{ConversationID: "42", MessageID: "8", Kind: domain.EventCommand, Text: "/hunter2"},
		},
		{
			name: "Sticker",
			body: `{"update_id":4,"message":{"message_id":6,"chat":{"id":1}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := telegram.DecodeUpdate(strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, ev)
			}
		})
	}

	_, _, err := telegram.DecodeUpdate(strings.NewReader("{"))
	assert.Error(t, err)
}

func TestVerifySecret(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", nil)
	assert.True(t, telegram.VerifySecret(r, ""))
	assert.False(t, telegram.VerifySecret(r, "s3"))

	r.Header.Set(telegram.SecretHeader, "s3")
	assert.True(t, telegram.VerifySecret(r, "s3"))
}
