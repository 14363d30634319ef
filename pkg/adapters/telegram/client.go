// Package telegram connects the conversation controller to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/aretw0/vellora/internal/logging"
	"github.com/aretw0/vellora/pkg/retry"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// ErrTransient marks Bot API failures worth retrying (rate limits, server errors).
var ErrTransient = errors.New("telegram: transient failure")

// APIError is a non-retryable error reported by the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// Client implements ports.Messenger over the Bot API.
type Client struct {
	bot      *tgbotapi.BotAPI
	token    string
	baseURL  string
	http     *http.Client
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL points the client at another Bot API server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetry sets the attempts and initial delay for transient failures.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

// WithLogger configures a logger for the Client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Bot API client for token. Unlike tgbotapi.NewBotAPI it
// does not call getMe, so building the client never touches the network.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:    token,
		baseURL:  DefaultAPIURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		attempts: 3,
		delay:    200 * time.Millisecond,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bot = &tgbotapi.BotAPI{
		Token:  token,
		Client: c.http,
		Buffer: 100,
	}
	c.bot.SetAPIEndpoint(c.baseURL + "/bot%s/%s")
	return c
}

// Reply sends text to a chat.
func (c *Client) Reply(ctx context.Context, conversationID, text string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", conversationID, err)
	}
	return c.call(ctx, "sendMessage", tgbotapi.NewMessage(chatID, text))
}

// DeleteMessage removes a message from a chat.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", conversationID, err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q: %w", messageID, err)
	}
	return c.call(ctx, "deleteMessage", tgbotapi.NewDeleteMessage(chatID, msgID))
}

func (c *Client) call(ctx context.Context, method string, msg tgbotapi.Chattable) error {
	return retry.Run(ctx, retry.Policy{
		Op:        "telegram " + method,
		Attempts:  c.attempts,
		Delay:     c.delay,
		Retryable: retry.On(ErrTransient),
		OnRetry: func(err error, attempt int) {
			c.logger.Warn("Retrying Bot API call", "method", method, "attempt", attempt, "err", err)
		},
	}, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.bot.Request(msg)
		return c.classify(method, err)
	})
}

// classify splits Bot API failures into retryable and final ones.
func (c *Client) classify(method string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ptrErr *tgbotapi.Error
		valErr tgbotapi.Error
		code   int
		desc   string
	)
	switch {
	case errors.As(err, &ptrErr):
		code, desc = ptrErr.Code, ptrErr.Message
	case errors.As(err, &valErr):
		code, desc = valErr.Code, valErr.Message
	default:
		// Transport and decoding failures; the error text may embed the request URL.
		return fmt.Errorf("%w: %s: %s", ErrTransient, method, redact(err.Error(), c.token))
	}
	if code == http.StatusTooManyRequests || code >= 500 {
		return fmt.Errorf("%w: %s returned %d", ErrTransient, method, code)
	}
	return &APIError{Method: method, Code: code, Description: desc}
}

// redact keeps the bot token out of error messages that embed the request URL.
func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "<token>")
}
