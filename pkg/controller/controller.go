// Package controller is the single entry point for inbound conversation events.
//
// For every event it loads the conversation record, runs the dialogue engine,
// commits accepted changes and sends exactly one reply. The credential message
// is deleted on a best-effort basis.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/vellora/internal/logging"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/engine"
	"github.com/aretw0/vellora/pkg/ports"
	"github.com/aretw0/vellora/pkg/retry"
)

// DefaultAttempts bounds how often an event is re-run after losing a version race.
const DefaultAttempts = 3

// ErrPanic wraps a panic recovered while handling an event.
var ErrPanic = errors.New("panic while handling event")

// Gateway is the record access the controller needs.
type Gateway interface {
	Load(ctx context.Context, id string) (*domain.Record, error)
	Commit(ctx context.Context, id string, patch domain.Patch) (*domain.Record, error)
}

// Response describes how an event was handled.
type Response struct {
	CorrelationID string         `json:"correlation_id"`
	Outcome       domain.Outcome `json:"outcome"`
	From          domain.Step    `json:"from"`
	To            domain.Step    `json:"to"`
	Reply         string         `json:"reply"`

	// Record is the committed snapshot, nil when the conversation has none.
	Record *domain.Record `json:"-"`
}

// Controller handles inbound events.
type Controller struct {
	engine    *engine.Engine
	gateway   Gateway
	messenger ports.Messenger

	attempts int
	maxInput int
	hooks    domain.LifecycleHooks
	tracer   trace.Tracer
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures the Controller.
type Option func(*Controller)

// WithAttempts overrides DefaultAttempts.
func WithAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithMaxInputSize overrides DefaultMaxInputSize.
func WithMaxInputSize(n int) Option {
	return func(c *Controller) {
		c.maxInput = n
	}
}

// WithLifecycleHooks registers observers for transitions and completions.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Controller) {
		c.hooks = hooks
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = tracer
	}
}

// WithIDGenerator overrides the correlation id source.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		c.newID = fn
	}
}

// WithLogger configures a logger for the Controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a controller.
func New(eng *engine.Engine, gateway Gateway, messenger ports.Messenger, opts ...Option) *Controller {
	c := &Controller{
		engine:    eng,
		gateway:   gateway,
		messenger: messenger,
		attempts:  DefaultAttempts,
		maxInput:  DefaultMaxInputSize,
		tracer:    otel.Tracer("github.com/aretw0/vellora/pkg/controller"),
		newID:     uuid.NewString,
		now:       time.Now,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle processes one event and sends its reply.
//
// Dialogue failures (invalid answers, unknown commands, a store that is down) are
// answered to the user and reported in the Response; the returned error is non-nil
// when processing failed or the reply could not be delivered.
func (c *Controller) Handle(ctx context.Context, ev domain.Event) (resp Response, err error) {
	corrID := c.newID()
	ctx, span := c.tracer.Start(ctx, "controller.Handle", trace.WithAttributes(
		attribute.String("vellora.conversation_id", ev.ConversationID),
		attribute.String("vellora.correlation_id", corrID),
		attribute.String("vellora.event_kind", string(ev.Kind)),
	))
	defer span.End()

	logger := c.logger.With("conversation_id", ev.ConversationID, "correlation_id", corrID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while handling event", "panic", r, "stack", string(debug.Stack()))
			resp = Response{
				CorrelationID: corrID,
				Outcome:       domain.OutcomeFailed,
				Reply:         c.engine.Prompts().Messages.Apology,
			}
			err = errors.Join(fmt.Errorf("%w: %v", ErrPanic, r), c.reply(ctx, logger, ev.ConversationID, resp.Reply))
			span.SetStatus(otelcodes.Error, "panic")
		}
	}()

	resp, err = c.dispatch(ctx, logger, ev)
	resp.CorrelationID = corrID
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("vellora.outcome", string(resp.Outcome)))

	if replyErr := c.reply(ctx, logger, ev.ConversationID, resp.Reply); replyErr != nil {
		err = errors.Join(err, replyErr)
	}
	if resp.Outcome != domain.OutcomeIgnored && resp.Outcome != domain.OutcomeFailed {
		c.notify(ctx, corrID, ev.ConversationID, resp)
	}
	return resp, err
}

func (c *Controller) dispatch(ctx context.Context, logger *slog.Logger, ev domain.Event) (Response, error) {
	msgs := c.engine.Prompts().Messages

	if ev.ConversationID == "" {
		return Response{Outcome: domain.OutcomeFailed, Reply: msgs.Apology}, errors.New("event has no conversation id")
	}

	if ev.Kind == domain.EventCommand && domain.IsRestart(ev.Command()) {
		return c.restart(ctx, logger, ev)
	}

	// Other commands still reach step: at the credential step a secret may
	// start with a slash, and transports label such messages as commands.
	text, err := SanitizeInput(ev.Text, c.maxInput)
	if err != nil {
		logger.Warn("Input rejected", "err", err)
		// The message may still carry a secret.
		c.redact(ctx, logger, ev)
		return Response{Outcome: domain.OutcomeIgnored, Reply: msgs.InvalidInput}, nil
	}
	return c.step(ctx, logger, ev, text)
}

func (c *Controller) restart(ctx context.Context, logger *slog.Logger, ev domain.Event) (Response, error) {
	var (
		res       engine.Result
		duplicate bool
	)
	rec, err := retry.Do(ctx, c.policy(ctx, logger, "restart"), func(ctx context.Context) (*domain.Record, error) {
		current, err := c.gateway.Load(ctx, ev.ConversationID)
		if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
			return nil, err
		}
		if current != nil && current.Seen(ev.MessageID) {
			duplicate = true
			return current, nil
		}
		res = c.engine.Restart(current)
		res.Patch.MessageID = messageID(ev)
		return c.gateway.Commit(ctx, ev.ConversationID, res.Patch)
	})
	if err != nil {
		return c.failure(logger, err)
	}
	if duplicate {
		logger.Info("Duplicate delivery ignored", "message_id", ev.MessageID)
		return Response{Outcome: domain.OutcomeIgnored, Record: rec}, nil
	}

	logger.Info("Conversation restarted", "from", res.From.String(), "bound", rec.Bound())
	return Response{Outcome: domain.OutcomeRestart, From: res.From, To: res.To, Reply: res.Reply, Record: rec}, nil
}

type stepResult struct {
	engine.Result
	rec       *domain.Record
	duplicate bool
	command   bool
}

func (c *Controller) step(ctx context.Context, logger *slog.Logger, ev domain.Event, text string) (Response, error) {
	var redact bool
	out, err := retry.Do(ctx, c.policy(ctx, logger, "step"), func(ctx context.Context) (stepResult, error) {
		rec, err := c.gateway.Load(ctx, ev.ConversationID)
		if err != nil {
			return stepResult{}, err
		}
		if rec.Seen(ev.MessageID) {
			return stepResult{rec: rec, duplicate: true}, nil
		}
		if rec.Step == domain.StepCredential {
			redact = true
		} else if ev.Kind == domain.EventCommand {
			return stepResult{rec: rec, command: true}, nil
		}

		res, err := c.engine.Step(ctx, rec, text)
		if err != nil {
			return stepResult{}, err
		}
		if !res.Changed() {
			return stepResult{Result: res, rec: rec}, nil
		}
		res.Patch.MessageID = messageID(ev)
		committed, err := c.gateway.Commit(ctx, ev.ConversationID, res.Patch)
		if err != nil {
			return stepResult{}, err
		}
		return stepResult{Result: res, rec: committed}, nil
	})

	if redact || out.Redact {
		c.redact(ctx, logger, ev)
	}

	msgs := c.engine.Prompts().Messages
	switch {
	case errors.Is(err, domain.ErrRecordNotFound) && ev.Kind == domain.EventCommand:
		logger.Info("Unknown command", "command", ev.Command())
		return Response{Outcome: domain.OutcomeIgnored, Reply: msgs.UnknownCommand}, nil
	case errors.Is(err, domain.ErrRecordNotFound):
		return Response{Outcome: domain.OutcomeIgnored, Reply: msgs.BeginFirst}, nil
	case err != nil:
		return c.failure(logger, err)
	case out.duplicate:
		logger.Info("Duplicate delivery ignored", "message_id", ev.MessageID)
		return Response{Outcome: domain.OutcomeIgnored, From: out.rec.Step, To: out.rec.Step, Record: out.rec}, nil
	case out.command:
		logger.Info("Unknown command", "command", ev.Command())
		return Response{Outcome: domain.OutcomeIgnored, Reply: msgs.UnknownCommand}, nil
	}

	logger.Info("Event processed",
		"outcome", string(out.Outcome),
		"from", out.From.String(),
		"to", out.To.String(),
	)
	return Response{
		Outcome: out.Outcome,
		From:    out.From,
		To:      out.To,
		Reply:   out.Reply,
		Record:  out.rec,
	}, nil
}

// failure maps processing errors to the reply the user sees.
func (c *Controller) failure(logger *slog.Logger, err error) (Response, error) {
	msgs := c.engine.Prompts().Messages
	logger.Error("Event processing failed", "err", err)

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) || errors.Is(err, domain.ErrConflict) || errors.Is(err, context.DeadlineExceeded) {
		return Response{Outcome: domain.OutcomeFailed, Reply: msgs.RetryLater}, err
	}
	return Response{Outcome: domain.OutcomeFailed, Reply: msgs.Apology}, err
}

func messageID(ev domain.Event) *string {
	if ev.MessageID == "" {
		return nil
	}
	return domain.Ptr(ev.MessageID)
}

func (c *Controller) redact(ctx context.Context, logger *slog.Logger, ev domain.Event) {
	if ev.MessageID == "" {
		return
	}
	if err := c.messenger.DeleteMessage(context.WithoutCancel(ctx), ev.ConversationID, ev.MessageID); err != nil {
		logger.Warn("Failed to delete credential message", "message_id", ev.MessageID, "err", err)
	}
}

func (c *Controller) reply(ctx context.Context, logger *slog.Logger, conversationID, text string) error {
	if text == "" {
		return nil
	}
	if err := c.messenger.Reply(context.WithoutCancel(ctx), conversationID, text); err != nil {
		logger.Error("Failed to deliver reply", "err", err)
		return fmt.Errorf("deliver reply: %w", err)
	}
	return nil
}

func (c *Controller) notify(ctx context.Context, corrID, conversationID string, resp Response) {
	if c.hooks.OnTransition != nil {
		c.hooks.OnTransition(ctx, &domain.TransitionEvent{
			Timestamp:      c.now(),
			ConversationID: conversationID,
			CorrelationID:  corrID,
			From:           resp.From,
			To:             resp.To,
			Outcome:        resp.Outcome,
		})
	}
	if c.hooks.OnCompleted != nil && resp.Outcome == domain.OutcomeAccepted && resp.To.Terminal() && resp.Record != nil {
		c.hooks.OnCompleted(ctx, resp.Record.Clone())
	}
}

// policy re-runs an event that lost a version race.
func (c *Controller) policy(ctx context.Context, logger *slog.Logger, op string) retry.Policy {
	return retry.Policy{
		Op:        op,
		Attempts:  c.attempts,
		Retryable: retry.On(domain.ErrConflict),
		OnRetry: func(err error, attempt int) {
			logger.Debug("Version conflict, re-running event", "op", op, "attempt", attempt)
			if c.hooks.OnConflict != nil {
				c.hooks.OnConflict(ctx, op)
			}
		},
	}
}
