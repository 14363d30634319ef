// Package engine implements the onboarding dialogue as an explicit transition table.
//
// The engine is stateless: given a record and the raw input of one event it returns
// the patch to commit and the reply to send. Persistence and delivery belong to the
// caller, which keeps every transition testable without I/O.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/vellora/internal/logging"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/validate"
)

// ErrInvalidStep is returned for records whose step has no transition.
var ErrInvalidStep = errors.New("record step has no transition")

// CodeRedeemer binds activation codes to conversations.
type CodeRedeemer interface {
	Redeem(ctx context.Context, conversationID, code string) (*domain.ActivationCode, error)
}

// Hasher derives a one-way hash from a secret.
type Hasher interface {
	Hash(secret string) (string, error)
}

// Result is the outcome of feeding one input to the engine.
type Result struct {
	Outcome domain.Outcome
	From    domain.Step
	To      domain.Step
	// Patch is empty unless Outcome is accepted or restart.
	Patch domain.Patch
	Reply string
	// Redact is set when the input carried a secret and its message must be deleted.
	Redact bool
}

// Changed reports whether the result must be committed.
func (r Result) Changed() bool {
	return r.Outcome == domain.OutcomeAccepted || r.Outcome == domain.OutcomeRestart
}

// transition validates input at one step and returns the fields it collects.
type transition func(ctx context.Context, e *Engine, rec *domain.Record, input string) (domain.Patch, error)

var table = map[domain.Step]transition{
	domain.StepCode:        acceptCode,
	domain.StepName:        acceptName,
	domain.StepHandle:      acceptHandle,
	domain.StepCredential:  acceptCredential,
	domain.StepTargetKind:  acceptTargetKind,
	domain.StepTargetItems: acceptTargetItems,
	domain.StepUnfollow:    acceptUnfollow,
	domain.StepActiveHours: acceptActiveHours,
}

// Engine is the dialogue state machine.
type Engine struct {
	redeemer CodeRedeemer
	hasher   Hasher
	prompts  *Prompts
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithPrompts replaces the embedded prompt catalogue.
func WithPrompts(p *Prompts) Option {
	return func(e *Engine) {
		e.prompts = p
	}
}

// WithClock overrides the clock used to stamp completion.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger configures a logger for the Engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine redeeming codes through redeemer and hashing credentials with hasher.
func New(redeemer CodeRedeemer, hasher Hasher, opts ...Option) *Engine {
	e := &Engine{
		redeemer: redeemer,
		hasher:   hasher,
		prompts:  DefaultPrompts(),
		now:      time.Now,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prompts exposes the catalogue used by the engine.
func (e *Engine) Prompts() *Prompts {
	return e.prompts
}

// Step feeds one text input to the dialogue.
// Validation failures are reported as a rejected Result, never as an error; errors
// are reserved for collaborator failures (code redemption, hashing).
func (e *Engine) Step(ctx context.Context, rec *domain.Record, input string) (Result, error) {
	res := Result{From: rec.Step, To: rec.Step, Redact: rec.Step == domain.StepCredential}

	if rec.Completed() {
		res.Outcome = domain.OutcomeTerminal
		res.Reply = e.prompts.Messages.AlreadyCompleted
		return res, nil
	}

	accept, ok := table[rec.Step]
	if !ok {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidStep, rec.Step)
	}

	patch, err := accept(ctx, e, rec, input)
	var rejection *validate.Rejection
	switch {
	case errors.As(err, &rejection):
		res.Outcome = domain.OutcomeRejected
		res.Reply = rejection.Reason + "\n\n" + e.prompts.For(rec)
		return res, nil
	case errors.Is(err, domain.ErrCodeUnavailable):
		res.Outcome = domain.OutcomeRejected
		res.Reply = e.prompts.Messages.InvalidCode
		return res, nil
	case err != nil:
		return Result{}, err
	}

	next := rec.Step.Next()
	patch.Expect = domain.Ptr(rec.Step)
	patch.Step = domain.Ptr(next)

	res.Outcome = domain.OutcomeAccepted
	res.To = next
	res.Patch = patch
	res.Reply = e.prompts.For(patch.Apply(rec))

	e.logger.Debug("Transition accepted",
		"conversation_id", rec.ConversationID,
		"from", rec.Step.String(),
		"to", next.String(),
		"fields", patch.Fields(),
	)
	return res, nil
}

// Restart resets a conversation to the activation code step. It is accepted from
// any state; rec may be nil when the conversation has no record yet.
func (e *Engine) Restart(rec *domain.Record) Result {
	from := domain.StepCode
	if rec != nil {
		from = rec.Step
	}
	return Result{
		Outcome: domain.OutcomeRestart,
		From:    from,
		To:      domain.StepCode,
		Patch:   domain.Patch{Reset: true, Step: domain.Ptr(domain.StepCode)},
		Reply:   e.prompts.Steps[domain.StepCode.String()],
	}
}

func acceptCode(ctx context.Context, e *Engine, rec *domain.Record, input string) (domain.Patch, error) {
	code, err := validate.Code(input)
	if err != nil {
		return domain.Patch{}, err
	}
	bound, err := e.redeemer.Redeem(ctx, rec.ConversationID, code)
	if err != nil {
		return domain.Patch{}, err
	}
	return domain.Patch{
		Code:   domain.Ptr(bound.Code),
		Plan:   domain.Ptr(bound.Plan),
		Status: domain.Ptr(bound.Status),
	}, nil
}

func acceptName(_ context.Context, _ *Engine, _ *domain.Record, input string) (domain.Patch, error) {
	name, err := validate.Name(input)
	if err != nil {
		return domain.Patch{}, err
	}
	return domain.Patch{Name: &name}, nil
}

func acceptHandle(_ context.Context, _ *Engine, _ *domain.Record, input string) (domain.Patch, error) {
	handle, err := validate.Handle(input)
	if err != nil {
		return domain.Patch{}, err
	}
	return domain.Patch{Handle: &handle}, nil
}

func acceptCredential(_ context.Context, e *Engine, _ *domain.Record, input string) (domain.Patch, error) {
	secret, err := validate.Credential(input)
	if err != nil {
		return domain.Patch{}, err
	}
	hash, err := e.hasher.Hash(secret)
	if err != nil {
		return domain.Patch{}, fmt.Errorf("hash credential: %w", err)
	}
	return domain.Patch{CredentialHash: &hash}, nil
}

func acceptTargetKind(_ context.Context, _ *Engine, _ *domain.Record, input string) (domain.Patch, error) {
	kind, err := validate.TargetKind(input)
	if err != nil {
		return domain.Patch{}, err
	}
	return domain.Patch{Targeting: &domain.Targeting{Kind: kind}}, nil
}

func acceptTargetItems(_ context.Context, _ *Engine, rec *domain.Record, input string) (domain.Patch, error) {
	if rec.Targeting == nil {
		return domain.Patch{}, fmt.Errorf("%w: targeting kind missing at %s", ErrInvalidStep, rec.Step)
	}
	items, err := validate.TargetItems(input)
	if err != nil {
		return domain.Patch{}, err
	}
	return domain.Patch{Targeting: &domain.Targeting{Kind: rec.Targeting.Kind, Items: items}}, nil
}

func acceptUnfollow(_ context.Context, _ *Engine, _ *domain.Record, input string) (domain.Patch, error) {
	unfollow, err := validate.YesNo(input)
	if err != nil {
		return domain.Patch{}, err
	}
	return domain.Patch{UnfollowInactive: &unfollow}, nil
}

// acceptActiveHours is the single commit point that finalises the record.
func acceptActiveHours(_ context.Context, e *Engine, _ *domain.Record, input string) (domain.Patch, error) {
	hours, err := validate.ActiveHours(input)
	if err != nil {
		return domain.Patch{}, err
	}
	completed := e.now().UTC()
	return domain.Patch{
		ActiveHours: &hours,
		Status:      domain.Ptr(domain.StatusUsed),
		CompletedAt: &completed,
	}, nil
}
