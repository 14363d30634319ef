// Package mcp exposes Vellora operator tooling as a Model Context Protocol server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/vellora"
	"github.com/aretw0/vellora/internal/logging"
	"github.com/aretw0/vellora/pkg/billing"
	"github.com/aretw0/vellora/pkg/controller"
	"github.com/aretw0/vellora/pkg/domain"
)

// PlansURI is the resource listing the purchasable plans.
const PlansURI = "vellora://plans"

// EventHandler processes one conversation event.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.Event) (controller.Response, error)
}

// Records reads conversation records.
type Records interface {
	Load(ctx context.Context, id string) (*domain.Record, error)
	List(ctx context.Context) ([]string, error)
}

// Codes issues and confirms activation codes.
type Codes interface {
	Generate(ctx context.Context, plan string) (*domain.ActivationCode, error)
	Confirm(ctx context.Context, code string) (*domain.ActivationCode, error)
}

// CodeResult describes an activation code.
type CodeResult struct {
	Code           string        `json:"code" jsonschema_description:"The six character activation code"`
	Plan           string        `json:"plan" jsonschema_description:"Plan the code was bought for"`
	Status         domain.Status `json:"status" jsonschema_description:"pending, unused or used"`
	ConversationID string        `json:"conversation_id,omitempty" jsonschema_description:"Conversation the code is bound to"`
}

// RecordView is the operator's view of a conversation record. The credential
// hash is never exposed.
type RecordView struct {
	ConversationID   string            `json:"conversation_id"`
	Step             string            `json:"step"`
	Status           domain.Status     `json:"status"`
	Code             string            `json:"code,omitempty"`
	Plan             string            `json:"plan,omitempty"`
	Name             string            `json:"name,omitempty"`
	Handle           string            `json:"handle,omitempty"`
	HasCredential    bool              `json:"has_credential"`
	Targeting        *domain.Targeting `json:"targeting,omitempty"`
	UnfollowInactive *bool             `json:"unfollow_inactive,omitempty"`
	ActiveHours      string            `json:"active_hours,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	Version          int64             `json:"version"`
}

// EventResult is the outcome of an event injected by an operator.
type EventResult struct {
	CorrelationID string         `json:"correlation_id"`
	Outcome       domain.Outcome `json:"outcome"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	Reply         string         `json:"reply"`
}

type planArgs struct {
	Plan string `mapstructure:"plan"`
}

type codeArgs struct {
	Code string `mapstructure:"code"`
}

type conversationArgs struct {
	ConversationID string `mapstructure:"conversation_id"`
}

type messageArgs struct {
	ConversationID string `mapstructure:"conversation_id"`
	Text           string `mapstructure:"text"`
}

// Server exposes Vellora operations as an MCP Server.
type Server struct {
	events    EventHandler
	records   Records
	codes     Codes
	catalogue billing.Catalogue
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(events EventHandler, records Records, codes Codes, catalogue billing.Catalogue, opts ...Option) *Server {
	s := &Server{
		events:    events,
		records:   records,
		codes:     codes,
		catalogue: catalogue,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("vellora-mcp", strings.TrimSpace(vellora.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on addr using SSE and stops it when ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	// TOOL: generate_code
	s.mcpServer.AddTool(mcp.NewTool("generate_code",
		mcp.WithDescription("Mint a pending activation code for a plan, as a checkout would."),
		mcp.WithString("plan", mcp.Required(), mcp.Description("Plan identifier, e.g. grower or bloomer")),
		mcp.WithOutputSchema[CodeResult](),
	), mcp.NewStructuredToolHandler(s.handleGenerateCode))

	// TOOL: confirm_code
	s.mcpServer.AddTool(mcp.NewTool("confirm_code",
		mcp.WithDescription("Mark a pending code as paid so it can be redeemed."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Activation code")),
		mcp.WithOutputSchema[CodeResult](),
	), mcp.NewStructuredToolHandler(s.handleConfirmCode))

	// TOOL: inspect_record
	s.mcpServer.AddTool(mcp.NewTool("inspect_record",
		mcp.WithDescription("Show the onboarding record of a conversation."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier")),
		mcp.WithOutputSchema[RecordView](),
	), mcp.NewStructuredToolHandler(s.handleInspectRecord))

	// TOOL: restart_conversation
	s.mcpServer.AddTool(mcp.NewTool("restart_conversation",
		mcp.WithDescription("Reset a conversation to the first step, as if the user sent the begin command."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier")),
		mcp.WithOutputSchema[EventResult](),
	), mcp.NewStructuredToolHandler(s.handleRestart))

	// TOOL: send_message
	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Deliver a text message to a conversation on behalf of its user."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
		mcp.WithOutputSchema[EventResult](),
	), mcp.NewStructuredToolHandler(s.handleSendMessage))

	// TOOL: list_records
	s.mcpServer.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List the conversations that have a stored record."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := s.records.List(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		jsonBytes, _ := json.Marshal(ids)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

// Handler methods for structured tools

func (s *Server) handleGenerateCode(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (CodeResult, error) {
	var in planArgs
	if err := decodeArgs(args, &in); err != nil {
		return CodeResult{}, err
	}
	plan, err := s.catalogue.Lookup(in.Plan)
	if err != nil {
		return CodeResult{}, err
	}
	code, err := s.codes.Generate(ctx, plan.ID)
	if err != nil {
		return CodeResult{}, fmt.Errorf("generate failed: %w", err)
	}
	s.logger.Info("MCP: Code generated", "plan", plan.ID)
	return toCodeResult(code), nil
}

func (s *Server) handleConfirmCode(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (CodeResult, error) {
	var in codeArgs
	if err := decodeArgs(args, &in); err != nil {
		return CodeResult{}, err
	}
	code, err := s.codes.Confirm(ctx, in.Code)
	if err != nil {
		return CodeResult{}, fmt.Errorf("confirm failed: %w", err)
	}
	return toCodeResult(code), nil
}

func (s *Server) handleInspectRecord(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RecordView, error) {
	var in conversationArgs
	if err := decodeArgs(args, &in); err != nil {
		return RecordView{}, err
	}
	rec, err := s.records.Load(ctx, in.ConversationID)
	if err != nil {
		return RecordView{}, fmt.Errorf("inspect failed: %w", err)
	}
	return ToRecordView(rec), nil
}

func (s *Server) handleRestart(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (EventResult, error) {
	var in conversationArgs
	if err := decodeArgs(args, &in); err != nil {
		return EventResult{}, err
	}
	return s.dispatch(ctx, domain.Event{
		ConversationID: in.ConversationID,
		Kind:           domain.EventCommand,
		Text:           "/" + domain.CommandStart,
	})
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (EventResult, error) {
	var in messageArgs
	if err := decodeArgs(args, &in); err != nil {
		return EventResult{}, err
	}
	return s.dispatch(ctx, domain.Event{
		ConversationID: in.ConversationID,
		Kind:           domain.EventText,
		Text:           in.Text,
	})
}

func (s *Server) dispatch(ctx context.Context, ev domain.Event) (EventResult, error) {
	resp, err := s.events.Handle(ctx, ev)
	if err != nil {
		s.logger.Error("MCP: Event failed", "correlation_id", resp.CorrelationID, "err", err)
		if resp.CorrelationID == "" {
			return EventResult{}, err
		}
	}
	return EventResult{
		CorrelationID: resp.CorrelationID,
		Outcome:       resp.Outcome,
		From:          resp.From.String(),
		To:            resp.To.String(),
		Reply:         resp.Reply,
	}, nil
}

func (s *Server) registerResources() {
	// EXPOSE: vellora://plans
	s.mcpServer.AddResource(mcp.NewResource(PlansURI, "Purchasable Plans",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.catalogue.Plans())
		if err != nil {
			return nil, fmt.Errorf("failed to encode plans: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      PlansURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

// -- Helpers --

var errMissingArgument = errors.New("missing required argument")

// decodeArgs maps tool arguments onto a typed struct. Every string field is required.
func decodeArgs(args map[string]interface{}, out any) error {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		Metadata:         &md,
		WeaklyTypedInput: true,
		ErrorUnset:       true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		if len(md.Unset) > 0 {
			return fmt.Errorf("%w: %s", errMissingArgument, strings.Join(md.Unset, ", "))
		}
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func toCodeResult(c *domain.ActivationCode) CodeResult {
	return CodeResult{Code: c.Code, Plan: c.Plan, Status: c.Status, ConversationID: c.ConversationID}
}

// ToRecordView converts a record for display.
func ToRecordView(rec *domain.Record) RecordView {
	return RecordView{
		ConversationID:   rec.ConversationID,
		Step:             rec.Step.String(),
		Status:           rec.Status,
		Code:             rec.Code,
		Plan:             rec.Plan,
		Name:             rec.Name,
		Handle:           rec.Handle,
		HasCredential:    rec.CredentialHash != "",
		Targeting:        rec.Targeting.Clone(),
		UnfollowInactive: rec.UnfollowInactive,
		ActiveHours:      rec.ActiveHours,
		CompletedAt:      rec.CompletedAt,
		Version:          rec.Version,
	}
}
