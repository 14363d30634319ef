package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aretw0/vellora/pkg/adapters/memory"
	"github.com/aretw0/vellora/pkg/billing"
	"github.com/aretw0/vellora/pkg/codes"
	"github.com/aretw0/vellora/pkg/controller"
	"github.com/aretw0/vellora/pkg/credential"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/engine"
	"github.com/aretw0/vellora/pkg/session"
)

type fixture struct {
	store  *memory.Store
	outbox *memory.Outbox
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), outbox: memory.NewOutbox()}
	registry := codes.NewRegistry(f.store)
	gateway := session.NewGateway(f.store)
	eng := engine.New(registry, credential.NewHasher(bcrypt.MinCost))
	ctrl := controller.New(eng, gateway, f.outbox)
	f.server = NewServer(ctrl, gateway, registry, billing.DefaultCatalogue())
	return f
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func TestGenerateAndConfirmCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.server.handleGenerateCode(ctx, call("generate_code", nil), map[string]any{"plan": "Bloomer"})
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, code.Code)
	assert.Equal(t, "bloomer", code.Plan)
	assert.Equal(t, domain.StatusPending, code.Status)

	confirmed, err := f.server.handleConfirmCode(ctx, call("confirm_code", nil), map[string]any{"code": code.Code})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnused, confirmed.Status)

	_, err = f.server.handleGenerateCode(ctx, call("generate_code", nil), map[string]any{"plan": "gold"})
	assert.ErrorIs(t, err, billing.ErrUnknownPlan)

	_, err = f.server.handleGenerateCode(ctx, call("generate_code", nil), map[string]any{})
	assert.ErrorIs(t, err, errMissingArgument)
}

func TestConversationTools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.server.handleGenerateCode(ctx, call("generate_code", nil), map[string]any{"plan": "grower"})
	require.NoError(t, err)

	res, err := f.server.handleRestart(ctx, call("restart_conversation", nil), map[string]any{"conversation_id": "op-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRestart, res.Outcome)
	assert.Equal(t, "code", res.To)

	res, err = f.server.handleSendMessage(ctx, call("send_message", nil), map[string]any{
		"conversation_id": "op-1",
		"text":            code.Code,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAccepted, res.Outcome)
	assert.Equal(t, "name", res.To)
	assert.Equal(t, res.Reply, f.outbox.Last())

	view, err := f.server.handleInspectRecord(ctx, call("inspect_record", nil), map[string]any{"conversation_id": "op-1"})
	require.NoError(t, err)
	assert.Equal(t, "name", view.Step)
	assert.Equal(t, code.Code, view.Code)
	assert.Equal(t, "grower", view.Plan)
	assert.False(t, view.HasCredential)

	_, err = f.server.handleInspectRecord(ctx, call("inspect_record", nil), map[string]any{"conversation_id": "nobody"})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestToRecordView_HidesCredential(t *testing.T) {
	rec := domain.NewRecord("c")
	rec.CredentialHash = "$2a$04$secret"
	view := ToRecordView(rec)
	assert.True(t, view.HasCredential)

	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
}

func TestProtocol_ListsToolsAndReadsPlans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := f.server.MCPServer()

	send := func(msg string) string {
		t.Helper()
		out := srv.HandleMessage(ctx, json.RawMessage(msg))
		raw, err := json.Marshal(out)
		require.NoError(t, err)
		return string(raw)
	}

	send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)

	tools := send(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	for _, name := range []string{"generate_code", "confirm_code", "inspect_record", "restart_conversation", "send_message", "list_records"} {
		assert.Contains(t, tools, `"`+name+`"`)
	}

	plans := send(`{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"vellora://plans"}}`)
	assert.Contains(t, plans, "grower")
	assert.Contains(t, plans, "bloomer")

	listed := send(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"list_records","arguments":{}}}`)
	assert.Contains(t, listed, "[]")
}
