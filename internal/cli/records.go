package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aretw0/vellora/internal/presentation/graph"
	mcpAdapter "github.com/aretw0/vellora/pkg/adapters/mcp"
	"github.com/aretw0/vellora/pkg/domain"
)

// GenerateCode mints a code for plan. With confirm the code is released at
// once, as if the payment had been received.
func GenerateCode(ctx context.Context, app *App, plan string, confirm bool) (*domain.ActivationCode, error) {
	p, err := app.Billing.Catalogue().Lookup(plan)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, plan)
	}
	code, err := app.Codes.Generate(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !confirm {
		return code, nil
	}
	return app.Codes.Confirm(ctx, code.Code)
}

// ListRecords writes one conversation id per line.
func ListRecords(ctx context.Context, app *App, w io.Writer) error {
	ids, err := app.Gateway.List(ctx)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	if len(ids) == 0 {
		printSystemMessage(w, "No records found.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	return nil
}

// ShowRecord writes the operator view of a record as indented JSON, or as a
// Mermaid diagram of its progress.
func ShowRecord(ctx context.Context, app *App, id string, w io.Writer, asGraph bool) error {
	rec, err := app.Gateway.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load record %q: %w", id, err)
	}
	if asGraph {
		_, err = io.WriteString(w, graph.GenerateMermaid(graph.OverlayFor(rec)))
		return err
	}
	data, err := json.MarshalIndent(mcpAdapter.ToRecordView(rec), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// ResetRecords deletes the given records. The bound codes stay bound to
// their conversation so the user can begin again with the same code.
func ResetRecords(ctx context.Context, app *App, w io.Writer, ids ...string) error {
	var failed int
	for _, id := range ids {
		if err := app.Gateway.Delete(ctx, id); err != nil {
			printSystemMessage(w, "Error removing '%s': %v", id, err)
			failed++
			continue
		}
		printSystemMessage(w, "Removed record '%s'.", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d records could not be removed", failed, len(ids))
	}
	return nil
}
