package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/vellora/pkg/domain"
)

// Overlay marks the progress of one conversation on the diagram.
type Overlay struct {
	Current domain.Step
}

// OverlayFor builds the overlay for a stored record.
func OverlayFor(rec *domain.Record) *Overlay {
	if rec == nil {
		return nil
	}
	return &Overlay{Current: rec.Step}
}

// GenerateMermaid renders the onboarding dialogue as a Mermaid flowchart.
// Shapes follow the step kind:
// - Code: ((Circle)), the entry point
// - Credential: [[Subroutine]], the input is hashed and the message deleted
// - Complete: ([Stadium])
// - Default: [/Parallelogram/] for free input
// Every input step loops on itself when the input is rejected. The begin
// command returns any step to the code prompt.
func GenerateMermaid(overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for s := domain.StepCode; s <= domain.StepComplete; s++ {
		id := nodeID(s)
		opener, closer := "[/", "/]"
		switch s {
		case domain.StepCode:
			opener, closer = "((", "))"
		case domain.StepCredential:
			opener, closer = "[[", "]]"
		case domain.StepComplete:
			opener, closer = "([", "])"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, s, closer)

		if s.Terminal() {
			continue
		}
		fmt.Fprintf(&sb, "    %s -- \"valid\" --> %s\n", id, nodeID(s.Next()))
		fmt.Fprintf(&sb, "    %s -. \"rejected\" .-> %s\n", id, id)
	}
	fmt.Fprintf(&sb, "    %s -. \"/%s\" .-> %s\n", nodeID(domain.StepComplete), domain.CommandStart, nodeID(domain.StepCode))

	if overlay != nil {
		sb.WriteString("\n    %% Progress\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		current := overlay.Current
		if current > domain.StepComplete {
			current = domain.StepComplete
		}
		for s := domain.StepCode; s < current; s++ {
			fmt.Fprintf(&sb, "    class %s visited;\n", nodeID(s))
		}
		fmt.Fprintf(&sb, "    class %s current;\n", nodeID(current))
	}

	return sb.String()
}

func nodeID(s domain.Step) string {
	return "step_" + s.String()
}
