package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// Renderer turns reply text into terminal output.
type Renderer func(string) string

// NewRenderer returns a glamour backed Renderer. Replies are rendered as
// markdown and fall back to the raw text when rendering fails.
func NewRenderer(width int) Renderer {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return PlainRenderer
	}
	return func(text string) string {
		out, err := r.Render(text)
		if err != nil {
			return PlainRenderer(text)
		}
		return strings.TrimRight(out, "\n") + "\n"
	}
}

// PlainRenderer writes the text as is, for pipes and tests.
func PlainRenderer(text string) string {
	return strings.TrimRight(text, "\n") + "\n"
}
