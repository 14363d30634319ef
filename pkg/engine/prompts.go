package engine

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/aretw0/vellora/pkg/domain"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Messages are the replies that do not belong to a single step.
type Messages struct {
	InvalidCode      string `yaml:"invalid_code"`
	AlreadyCompleted string `yaml:"already_completed"`
	BeginFirst       string `yaml:"begin_first"`
	UnknownCommand   string `yaml:"unknown_command"`
	RetryLater       string `yaml:"retry_later"`
	Apology          string `yaml:"apology"`
	InvalidInput     string `yaml:"invalid_input"`
}

// Prompts is the catalogue of replies. Step prompts are keyed by domain.Step names;
// the targeting list prompt may be specialised per kind ("target_items_hashtags").
type Prompts struct {
	Steps    map[string]string `yaml:"steps"`
	Messages Messages          `yaml:"messages"`
}

// DefaultPrompts returns the embedded catalogue.
func DefaultPrompts() *Prompts {
	p, err := parsePrompts(defaultPromptsYAML, nil)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return p
}

// LoadPrompts reads a YAML file and overlays it on the embedded catalogue,
// so an override file only needs the keys it changes.
func LoadPrompts(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return parsePrompts(data, DefaultPrompts())
}

func parsePrompts(data []byte, base *Prompts) (*Prompts, error) {
	p := base
	if p == nil {
		p = &Prompts{}
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that every step has a prompt.
func (p *Prompts) Validate() error {
	for s := domain.StepCode; s <= domain.StepComplete; s++ {
		if p.Steps[s.String()] == "" {
			return fmt.Errorf("prompts: missing prompt for step %q", s)
		}
	}
	m := p.Messages
	for name, v := range map[string]string{
		"invalid_code":      m.InvalidCode,
		"already_completed": m.AlreadyCompleted,
		"begin_first":       m.BeginFirst,
		"unknown_command":   m.UnknownCommand,
		"retry_later":       m.RetryLater,
		"apology":           m.Apology,
		"invalid_input":     m.InvalidInput,
	} {
		if v == "" {
			return fmt.Errorf("prompts: missing message %q", name)
		}
	}
	return nil
}

// For returns the prompt shown while rec sits at its current step.
func (p *Prompts) For(rec *domain.Record) string {
	if rec.Step.Terminal() {
		return p.Steps[domain.StepComplete.String()]
	}
	if rec.Step == domain.StepTargetItems && rec.Targeting != nil {
		if v, ok := p.Steps[domain.StepTargetItems.String()+"_"+string(rec.Targeting.Kind)]; ok {
			return v
		}
	}
	return p.Steps[rec.Step.String()]
}
