package domain

import "fmt"

// Step is the ordinal position in the onboarding dialogue.
type Step int

const (
	StepCode        Step = iota // Awaiting activation code
	StepName                    // Full name
	StepHandle                  // Account handle
	StepCredential              // Account password, hashed on receipt
	StepTargetKind              // hashtags or accounts
	StepTargetItems             // Up to five comma separated items
	StepUnfollow                // yes / no
	StepActiveHours             // HH:MM-HH:MM
	StepComplete                // Setup complete
)

// MaxStep is the upper bound stores accept for a persisted step. The stored
// range is 0..9 while the dialogue itself ends at StepComplete (8); step 9 is
// accepted so records written with the full range still load, and it reads
// as terminal.
const MaxStep Step = 9

var stepNames = map[Step]string{
	StepCode:        "code",
	StepName:        "name",
	StepHandle:      "handle",
	StepCredential:  "credential",
	StepTargetKind:  "target_kind",
	StepTargetItems: "target_items",
	StepUnfollow:    "unfollow",
	StepActiveHours: "active_hours",
	StepComplete:    "complete",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Valid reports whether s fits the persisted range.
func (s Step) Valid() bool {
	return s >= StepCode && s <= MaxStep
}

// Terminal reports whether no further input is collected at s.
func (s Step) Terminal() bool {
	return s >= StepComplete
}

// Next returns the following step.
func (s Step) Next() Step {
	return s + 1
}
