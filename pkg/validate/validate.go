// Package validate holds the pure per-step validators of the onboarding dialogue.
// Each validator returns a typed value or a *Rejection with a fixed user-facing reason.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aretw0/vellora/pkg/domain"
)

// Rejection is returned when an answer does not satisfy a step's rule.
type Rejection struct {
	Step   domain.Step
	Reason string
}

func (r *Rejection) Error() string {
	return r.Step.String() + ": " + r.Reason
}

func reject(step domain.Step, reason string) *Rejection {
	return &Rejection{Step: step, Reason: reason}
}

var (
	namePattern   = regexp.MustCompile(`^[\p{L} .'\-]+$`)
	handlePattern = regexp.MustCompile(`^[A-Za-z0-9._]{3,30}$`)
	hoursPattern  = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])-([01][0-9]|2[0-3]):([0-5][0-9])$`)
	codePattern   = regexp.MustCompile(`^[A-Z0-9]+$`)
)

// Code normalises an activation code. Whether the code exists is decided by the registry.
func Code(input string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(input))
	if code == "" {
		return "", reject(domain.StepCode, "Please enter your activation code.")
	}
	if !codePattern.MatchString(code) {
		return "", reject(domain.StepCode, "Activation codes only contain letters and digits.")
	}
	return code, nil
}

// Name accepts letters, spaces, apostrophes, hyphens and periods, at least 3 characters.
func Name(input string) (string, error) {
	name := strings.TrimSpace(input)
	if utf8.RuneCountInString(name) < 3 {
		return "", reject(domain.StepName, "Your name must be at least 3 characters long.")
	}
	if !namePattern.MatchString(name) {
		return "", reject(domain.StepName, "Your name may only contain letters, spaces, apostrophes, hyphens and periods.")
	}
	return name, nil
}

// Handle strips a leading @ and accepts 3-30 letters, digits, periods or underscores.
func Handle(input string) (string, error) {
	handle := strings.TrimPrefix(strings.TrimSpace(input), "@")
	if !handlePattern.MatchString(handle) {
		return "", reject(domain.StepHandle, "Handles are 3-30 characters of letters, digits, periods or underscores.")
	}
	return handle, nil
}

// Credential accepts any non-empty text. The caller hashes it immediately.
func Credential(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", reject(domain.StepCredential, "The password cannot be empty.")
	}
	return input, nil
}

// TargetKind maps free text mentioning "hash" or "account" to a targeting kind.
func TargetKind(input string) (domain.TargetKind, error) {
	text := strings.ToLower(input)
	switch {
	case strings.Contains(text, "hash"):
		return domain.TargetHashtags, nil
	case strings.Contains(text, "account"):
		return domain.TargetAccounts, nil
	}
	return "", reject(domain.StepTargetKind, "Please type either 'hashtags' or 'accounts'.")
}

// TargetItems splits a comma separated list, trims entries, drops entries of one
// character or less, strips a leading @ or # and keeps the first five.
func TargetItems(input string) ([]string, error) {
	var items []string
	for _, part := range strings.Split(input, ",") {
		item := strings.TrimSpace(part)
		if utf8.RuneCountInString(item) <= 1 {
			continue
		}
		item = strings.TrimLeft(item, "@#")
		if item == "" {
			continue
		}
		items = append(items, item)
		if len(items) == domain.MaxTargetItems {
			break
		}
	}
	if len(items) == 0 {
		return nil, reject(domain.StepTargetItems, "Please list at least one entry, separated by commas.")
	}
	return items, nil
}

// YesNo accepts yes, y, no and n in any case.
func YesNo(input string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return false, reject(domain.StepUnfollow, "Please answer yes or no.")
}

// ActiveHours accepts HH:MM-HH:MM with hours 00-23 and minutes 00-59.
func ActiveHours(input string) (string, error) {
	hours := strings.TrimSpace(input)
	if !hoursPattern.MatchString(hours) {
		return "", reject(domain.StepActiveHours, "Please use the format HH:MM-HH:MM, for example 09:00-17:00.")
	}
	return hours, nil
}
