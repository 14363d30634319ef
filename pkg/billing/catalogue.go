// Package billing sells plans through a hosted checkout and releases the
// activation code once the payment is confirmed.
package billing

import (
	"errors"
	"slices"
	"strings"
)

// ErrUnknownPlan is returned for plan IDs missing from the catalogue.
var ErrUnknownPlan = errors.New("invalid plan selected")

// Plan is a purchasable subscription tier.
type Plan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// Catalogue maps plan IDs to plans.
type Catalogue map[string]Plan

// DefaultCatalogue returns the plans on sale.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		"grower":  {ID: "grower", Name: "Vellora Grower Plan", AmountMinor: 1299, Currency: "gbp"},
		"bloomer": {ID: "bloomer", Name: "Vellora Bloomer Plan", AmountMinor: 2999, Currency: "gbp"},
	}
}

// Lookup returns the plan for id, ignoring case and surrounding spaces.
func (c Catalogue) Lookup(id string) (Plan, error) {
	p, ok := c[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// Plans returns the catalogue ordered by price.
func (c Catalogue) Plans() []Plan {
	out := make([]Plan, 0, len(c))
	for _, p := range c {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Plan) int {
		if a.AmountMinor != b.AmountMinor {
			return int(a.AmountMinor - b.AmountMinor)
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
