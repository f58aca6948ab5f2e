package entitlements

import (
	"github.com/ManuelReschke/PurchaseDesk/app/models"
)

type Resource string

const (
	ResourceProviders Resource = "providers"
	ResourceItems     Resource = "items"
	ResourceLists     Resource = "lists"
)

// Limits are the allowances a user gets from their active membership.
type Limits struct {
	Plan             string       `json:"plan"`
	Providers        models.Limit `json:"providers"`
	Items            models.Limit `json:"items"`
	Lists            models.Limit `json:"lists"`
	AdvancedFeatures bool         `json:"advancedFeatures"`
}

// None is what a user without an active membership may use: nothing.
func None() Limits {
	return Limits{}
}

// ForType returns the allowances granted by a plan. A nil plan (unknown type)
// grants nothing.
func ForType(t *models.MembershipType) Limits {
	if t == nil {
		return None()
	}
	return Limits{
		Plan:             t.Slug,
		Providers:        t.MaxProviders,
		Items:            t.MaxItems,
		Lists:            t.MaxLists,
		AdvancedFeatures: t.AdvancedFeatures,
	}
}

func (l Limits) limit(r Resource) models.Limit {
	switch r {
	case ResourceProviders:
		return l.Providers
	case ResourceItems:
		return l.Items
	case ResourceLists:
		return l.Lists
	default:
		return 0
	}
}

// Allows reports whether one more resource of kind r may be created when
// `used` already exist.
func (l Limits) Allows(r Resource, used int) bool {
	return l.limit(r).Allows(used)
}

// Remaining returns how many more resources of kind r may be created.
// unlimited is true when the plan has no cap.
func (l Limits) Remaining(r Resource, used int) (remaining int, unlimited bool) {
	lim := l.limit(r)
	if lim.IsUnlimited() {
		return 0, true
	}
	if left := int(lim) - used; left > 0 {
		return left, false
	}
	return 0, false
}
