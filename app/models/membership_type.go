package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Unlimited marks a resource limit without an upper bound.
const Unlimited Limit = -1

// Limit is a per-plan resource allowance. Positive values are hard caps,
// Unlimited means no cap.
type Limit int

// IsUnlimited reports whether the limit has no upper bound.
func (l Limit) IsUnlimited() bool {
	return l == Unlimited
}

// Allows reports whether a user currently holding `used` resources may create one more.
func (l Limit) Allows(used int) bool {
	if l.IsUnlimited() {
		return true
	}
	return used < int(l)
}

// MarshalJSON renders unlimited limits as the string "unlimited".
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.IsUnlimited() {
		return []byte(`"unlimited"`), nil
	}
	return []byte(strconv.Itoa(int(l))), nil
}

// UnmarshalJSON accepts either an integer or the string "unlimited".
func (l *Limit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.EqualFold(strings.TrimSpace(s), "unlimited") {
			*l = Unlimited
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		*l = Limit(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*l = Limit(n)
	return nil
}

// MembershipType is a catalog entry (plan). Immutable reference data that the
// reconciliation engine only reads.
type MembershipType struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"type:varchar(100);not null" json:"name" validate:"required,min=2,max=100"`
	Slug             string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"slug" validate:"required,min=2,max=100"`
	PriceCents       int64     `gorm:"not null;default:0" json:"price_cents" validate:"min=0"`
	DurationMonths   int       `gorm:"not null;default:1" json:"duration_months" validate:"min=0,max=120"`
	MaxProviders     Limit     `gorm:"not null;default:-1" json:"max_providers" validate:"min=-1,ne=0"`
	MaxItems         Limit     `gorm:"not null;default:-1" json:"max_items" validate:"min=-1,ne=0"`
	MaxLists         Limit     `gorm:"not null;default:-1" json:"max_lists" validate:"min=-1,ne=0"`
	AdvancedFeatures bool      `gorm:"default:false" json:"advanced_features"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *MembershipType) Validate() error {
	v := validator.New()

	return v.Struct(t)
}

// IsOpenEnded reports whether the plan has no natural duration (e.g. a free tier).
func (t *MembershipType) IsOpenEnded() bool {
	return t.DurationMonths <= 0
}

// WindowFrom returns the default validity end for a grant starting at start.
// Open-ended plans use the supplied fallback validity. The result never
// exceeds MaxWindowTime.
func (t *MembershipType) WindowFrom(start time.Time, fallback time.Duration) time.Time {
	end := start.AddDate(0, t.DurationMonths, 0)
	if t.IsOpenEnded() {
		end = start.Add(fallback)
	}
	if end.After(MaxWindowTime) {
		return MaxWindowTime
	}
	return end
}
