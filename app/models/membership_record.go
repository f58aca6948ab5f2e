package models

import "time"

// Range of the DATETIME columns holding a record's window.
var (
	MinWindowTime = time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxWindowTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

const (
	MembershipStateActive   = "active"
	MembershipStateInactive = "inactive"
	MembershipStateExpired  = "expired"
)

// MembershipRecord is one granted instance of a plan to a user. Records are
// never deleted; superseded ones stay behind as history.
type MembershipRecord struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"not null;index:idx_membership_records_user_state,priority:1;index:idx_membership_records_user_type,priority:1" json:"user_id"`
	MembershipTypeID uint       `gorm:"not null;index:idx_membership_records_user_type,priority:2" json:"membership_type_id"`
	StartAt          time.Time  `gorm:"type:datetime;not null" json:"start_at"`
	EndAt            time.Time  `gorm:"type:datetime;not null;index:idx_membership_records_state_end,priority:2" json:"end_at"`
	State            string     `gorm:"type:varchar(16);not null;default:'active';index:idx_membership_records_user_state,priority:2;index:idx_membership_records_state_end,priority:1" json:"state"`
	ExpiredAt        *time.Time `gorm:"type:datetime;default:null" json:"expired_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the record is in state active.
func (r *MembershipRecord) IsActive() bool {
	return r.State == MembershipStateActive
}

// IsExpiredAt reports whether the validity window has passed at now.
func (r *MembershipRecord) IsExpiredAt(now time.Time) bool {
	return !r.EndAt.After(now)
}

// IsValidAt reports whether the record is active and unexpired at now.
func (r *MembershipRecord) IsValidAt(now time.Time) bool {
	return r.IsActive() && !r.IsExpiredAt(now)
}

// IsValidMembershipState reports whether s is a known lifecycle state.
func IsValidMembershipState(s string) bool {
	switch s {
	case MembershipStateActive, MembershipStateInactive, MembershipStateExpired:
		return true
	default:
		return false
	}
}
