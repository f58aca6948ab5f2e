package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
)

// Not-found conditions are reported as gorm.ErrRecordNotFound by every
// implementation, including test doubles.

// UserRepository reads users and writes the cached membership pointer.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	SetActiveMembership(ctx context.Context, userID uint, recordID *uint) error
}

// MembershipTypeRepository is the read side of the plan catalog. Create only
// exists for seeding and administration; the engine never calls it.
type MembershipTypeRepository interface {
	Create(ctx context.Context, t *models.MembershipType) error
	GetByID(ctx context.Context, id uint) (*models.MembershipType, error)
	List(ctx context.Context) ([]models.MembershipType, error)
}

// MembershipRecordRepository persists membership records.
type MembershipRecordRepository interface {
	GetByID(ctx context.Context, id uint) (*models.MembershipRecord, error)
	ListByUserID(ctx context.Context, userID uint) ([]models.MembershipRecord, error)
	Create(ctx context.Context, rec *models.MembershipRecord) error
	UpdateState(ctx context.Context, id uint, state string) error
	// Renew moves the record to a new validity window and marks it active.
	Renew(ctx context.Context, id uint, start, end time.Time) error
	// DeactivateActive moves every active record of the user except exceptID
	// (0 = none) to inactive and returns how many rows changed.
	DeactivateActive(ctx context.Context, userID, exceptID uint) (int64, error)
	// ExpireOverdue moves every active record whose end is not after now to expired in
	// one statement and returns the row count and the distinct affected users.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, []uint, error)
	// ListUserIDsWithStalePointer returns users whose pointer references a
	// missing, foreign, non-active or elapsed record.
	ListUserIDsWithStalePointer(ctx context.Context, now time.Time) ([]uint, error)
}

// Repositories contains all repository instances
type Repositories struct {
	User             UserRepository
	MembershipType   MembershipTypeRepository
	MembershipRecord MembershipRecordRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:             NewUserRepository(db),
		MembershipType:   NewMembershipTypeRepository(db),
		MembershipRecord: NewMembershipRecordRepository(db),
	}
}
