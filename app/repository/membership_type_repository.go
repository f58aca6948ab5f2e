package repository

import (
	"context"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
	"gorm.io/gorm"
)

type membershipTypeRepository struct {
	db *gorm.DB
}

// NewMembershipTypeRepository creates a catalog repository backed by GORM.
func NewMembershipTypeRepository(db *gorm.DB) MembershipTypeRepository {
	return &membershipTypeRepository{db: db}
}

func (r *membershipTypeRepository) Create(ctx context.Context, t *models.MembershipType) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *membershipTypeRepository) GetByID(ctx context.Context, id uint) (*models.MembershipType, error) {
	var t models.MembershipType
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns the catalog ordered by price, cheapest first.
func (r *membershipTypeRepository) List(ctx context.Context) ([]models.MembershipType, error) {
	var types []models.MembershipType
	err := r.db.WithContext(ctx).Order("price_cents ASC, id ASC").Find(&types).Error
	return types, err
}
