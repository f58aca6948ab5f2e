package repository

import (
	"context"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetActiveMembership overwrites the cached pointer. A nil recordID clears it.
func (r *userRepository) SetActiveMembership(ctx context.Context, userID uint, recordID *uint) error {
	tx := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("active_membership_id", recordID)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		// MySQL reports 0 affected rows when the value is unchanged, so
		// distinguish that from a missing user.
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}
