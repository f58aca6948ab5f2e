package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type membershipRecordRepository struct {
	db *gorm.DB
}

// NewMembershipRecordRepository creates a membership record repository backed by GORM.
func NewMembershipRecordRepository(db *gorm.DB) MembershipRecordRepository {
	return &membershipRecordRepository{db: db}
}

func (r *membershipRecordRepository) GetByID(ctx context.Context, id uint) (*models.MembershipRecord, error) {
	var rec models.MembershipRecord
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *membershipRecordRepository) ListByUserID(ctx context.Context, userID uint) ([]models.MembershipRecord, error) {
	var recs []models.MembershipRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	return recs, err
}

func (r *membershipRecordRepository) Create(ctx context.Context, rec *models.MembershipRecord) error {
	if rec.State == "" {
		rec.State = models.MembershipStateActive
	}
	if !models.IsValidMembershipState(rec.State) {
		return fmt.Errorf("invalid membership state %q", rec.State)
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *membershipRecordRepository) UpdateState(ctx context.Context, id uint, state string) error {
	if !models.IsValidMembershipState(state) {
		return fmt.Errorf("invalid membership state %q", state)
	}
	updates := map[string]interface{}{"state": state}
	if state != models.MembershipStateExpired {
		updates["expired_at"] = nil
	}
	tx := r.db.WithContext(ctx).Model(&models.MembershipRecord{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	return r.ensureExists(ctx, tx.RowsAffected, id)
}

func (r *membershipRecordRepository) Renew(ctx context.Context, id uint, start, end time.Time) error {
	tx := r.db.WithContext(ctx).Model(&models.MembershipRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"start_at":   start,
		"end_at":     end,
		"state":      models.MembershipStateActive,
		"expired_at": nil,
	})
	if tx.Error != nil {
		return tx.Error
	}
	return r.ensureExists(ctx, tx.RowsAffected, id)
}

func (r *membershipRecordRepository) DeactivateActive(ctx context.Context, userID, exceptID uint) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.MembershipRecord{}).
		Where("user_id = ? AND state = ?", userID, models.MembershipStateActive)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	tx := q.Update("state", models.MembershipStateInactive)
	return tx.RowsAffected, tx.Error
}

func (r *membershipRecordRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, []uint, error) {
	var (
		expired int64
		userIDs []uint
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the overdue rows so the user list matches exactly what the
		// update below touches.
		if err := tx.Model(&models.MembershipRecord{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("state = ? AND end_at <= ?", models.MembershipStateActive, now).
			Distinct().
			Pluck("user_id", &userIDs).Error; err != nil {
			return err
		}
		if len(userIDs) == 0 {
			return nil
		}
		res := tx.Model(&models.MembershipRecord{}).
			Where("state = ? AND end_at <= ?", models.MembershipStateActive, now).
			Updates(map[string]interface{}{
				"state":      models.MembershipStateExpired,
				"expired_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		expired = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return expired, userIDs, nil
}

func (r *membershipRecordRepository) ListUserIDsWithStalePointer(ctx context.Context, now time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Table("users").
		Select("users.id").
		Joins("LEFT JOIN membership_records r ON r.id = users.active_membership_id").
		Where("users.deleted_at IS NULL AND users.active_membership_id IS NOT NULL").
		Where("(r.id IS NULL OR r.user_id <> users.id OR r.state <> ? OR r.end_at <= ?)", models.MembershipStateActive, now).
		Order("users.id ASC").
		Pluck("users.id", &ids).Error
	return ids, err
}

func (r *membershipRecordRepository) ensureExists(ctx context.Context, affected int64, id uint) error {
	if affected > 0 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MembershipRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
