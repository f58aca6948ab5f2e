package membership

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
)

// AssignInput describes a grant. Start defaults to now and End to the plan
// duration (or the fallback validity for open-ended plans).
type AssignInput struct {
	UserID           uint
	MembershipTypeID uint
	StartAt          *time.Time
	EndAt            *time.Time
}

// Assign makes the given plan the user's single active membership. An
// existing record of the same plan is renewed in place. Re-running with the
// same input converges on the same record.
func (e *Engine) Assign(ctx context.Context, in AssignInput) (*models.MembershipRecord, error) {
	const op = "assign"

	if in.MembershipTypeID == 0 {
		return nil, validationf("membership type id is required")
	}
	defer e.lockUser(in.UserID)()

	user, err := e.loadUser(ctx, op, in.UserID)
	if err != nil {
		return nil, err
	}
	mt, err := e.types.GetByID(ctx, in.MembershipTypeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationf("unknown membership type %d", in.MembershipTypeID)
		}
		return nil, e.storeErr(op, "load_type", user.ID, err)
	}

	now := e.now()
	start := now
	if in.StartAt != nil {
		start = *in.StartAt
	}
	end := mt.WindowFrom(start, e.fallbackValidity)
	if in.EndAt != nil {
		end = *in.EndAt
	}
	if !end.After(start) {
		return nil, validationf("end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if !end.After(now) {
		return nil, validationf("window ending %s has already elapsed", end.Format(time.RFC3339))
	}
	if start.Before(models.MinWindowTime) || end.After(models.MaxWindowTime) {
		return nil, validationf("window %s to %s is outside the storable range", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	records, err := e.records.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, e.storeErr(op, "list_records", user.ID, err)
	}

	deactivated, err := e.records.DeactivateActive(ctx, user.ID, 0)
	if err != nil {
		return nil, e.storeErr(op, "deactivate_active", user.ID, err)
	}

	renewed := latestOfType(records, mt.ID) != nil
	rec, err := e.activateType(ctx, op, user.ID, mt.ID, records, start, end)
	if err != nil {
		return nil, err
	}

	changed := !user.PointsAt(rec.ID)
	if err := e.users.SetActiveMembership(ctx, user.ID, &rec.ID); err != nil {
		return nil, e.storeErr(op, "set_pointer", user.ID, err)
	}

	log.Infow("membership assigned",
		"user_id", user.ID,
		"record_id", rec.ID,
		"type_id", mt.ID,
		"renewed", renewed,
		"deactivated", deactivated,
	)
	e.emit(ctx, Event{Kind: EventAssigned, UserID: user.ID, Membership: rec, PointerChanged: changed})
	return rec, nil
}
