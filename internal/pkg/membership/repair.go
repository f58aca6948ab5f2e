package membership

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
)

// RepairResult is the outcome of a repair.
type RepairResult struct {
	Membership       *models.MembershipRecord `json:"membership"`
	DeactivatedCount int64                    `json:"deactivatedCount"`
}

// Repair restores the single-active and pointer invariants for one user. It
// keeps the best valid record (highest tier wins), reactivates an unexpired
// historical record, or grants the default plan, in that order. A second run
// returns the same record with DeactivatedCount 0.
func (e *Engine) Repair(ctx context.Context, userID uint) (*RepairResult, error) {
	const op = "repair"
	defer e.lockUser(userID)()

	user, err := e.loadUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	records, err := e.records.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, e.storeErr(op, "list_records", user.ID, err)
	}
	types, err := e.types.List(ctx)
	if err != nil {
		return nil, e.storeErr(op, "list_types", user.ID, err)
	}

	now := e.now()
	var (
		rec         *models.MembershipRecord
		deactivated int64
		reactivated bool
	)

	chosen := repairCandidate(records, catalogIndex(types), now)
	switch {
	case chosen != nil && chosen.IsActive():
		deactivated, err = e.records.DeactivateActive(ctx, user.ID, chosen.ID)
		if err != nil {
			return nil, e.storeErr(op, "deactivate_others", user.ID, err)
		}
		rec = chosen
	case chosen != nil:
		deactivated, err = e.records.DeactivateActive(ctx, user.ID, 0)
		if err != nil {
			return nil, e.storeErr(op, "deactivate_others", user.ID, err)
		}
		if err := e.records.UpdateState(ctx, chosen.ID, models.MembershipStateActive); err != nil {
			return nil, e.storeErr(op, "reactivate_record", user.ID, err)
		}
		revived := *chosen
		revived.State = models.MembershipStateActive
		revived.ExpiredAt = nil
		rec = &revived
		reactivated = true
	default:
		deactivated, err = e.records.DeactivateActive(ctx, user.ID, 0)
		if err != nil {
			return nil, e.storeErr(op, "deactivate_others", user.ID, err)
		}
		rec, err = e.grantFallback(ctx, op, user, records, now)
		if err != nil {
			return nil, err
		}
		reactivated = true
	}

	changed := !user.PointsAt(rec.ID)
	if changed {
		if err := e.users.SetActiveMembership(ctx, user.ID, &rec.ID); err != nil {
			return nil, e.storeErr(op, "set_pointer", user.ID, err)
		}
	}

	log.Infow("membership repaired",
		"user_id", user.ID,
		"record_id", rec.ID,
		"type_id", rec.MembershipTypeID,
		"deactivated", deactivated,
		"pointer_changed", changed,
		"reactivated", reactivated,
	)
	if changed || deactivated > 0 || reactivated {
		e.emit(ctx, Event{Kind: EventRepaired, UserID: user.ID, Membership: rec, PointerChanged: changed, Reactivated: reactivated})
	}
	return &RepairResult{Membership: rec, DeactivatedCount: deactivated}, nil
}
