package membership

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
)

// SweepResult summarises one expiry sweep. AffectedUsers counts users whose
// pointer changed; FailedUsers were left for repair.
type SweepResult struct {
	ExpiredCount  int64  `json:"expiredCount"`
	AffectedUsers int    `json:"affectedUsers"`
	FailedUsers   []uint `json:"failedUsers"`
}

// SweepExpired expires every overdue active record in one statement, then
// fixes the pointer of each affected user. Users with a stale pointer that
// no expiry touched are picked up too. A failure for one user never aborts
// the batch.
func (e *Engine) SweepExpired(ctx context.Context) (*SweepResult, error) {
	const op = "sweep"
	now := e.now()

	expired, userIDs, err := e.records.ExpireOverdue(ctx, now)
	if err != nil {
		return nil, e.storeErr(op, "expire_overdue", 0, err)
	}
	stale, err := e.records.ListUserIDsWithStalePointer(ctx, now)
	if err != nil {
		log.Warnw("membership sweep could not list stale pointers", "error", err)
	}

	res := &SweepResult{ExpiredCount: expired, FailedUsers: []uint{}}
	for _, userID := range mergeUserIDs(userIDs, stale) {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		changed, err := e.demote(ctx, userID, now)
		if err != nil {
			res.FailedUsers = append(res.FailedUsers, userID)
			e.scheduleRepair(ctx, userID)
			continue
		}
		if changed {
			res.AffectedUsers++
		}
	}

	log.Infow("membership sweep finished",
		"expired", res.ExpiredCount,
		"affected_users", res.AffectedUsers,
		"failed_users", len(res.FailedUsers),
	)
	e.emit(ctx, Event{Kind: EventSwept, Count: expired})
	return res, nil
}

// demote re-checks one user after expiry. A pointer that is still valid is
// left alone; otherwise the most recently started valid record is adopted,
// and failing that the default plan is granted.
func (e *Engine) demote(ctx context.Context, userID uint, now time.Time) (bool, error) {
	const op = "sweep"
	defer e.lockUser(userID)()

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, e.storeErr(op, "load_user", userID, err)
	}
	records, err := e.records.ListByUserID(ctx, user.ID)
	if err != nil {
		return false, e.storeErr(op, "list_records", user.ID, err)
	}

	if user.ActiveMembershipID != nil {
		if cur := findRecord(records, *user.ActiveMembershipID); cur != nil && cur.IsValidAt(now) {
			return false, nil
		}
	}

	var rec *models.MembershipRecord
	if cand := mostRecentValid(records, now); cand != nil {
		rec = cand
	} else {
		if _, err := e.records.DeactivateActive(ctx, user.ID, 0); err != nil {
			return false, e.storeErr(op, "deactivate_active", user.ID, err)
		}
		rec, err = e.grantFallback(ctx, op, user, records, now)
		if err != nil {
			return false, err
		}
	}

	if err := e.users.SetActiveMembership(ctx, user.ID, &rec.ID); err != nil {
		return false, e.storeErr(op, "set_pointer", user.ID, err)
	}
	log.Infow("membership pointer moved by sweep", "user_id", user.ID, "record_id", rec.ID, "type_id", rec.MembershipTypeID)
	e.emit(ctx, Event{Kind: EventDemoted, UserID: user.ID, Membership: rec, PointerChanged: true})
	return true, nil
}

func (e *Engine) scheduleRepair(ctx context.Context, userID uint) {
	if e.repairs == nil {
		return
	}
	if err := e.repairs.ScheduleRepair(ctx, userID); err != nil {
		log.Errorw("failed to schedule membership repair", "user_id", userID, "error", err)
	}
}

func mergeUserIDs(lists ...[]uint) []uint {
	seen := make(map[uint]struct{})
	var out []uint
	for _, l := range lists {
		for _, id := range l {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
