package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/membership"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/notify"
)

// RepairLockTTL bounds how often the same user can be queued for repair.
const RepairLockTTL = 5 * time.Minute

// Reconciler is the part of the membership engine jobs drive.
type Reconciler interface {
	SweepExpired(ctx context.Context) (*membership.SweepResult, error)
	Repair(ctx context.Context, userID uint) (*membership.RepairResult, error)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// permanent marks an error that retrying cannot fix.
func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

func (q *Queue) getReconciler() (Reconciler, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reconciler == nil {
		return nil, errors.New("no membership reconciler bound to the job queue")
	}
	return q.reconciler, nil
}

func (q *Queue) getSink() notify.Sink {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sink
}

func (q *Queue) processSweepJob(ctx context.Context, job *Job) error {
	payload, err := SweepJobPayloadFromMap(job.Payload)
	if err != nil {
		return permanent(fmt.Errorf("invalid sweep payload: %w", err))
	}
	rec, err := q.getReconciler()
	if err != nil {
		return err
	}
	res, err := rec.SweepExpired(ctx)
	if err != nil {
		return err
	}
	log.Infof("[JobQueue] Sweep (%s) expired %d records, moved %d pointers, %d users failed",
		payload.Trigger, res.ExpiredCount, res.AffectedUsers, len(res.FailedUsers))
	return nil
}

func (q *Queue) processRepairJob(ctx context.Context, job *Job) error {
	payload, err := RepairJobPayloadFromMap(job.Payload)
	if err != nil || payload.UserID == 0 {
		return permanent(fmt.Errorf("invalid repair payload: %v", job.Payload))
	}
	rec, err := q.getReconciler()
	if err != nil {
		return err
	}
	res, err := rec.Repair(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, membership.ErrValidation) || errors.Is(err, membership.ErrNotFound) {
			return permanent(err)
		}
		return err
	}
	_ = q.client.Del(ctx, repairLock(payload.UserID)).Err()
	log.Infof("[JobQueue] Repaired user %d (%s): record %d, deactivated %d",
		payload.UserID, payload.Reason, res.Membership.ID, res.DeactivatedCount)
	return nil
}

func (q *Queue) processNotifyJob(ctx context.Context, job *Job) error {
	payload, err := NotifyJobPayloadFromMap(job.Payload)
	if err != nil {
		return permanent(fmt.Errorf("invalid notify payload: %w", err))
	}
	return q.getSink().Send(ctx, notify.Message{
		Kind:             payload.Kind,
		UserID:           payload.UserID,
		MembershipID:     payload.MembershipID,
		MembershipTypeID: payload.MembershipTypeID,
		EndAt:            payload.EndAt,
	})
}

func repairLock(userID uint) string {
	return fmt.Sprintf("%s%s:%d", JobLockPrefix, JobTypeMembershipRepair, userID)
}

// ScheduleRepair implements membership.RepairScheduler. Users already queued
// within RepairLockTTL are not queued twice.
func (q *Queue) ScheduleRepair(ctx context.Context, userID uint) error {
	lock := fmt.Sprintf("%s:%d", JobTypeMembershipRepair, userID)
	_, err := q.enqueueOnce(ctx, lock, RepairLockTTL, JobTypeMembershipRepair, RepairJobPayload{
		UserID: userID,
		Reason: "sweep failure",
	}.ToMap())
	return err
}

// EnqueueRepair queues a repair on request, bypassing the dedupe lock.
func (q *Queue) EnqueueRepair(ctx context.Context, userID uint, reason string) (*Job, error) {
	return q.EnqueueJob(ctx, JobTypeMembershipRepair, RepairJobPayload{UserID: userID, Reason: reason}.ToMap())
}

// EnqueueSweep queues a sweep unless one was queued within ttl, so several
// instances ticking together run a single sweep.
func (q *Queue) EnqueueSweep(ctx context.Context, trigger string, ttl time.Duration) (*Job, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	return q.enqueueOnce(ctx, string(JobTypeMembershipSweep), ttl, JobTypeMembershipSweep, SweepJobPayload{Trigger: trigger}.ToMap())
}

// Notifier turns membership events into notify jobs. It implements
// membership.Listener.
type Notifier struct {
	queue *Queue
}

func NewNotifier(q *Queue) *Notifier {
	return &Notifier{queue: q}
}

func (n *Notifier) HandleMembershipEvent(ctx context.Context, ev membership.Event) {
	if ev.Membership == nil || !(ev.PointerChanged || ev.Reactivated) {
		return
	}
	payload := NotifyJobPayload{
		Kind:             string(ev.Kind),
		UserID:           ev.UserID,
		MembershipID:     ev.Membership.ID,
		MembershipTypeID: ev.Membership.MembershipTypeID,
		EndAt:            ev.Membership.EndAt,
	}
	if _, err := n.queue.EnqueueJob(ctx, JobTypeMembershipNotify, payload.ToMap()); err != nil {
		log.Errorw("failed to enqueue membership notification", "user_id", ev.UserID, "error", err)
	}
}
