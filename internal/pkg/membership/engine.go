// Package membership is the reconciliation engine for user memberships. It is
// the only writer of membership records and of the user's active membership
// pointer; checkout webhooks, admin assignment, self-service grants, the expiry
// sweep and the repair endpoint all go through it.
//
// The engine keeps no state between calls. Every operation re-reads the store
// and always deactivates before it activates, so an interrupted call leaves a
// user with zero active records (healed by Repair) and never with two.
package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
	"github.com/ManuelReschke/PurchaseDesk/app/repository"
)

// DefaultFallbackValidity is the window granted to open-ended and fallback plans.
const DefaultFallbackValidity = 10 * 365 * 24 * time.Hour

const userLockStripes = 64

// EventKind identifies what the engine just did.
type EventKind string

const (
	EventAssigned EventKind = "assigned"
	EventRepaired EventKind = "repaired"
	EventDemoted  EventKind = "demoted"
	EventSwept    EventKind = "swept"
)

// Event is handed to listeners after a successful write. Membership is the
// user's final record; Count carries the expired-record count of a sweep.
// Reactivated is set when the final record was not active before the write.
type Event struct {
	Kind           EventKind
	UserID         uint
	Membership     *models.MembershipRecord
	PointerChanged bool
	Reactivated    bool
	Count          int64
}

// Listener receives engine events. Listeners are fire-and-forget: they must
// not block and cannot fail the operation that triggered them.
type Listener interface {
	HandleMembershipEvent(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event)

func (f ListenerFunc) HandleMembershipEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// RepairScheduler queues an asynchronous repair for a user.
type RepairScheduler interface {
	ScheduleRepair(ctx context.Context, userID uint) error
}

// Engine applies membership assignments, expiry and repairs.
type Engine struct {
	users   repository.UserRepository
	types   repository.MembershipTypeRepository
	records repository.MembershipRecordRepository

	defaultTypeID    uint
	fallbackValidity time.Duration
	now              func() time.Time
	listeners        []Listener
	repairs          RepairScheduler

	// Serialises writers for the same user inside this process. Other
	// instances are not covered; their races are healed by sweep and repair.
	userLocks [userLockStripes]sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultPlan sets the catalog id of the plan granted when nothing else is valid.
func WithDefaultPlan(typeID uint) Option {
	return func(e *Engine) {
		e.defaultTypeID = typeID
	}
}

// WithFallbackValidity overrides DefaultFallbackValidity.
func WithFallbackValidity(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fallbackValidity = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithListener registers a listener for engine events.
func WithListener(l Listener) Option {
	return func(e *Engine) {
		if l != nil {
			e.listeners = append(e.listeners, l)
		}
	}
}

// WithRepairScheduler lets the sweep hand users it failed on to a repair queue.
func WithRepairScheduler(s RepairScheduler) Option {
	return func(e *Engine) {
		e.repairs = s
	}
}

// NewEngine creates an engine over the given repositories.
func NewEngine(repos *repository.Repositories, opts ...Option) *Engine {
	e := &Engine{
		users:            repos.User,
		types:            repos.MembershipType,
		records:          repos.MembershipRecord,
		fallbackValidity: DefaultFallbackValidity,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultPlanID returns the configured default plan id (0 if unset).
func (e *Engine) DefaultPlanID() uint {
	return e.defaultTypeID
}

// ResolveDefaultPlan returns the fallback plan. A configured id must exist in
// the catalog; without one the name heuristic picks a plan.
func (e *Engine) ResolveDefaultPlan(ctx context.Context) (*models.MembershipType, error) {
	if e.defaultTypeID != 0 {
		mt, err := e.types.GetByID(ctx, e.defaultTypeID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: configured plan %d is not in the catalog", ErrNoDefaultPlan, e.defaultTypeID)
			}
			return nil, err
		}
		return mt, nil
	}

	types, err := e.types.List(ctx)
	if err != nil {
		return nil, err
	}
	mt := guessDefaultPlan(types)
	if mt == nil {
		return nil, ErrNoDefaultPlan
	}
	log.Warnw("no default membership plan configured, guessed from catalog", "type_id", mt.ID, "slug", mt.Slug)
	return mt, nil
}

// ActiveMembership returns the user's current record when the pointer
// satisfies the pointer invariant, nil otherwise. It never writes.
func (e *Engine) ActiveMembership(ctx context.Context, userID uint) (*models.MembershipRecord, error) {
	if userID == 0 {
		return nil, validationf("user id is required")
	}
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationf("unknown user %d", userID)
		}
		return nil, err
	}
	if user.ActiveMembershipID == nil {
		return nil, nil
	}
	rec, err := e.records.GetByID(ctx, *user.ActiveMembershipID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rec.UserID != user.ID || !rec.IsValidAt(e.now()) {
		return nil, nil
	}
	return rec, nil
}

func (e *Engine) lockUser(userID uint) func() {
	m := &e.userLocks[userID%userLockStripes]
	m.Lock()
	return m.Unlock
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	for _, l := range e.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorw("membership listener panicked", "kind", ev.Kind, "user_id", ev.UserID, "panic", r)
				}
			}()
			l.HandleMembershipEvent(ctx, ev)
		}()
	}
}

func (e *Engine) storeErr(op, step string, userID uint, err error) error {
	log.Errorw("membership store step failed", "op", op, "step", step, "user_id", userID, "error", err)
	return &StoreError{Op: op, Step: step, UserID: userID, Err: err}
}

// loadUser maps a missing user to a validation error.
func (e *Engine) loadUser(ctx context.Context, op string, userID uint) (*models.User, error) {
	if userID == 0 {
		return nil, validationf("user id is required")
	}
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationf("unknown user %d", userID)
		}
		return nil, e.storeErr(op, "load_user", userID, err)
	}
	return user, nil
}

// grantFallback activates the default plan for a user whose other records
// are all unusable: an existing record of that type is renewed in place,
// otherwise a new one is created. Callers deactivate first.
func (e *Engine) grantFallback(ctx context.Context, op string, user *models.User, records []models.MembershipRecord, now time.Time) (*models.MembershipRecord, error) {
	mt, err := e.ResolveDefaultPlan(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Errorw("membership fallback impossible", "op", op, "user_id", user.ID, "error", err)
			return nil, err
		}
		return nil, e.storeErr(op, "resolve_default_plan", user.ID, err)
	}
	return e.activateType(ctx, op, user.ID, mt.ID, records, now, mt.WindowFrom(now, e.fallbackValidity))
}

// activateType renews the newest record of typeID or inserts a new one, in
// state active with the window [start, end).
func (e *Engine) activateType(ctx context.Context, op string, userID, typeID uint, records []models.MembershipRecord, start, end time.Time) (*models.MembershipRecord, error) {
	if existing := latestOfType(records, typeID); existing != nil {
		if err := e.records.Renew(ctx, existing.ID, start, end); err != nil {
			return nil, e.storeErr(op, "renew_record", userID, err)
		}
		rec := *existing
		rec.StartAt = start
		rec.EndAt = end
		rec.State = models.MembershipStateActive
		rec.ExpiredAt = nil
		return &rec, nil
	}

	rec := &models.MembershipRecord{
		UserID:           userID,
		MembershipTypeID: typeID,
		StartAt:          start,
		EndAt:            end,
		State:            models.MembershipStateActive,
	}
	if err := e.records.Create(ctx, rec); err != nil {
		return nil, e.storeErr(op, "insert_record", userID, err)
	}
	return rec, nil
}
