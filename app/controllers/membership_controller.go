package controllers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/entitlements"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/membership"
)

// DefaultRequestTimeout bounds every membership operation started by a request.
const DefaultRequestTimeout = 15 * time.Second

// MembershipService is the engine surface the HTTP layer drives.
type MembershipService interface {
	Assign(ctx context.Context, in membership.AssignInput) (*models.MembershipRecord, error)
	SweepExpired(ctx context.Context) (*membership.SweepResult, error)
	Repair(ctx context.Context, userID uint) (*membership.RepairResult, error)
	ActiveMembership(ctx context.Context, userID uint) (*models.MembershipRecord, error)
	ResolveDefaultPlan(ctx context.Context) (*models.MembershipType, error)
}

// ActiveMembershipReader serves limit checks, usually through the cache.
type ActiveMembershipReader interface {
	ActiveMembership(ctx context.Context, userID uint) (*models.MembershipRecord, error)
}

// Catalog reads membership types.
type Catalog interface {
	GetByID(ctx context.Context, id uint) (*models.MembershipType, error)
	List(ctx context.Context) ([]models.MembershipType, error)
}

// CounterSnapshotter exposes operation counters.
type CounterSnapshotter interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// RepairQueue hands repairs to the job workers. Implemented by *jobqueue.Queue.
type RepairQueue interface {
	EnqueueRepair(ctx context.Context, userID uint, reason string) (*jobqueue.Job, error)
}

type AssignRequest struct {
	UserID           uint       `json:"userId" validate:"required"`
	MembershipTypeID uint       `json:"membershipTypeId" validate:"required"`
	StartDate        *time.Time `json:"startDate"`
	EndDate          *time.Time `json:"endDate"`
}

type UserRequest struct {
	UserID uint `json:"userId" validate:"required"`
}

type MembershipController struct {
	service  MembershipService
	active   ActiveMembershipReader
	catalog  Catalog
	counters CounterSnapshotter
	repairs  RepairQueue
	validate *validator.Validate
	timeout  time.Duration
}

// NewMembershipController wires the handlers. A nil active reader falls back
// to the service; nil counters report an empty snapshot.
func NewMembershipController(service MembershipService, active ActiveMembershipReader, catalog Catalog, counters CounterSnapshotter) *MembershipController {
	if active == nil {
		active = service
	}
	return &MembershipController{
		service:  service,
		active:   active,
		catalog:  catalog,
		counters: counters,
		validate: validator.New(),
		timeout:  DefaultRequestTimeout,
	}
}

// SetRepairQueue enables POST /membership/repair/enqueue.
func (mc *MembershipController) SetRepairQueue(q RepairQueue) {
	mc.repairs = q
}

func (mc *MembershipController) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), mc.timeout)
}

func (mc *MembershipController) bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", membership.ErrValidation, err)
	}
	if err := mc.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", membership.ErrValidation, err)
	}
	return nil
}

// HandleAssign grants a plan. POST /api/v1/membership/assign
func (mc *MembershipController) HandleAssign(c *fiber.Ctx) error {
	var req AssignRequest
	if err := mc.bind(c, &req); err != nil {
		return membershipError(c, err)
	}
	ctx, cancel := mc.requestContext(c)
	defer cancel()

	rec, err := mc.service.Assign(ctx, membership.AssignInput{
		UserID:           req.UserID,
		MembershipTypeID: req.MembershipTypeID,
		StartAt:          req.StartDate,
		EndAt:            req.EndDate,
	})
	if err != nil {
		return membershipError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "membership": rec})
}

// HandleSweepExpired runs the expiry sweep now. POST /api/v1/membership/sweep-expired
func (mc *MembershipController) HandleSweepExpired(c *fiber.Ctx) error {
	ctx, cancel := mc.requestContext(c)
	defer cancel()

	res, err := mc.service.SweepExpired(ctx)
	if err != nil {
		return membershipError(c, err)
	}
	return c.JSON(res)
}

// HandleRepair restores the invariants for one user. POST /api/v1/membership/repair
func (mc *MembershipController) HandleRepair(c *fiber.Ctx) error {
	var req UserRequest
	if err := mc.bind(c, &req); err != nil {
		return membershipError(c, err)
	}
	ctx, cancel := mc.requestContext(c)
	defer cancel()

	res, err := mc.service.Repair(ctx, req.UserID)
	if err != nil {
		return membershipError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":          true,
		"membership":       res.Membership,
		"deactivatedCount": res.DeactivatedCount,
	})
}

// HandleEnqueueRepair queues a repair for the job workers and answers
// 202 with the job id. POST /api/v1/membership/repair/enqueue
func (mc *MembershipController) HandleEnqueueRepair(c *fiber.Ctx) error {
	var req UserRequest
	if err := mc.bind(c, &req); err != nil {
		return membershipError(c, err)
	}
	if mc.repairs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"success": false, "error": "repair queue is not running"})
	}
	ctx, cancel := mc.requestContext(c)
	defer cancel()

	job, err := mc.repairs.EnqueueRepair(ctx, req.UserID, "api")
	if err != nil {
		return membershipError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true, "jobId": job.ID})
}

// HandleActive returns the user's valid membership and the limits it grants.
// GET /api/v1/membership/active/:userId
func (mc *MembershipController) HandleActive(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("userId"), 10, 64)
	if err != nil || userID == 0 {
		return membershipError(c, fmt.Errorf("%w: invalid user id %q", membership.ErrValidation, c.Params("userId")))
	}
	ctx, cancel := mc.requestContext(c)
	defer cancel()

	rec, err := mc.active.ActiveMembership(ctx, uint(userID))
	if err != nil {
		return membershipError(c, err)
	}
	limits := entitlements.None()
	if rec != nil {
		mt, err := mc.catalog.GetByID(ctx, rec.MembershipTypeID)
		switch {
		case err == nil:
			limits = entitlements.ForType(mt)
		case errors.Is(err, gorm.ErrRecordNotFound):
			log.Warnw("active membership references unknown type", "user_id", userID, "membership_type_id", rec.MembershipTypeID)
		default:
			return membershipError(c, err)
		}
	}
	return c.JSON(fiber.Map{"membership": rec, "limits": limits})
}

// HandleFree grants the default plan to a user without an active membership.
// POST /api/v1/membership/free
func (mc *MembershipController) HandleFree(c *fiber.Ctx) error {
	var req UserRequest
	if err := mc.bind(c, &req); err != nil {
		return membershipError(c, err)
	}
	ctx, cancel := mc.requestContext(c)
	defer cancel()

	current, err := mc.service.ActiveMembership(ctx, req.UserID)
	if err != nil {
		return membershipError(c, err)
	}
	if current != nil {
		return c.JSON(fiber.Map{"success": true, "membership": current, "created": false})
	}

	plan, err := mc.service.ResolveDefaultPlan(ctx)
	if err != nil {
		return membershipError(c, err)
	}
	rec, err := mc.service.Assign(ctx, membership.AssignInput{UserID: req.UserID, MembershipTypeID: plan.ID})
	if err != nil {
		return membershipError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "membership": rec, "created": true})
}

// HandleStats returns the operation counters. GET /api/v1/membership/stats
func (mc *MembershipController) HandleStats(c *fiber.Ctx) error {
	counters := map[string]int64{}
	if mc.counters != nil {
		ctx, cancel := mc.requestContext(c)
		defer cancel()
		snap, err := mc.counters.Snapshot(ctx)
		if err != nil {
			log.Errorw("failed to read membership counters", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "counters unavailable"})
		}
		counters = snap
	}
	return c.JSON(fiber.Map{"counters": counters})
}

// HandleTypes lists the plan catalog. GET /api/v1/membership/types
func (mc *MembershipController) HandleTypes(c *fiber.Ctx) error {
	ctx, cancel := mc.requestContext(c)
	defer cancel()

	types, err := mc.catalog.List(ctx)
	if err != nil {
		return membershipError(c, err)
	}
	return c.JSON(fiber.Map{"types": types})
}

func membershipErrorStatus(err error) int {
	switch {
	case errors.Is(err, membership.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, membership.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func membershipError(c *fiber.Ctx, err error) error {
	status := membershipErrorStatus(err)
	body := fiber.Map{"success": false, "error": err.Error()}

	var se *membership.StoreError
	if errors.As(err, &se) {
		body["error"] = fmt.Sprintf("membership update for user %d failed at %s; the user needs repair", se.UserID, se.Step)
		body["step"] = se.Step
		body["userId"] = se.UserID
	} else if status == fiber.StatusInternalServerError {
		log.Errorw("membership request failed", "path", c.Path(), "error", err)
		body["error"] = "internal error"
	}
	return c.Status(status).JSON(body)
}
