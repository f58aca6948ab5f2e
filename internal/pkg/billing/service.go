package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/membership"
)

// finishTimeout bounds the write of a delivery's outcome, which runs even
// when the request context is already done.
const finishTimeout = 5 * time.Second

// Assigner grants a membership. Implemented by *membership.Engine.
type Assigner interface {
	Assign(ctx context.Context, in membership.AssignInput) (*models.MembershipRecord, error)
}

// Service turns verified provider webhooks into membership grants.
type Service struct {
	repo      Repository
	assigner  Assigner
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSignatureTolerance overrides DefaultSignatureTolerance.
func WithSignatureTolerance(d time.Duration) Option {
	return func(s *Service) { s.tolerance = d }
}

// WithClock sets the time source used for signature timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, assigner Assigner, webhookSecret string, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		assigner:  assigner,
		secret:    webhookSecret,
		tolerance: DefaultSignatureTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, assigner Assigner, webhookSecret string, opts ...Option) *Service {
	return NewService(NewRepository(db), assigner, webhookSecret, opts...)
}

// ResolveMembershipType picks the plan for a session. An explicit
// membership_type_id wins over a mapped price.
func (s *Service) ResolveMembershipType(ctx context.Context, session *CheckoutSession) (uint, error) {
	if session.MembershipTypeID != 0 {
		return session.MembershipTypeID, nil
	}
	m, err := s.repo.FindActivePlanMapping(ctx, models.BillingProviderStripe, session.PriceRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: price %q", ErrUnmappedPlan, session.PriceRef)
		}
		return 0, err
	}
	return m.MembershipTypeID, nil
}

// HandleStripeWebhook records the delivery, verifies it and assigns the
// purchased plan. Only deliveries that completed without error are
// acknowledged as duplicates. A delivery that failed, or whose outcome was
// never stored, is processed again; Assign is idempotent for the same plan.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	envelope := parseStripeEnvelope(payload)
	signatureValid := VerifyStripeWebhookSignature(payload, signatureHeader, s.secret, s.tolerance, s.now())

	created, stored, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: envelope.ID,
		EventType:       envelope.Type,
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return nil, err
	}
	result := &WebhookResult{EventID: stored.ProviderEventID}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		result.Duplicate = true
		return result, nil
	}

	if !signatureValid {
		s.finish(ctx, stored.ID, ErrInvalidSignature)
		return nil, ErrInvalidSignature
	}
	if envelope.Type != EventCheckoutSessionCompleted {
		s.finish(ctx, stored.ID, nil)
		result.Ignored = true
		return result, nil
	}

	session, err := ParseCheckoutSession(payload)
	if err != nil {
		s.finish(ctx, stored.ID, err)
		return nil, err
	}
	typeID, err := s.ResolveMembershipType(ctx, session)
	if err != nil {
		s.finish(ctx, stored.ID, err)
		return nil, err
	}

	rec, err := s.assigner.Assign(ctx, membership.AssignInput{
		UserID:           session.UserID,
		MembershipTypeID: typeID,
	})
	if err != nil {
		log.Errorw("stripe checkout grant failed",
			"event_id", stored.ProviderEventID, "user_id", session.UserID, "membership_type_id", typeID, "error", err)
		s.finish(ctx, stored.ID, err)
		return nil, err
	}
	s.finish(ctx, stored.ID, nil)

	log.Infow("stripe checkout granted membership",
		"event_id", stored.ProviderEventID, "user_id", session.UserID, "record_id", rec.ID, "membership_type_id", typeID)
	result.MembershipID = rec.ID
	result.MembershipTypeID = typeID
	return result, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}

func (s *Service) finish(ctx context.Context, id uint, processingErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := s.MarkWebhookProcessed(ctx, id, processingErr); err != nil {
		log.Warnw("failed to mark webhook processed", "webhook_event_id", id, "error", err)
	}
}
