package billing

import "errors"

// Stripe event handled by the adapter. Every other event type is stored and
// acknowledged without side effects.
const EventCheckoutSessionCompleted = "checkout.session.completed"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	// ErrUnmappedPlan means the session names neither a membership type nor a
	// price with an active plan mapping.
	ErrUnmappedPlan = errors.New("no membership type mapped for checkout session")
)

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// CheckoutSession is the part of a completed Stripe checkout session that
// drives a membership grant.
type CheckoutSession struct {
	ID               string
	UserID           uint
	MembershipTypeID uint
	PriceRef         string
}

// WebhookResult tells the HTTP layer how a delivery was handled.
type WebhookResult struct {
	EventID          string
	Duplicate        bool
	Ignored          bool
	MembershipID     uint
	MembershipTypeID uint
}
