package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// parseStripeEnvelope reads the event id and type. A body that is not JSON
// yields empty values so the delivery can still be recorded.
func parseStripeEnvelope(payload []byte) stripeEnvelope {
	var env stripeEnvelope
	_ = json.Unmarshal(payload, &env)
	env.ID = strings.TrimSpace(env.ID)
	env.Type = strings.TrimSpace(env.Type)
	return env
}

// ParseCheckoutSession extracts the grant request from a
// checkout.session.completed event body.
func ParseCheckoutSession(payload []byte) (*CheckoutSession, error) {
	var raw struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID                string            `json:"id"`
				Object            string            `json:"object"`
				ClientReferenceID string            `json:"client_reference_id"`
				Metadata          map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if raw.Type != EventCheckoutSessionCompleted {
		return nil, fmt.Errorf("%w: unexpected event type %q", ErrInvalidPayload, raw.Type)
	}
	obj := raw.Data.Object
	if obj.Object != "" && obj.Object != "checkout.session" {
		return nil, fmt.Errorf("%w: unsupported object %q", ErrInvalidPayload, obj.Object)
	}

	userID, err := strconv.ParseUint(strings.TrimSpace(obj.ClientReferenceID), 10, 64)
	if err != nil || userID == 0 {
		return nil, fmt.Errorf("%w: client_reference_id %q is not a user id", ErrInvalidPayload, obj.ClientReferenceID)
	}

	session := &CheckoutSession{
		ID:       obj.ID,
		UserID:   uint(userID),
		PriceRef: strings.TrimSpace(obj.Metadata["price_id"]),
	}
	if v := strings.TrimSpace(obj.Metadata["membership_type_id"]); v != "" {
		typeID, err := strconv.ParseUint(v, 10, 64)
		if err != nil || typeID == 0 {
			return nil, fmt.Errorf("%w: metadata.membership_type_id %q", ErrInvalidPayload, v)
		}
		session.MembershipTypeID = uint(typeID)
	}
	if session.MembershipTypeID == 0 && session.PriceRef == "" {
		return nil, fmt.Errorf("%w: metadata names neither membership_type_id nor price_id", ErrInvalidPayload)
	}
	return session, nil
}
