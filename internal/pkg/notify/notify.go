// Package notify delivers membership change notifications to an external
// sink. Delivery is best effort and never feeds back into membership state.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
)

// Message describes the user's membership after a change.
type Message struct {
	Kind             string    `json:"kind"`
	UserID           uint      `json:"user_id"`
	MembershipID     uint      `json:"membership_id"`
	MembershipTypeID uint      `json:"membership_type_id"`
	EndAt            time.Time `json:"end_at"`
}

func (m Message) Subject() string {
	switch m.Kind {
	case "demoted":
		return "Your membership has changed"
	case "repaired":
		return "Your membership has been restored"
	default:
		return "Your membership is active"
	}
}

func (m Message) Body() string {
	return fmt.Sprintf(
		"<p>Your current membership (#%d, plan %d) is valid until %s.</p>",
		m.MembershipID, m.MembershipTypeID, m.EndAt.UTC().Format("2006-01-02"),
	)
}

// Sink delivers a message.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// UserLookup resolves the recipient of a message.
type UserLookup interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// LogSink only logs. Used when no mail server is configured.
type LogSink struct{}

func (LogSink) Send(_ context.Context, msg Message) error {
	log.Infow("membership notification",
		"kind", msg.Kind,
		"user_id", msg.UserID,
		"membership_id", msg.MembershipID,
		"type_id", msg.MembershipTypeID,
	)
	return nil
}

// NewSinkFromEnv returns an SMTP sink when SMTP_HOST is set, a LogSink otherwise.
func NewSinkFromEnv(users UserLookup) Sink {
	cfg := SMTPConfigFromEnv()
	if cfg.Host == "" {
		return LogSink{}
	}
	return NewSMTPSink(cfg, users)
}
