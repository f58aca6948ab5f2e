package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/env"
)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

func SMTPConfigFromEnv() SMTPConfig {
	cfg := SMTPConfig{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     env.GetEnv("SMTP_PORT", "25"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   env.GetEnv("SMTP_SENDER", ""),
	}
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
		log.Infof("SMTP_SENDER not set, using default sender: %s", cfg.Sender)
	}
	return cfg
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSink mails the user whose membership changed.
type SMTPSink struct {
	cfg   SMTPConfig
	users UserLookup
	send  sendFunc
}

func NewSMTPSink(cfg SMTPConfig, users UserLookup) *SMTPSink {
	return &SMTPSink{cfg: cfg, users: users, send: smtp.SendMail}
}

func (s *SMTPSink) Send(ctx context.Context, msg Message) error {
	user, err := s.users.GetByID(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient %d: %w", msg.UserID, err)
	}
	if user.Email == "" {
		log.Warnw("membership notification skipped, user has no email", "user_id", msg.UserID)
		return nil
	}

	var auth smtp.Auth
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	body := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", s.cfg.Sender, user.Email, msg.Subject()) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			msg.Body(),
	)

	if err := s.send(addr, auth, s.cfg.Sender, []string{user.Email}, body); err != nil {
		log.Errorw("SMTP send error", "user_id", msg.UserID, "addr", addr, "error", err)
		return err
	}
	log.Infof("Membership email sent to user %d via %s", msg.UserID, addr)
	return nil
}
