// Package mail delivers invitation notifications.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Invite carries everything a delivery needs to render an invitation message.
type Invite struct {
	To          string
	Token       string
	InviterName string
	RoleName    string
	ExpiresAt   time.Time
}

// Mailer sends invitation messages. Delivery failure must not fail the
// inviting request; callers log and continue.
type Mailer interface {
	SendInvite(ctx context.Context, inv Invite) error
}

// SMTPConfig configures the SMTP mailer.
type SMTPConfig struct {
	Addr     string `yaml:"addr"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// BaseURL is prepended to the accept-invite path in the message body.
	BaseURL string `yaml:"base_url"`
}

// SMTPMailer delivers invites over plain SMTP.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// SendInvite sends the invitation message. The context is accepted for
// interface symmetry; net/smtp has no native cancellation.
func (m *SMTPMailer) SendInvite(_ context.Context, inv Invite) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", inv.To)
	fmt.Fprintf(&b, "Subject: You have been invited to TeamVault\r\n")
	fmt.Fprintf(&b, "\r\n")
	fmt.Fprintf(&b, "%s invited you to join TeamVault as %s.\r\n\r\n", inv.InviterName, inv.RoleName)
	fmt.Fprintf(&b, "Accept your invitation here:\r\n%s/accept-invite?token=%s\r\n\r\n", m.cfg.BaseURL, inv.Token)
	fmt.Fprintf(&b, "The invitation expires at %s.\r\n", inv.ExpiresAt.UTC().Format(time.RFC1123))

	var auth smtp.Auth
	if m.cfg.Username != "" {
		host := m.cfg.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}
	if err := smtp.SendMail(m.cfg.Addr, auth, m.cfg.From, []string{inv.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("sending invite mail: %w", err)
	}
	return nil
}

// NoopMailer logs the invite instead of sending it. Used when no SMTP server
// is configured and in tests.
type NoopMailer struct{}

// SendInvite logs the invitation at debug level and reports success.
func (NoopMailer) SendInvite(_ context.Context, inv Invite) error {
	log.Debug().
		Str("to", inv.To).
		Str("role", inv.RoleName).
		Time("expires_at", inv.ExpiresAt).
		Msg("invite mail suppressed (no mailer configured)")
	return nil
}
