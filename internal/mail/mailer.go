// Package mail is the outbound mail transport used for email
// verification OTPs.
package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmrl23/keygate/internal/config"
	gomail "github.com/wneessen/go-mail"
)

// Message is an outbound mail.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// SendResult reports the transport's acknowledgement.
type SendResult struct {
	MessageID string   `json:"messageId"`
	Accepted  []string `json:"accepted"`
}

// Mailer sends messages. Implementations must be safe for concurrent
// use.
type Mailer interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// SMTPMailer sends through an SMTP relay using go-mail.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (*SendResult, error) {
	out := gomail.NewMsg()
	if err := out.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := out.To(msg.To...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(gomail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		out.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	}

	client, err := gomail.NewClient(m.cfg.Host,
		gomail.WithPort(m.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.cfg.Username),
		gomail.WithPassword(m.cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, out); err != nil {
		return nil, fmt.Errorf("send mail: %w", err)
	}

	return &SendResult{
		MessageID: out.GetMessageID(),
		Accepted:  msg.To,
	}, nil
}

// LogMailer logs messages instead of sending them. Used when no SMTP
// host is configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) (*SendResult, error) {
	slog.Info("mail (not sent, no SMTP configured)",
		"to", msg.To,
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return &SendResult{MessageID: "log", Accepted: msg.To}, nil
}
