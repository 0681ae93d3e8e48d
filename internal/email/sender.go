package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Sender is the outbound email capability: send(to, subject, body).
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPConfig holds the transport settings for the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Validate reports missing required settings. Called at process start so
// credential problems are fatal before any run begins.
func (c SMTPConfig) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "smtp.host")
	}
	if c.Port == 0 {
		missing = append(missing, "smtp.port")
	}
	if c.From == "" {
		missing = append(missing, "smtp.from")
	}
	if len(missing) > 0 {
		return fmt.Errorf("smtp configuration incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// SMTPSender sends digests over SMTP.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender builds a sender from validated config.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SMTPSender{cfg: cfg}, nil
}

// Send delivers one HTML email.
func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}
