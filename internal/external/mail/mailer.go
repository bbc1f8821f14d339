// Package mail delivers outbox emails over SMTP.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// DefaultTimeout bounds one SMTP conversation when ctx has no deadline
const DefaultTimeout = 30 * time.Second

// Config holds SMTP settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// FromName is the display name on the From header
	FromName string
	Timeout  time.Duration
}

// SMTPMailer sends plain-text messages, upgrading to TLS when offered
type SMTPMailer struct {
	cfg Config
	now func() time.Time
}

// NewSMTPMailer creates a new SMTPMailer
func NewSMTPMailer(cfg Config) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &SMTPMailer{cfg: cfg, now: time.Now}
}

// Compose renders the RFC 5322 message
func (m *SMTPMailer) Compose(recipient, subject, body string) ([]byte, error) {
	var h gomail.Header
	h.SetDate(m.now())
	h.SetAddressList("From", []*gomail.Address{{Name: m.cfg.FromName, Address: m.cfg.From}})
	h.SetAddressList("To", []*gomail.Address{{Address: recipient}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Send delivers one message. 5xx replies are permanent; everything else
// is retried by the outbox.
func (m *SMTPMailer) Send(ctx context.Context, recipient, subject, body string) error {
	msg, err := m.Compose(recipient, subject, body)
	if err != nil {
		return domain.NonRetryable(err.Error())
	}
	if err := m.deliver(ctx, recipient, msg); err != nil {
		return classify(err)
	}
	return nil
}

func (m *SMTPMailer) deliver(ctx context.Context, recipient string, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(m.cfg.Timeout)
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("failed to start tls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("failed to authenticate: %w", err)
			}
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("RCPT TO rejected: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}
	return client.Quit()
}

func classify(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		return domain.NonRetryable(err.Error())
	}
	return domain.NewRetryableError(err)
}
