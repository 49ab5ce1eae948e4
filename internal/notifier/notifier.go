package notifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"mail-onboarding-go/internal/models"
)

// Notifier sends notification email on behalf of one mailbox. Delivery is
// best effort; a failed send is retried by the next scheduled cycle, never
// inside the task.
type Notifier interface {
	Send(ctx context.Context, to []string, subject, body string) error
	Close() error
}

// New opens the right outbound transport for a mailbox.
func New(mb *models.Mailbox) (Notifier, error) {
	if mb.UseGmailAPI {
		return NewGmailSender(mb)
	}
	return NewSMTPSender(mb), nil
}

// SMTPSender implements Notifier over the mailbox's SMTP credentials.
type SMTPSender struct {
	host string
	port int
	user string
	pass string
	from string
}

// NewSMTPSender builds a sender from mailbox credentials. No connection is
// held open; each Send dials fresh.
func NewSMTPSender(mb *models.Mailbox) *SMTPSender {
	return &SMTPSender{
		host: mb.SMTPHost,
		port: mb.SMTPPort,
		user: mb.SMTPUser,
		pass: mb.SMTPPass,
		from: mb.SMTPUser,
	}
}

// Send delivers a plain-text notification.
func (s *SMTPSender) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	msg, err := buildMessage(s.from, to, subject, body)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	auth := sasl.NewPlainClient("", s.user, s.pass)
	if err := smtp.SendMail(addr, auth, s.from, to, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	return nil
}

// Close is a no-op for the stateless SMTP sender.
func (s *SMTPSender) Close() error {
	return nil
}

// buildMessage renders a single-part plain-text RFC 5322 message.
func buildMessage(from string, to []string, subject, body string) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	toList := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		toList = append(toList, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", toList)
	h.SetSubject(subject)

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize message: %w", err)
	}

	return buf.Bytes(), nil
}
