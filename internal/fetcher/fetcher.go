package fetcher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"mail-onboarding-go/internal/models"
)

// Fetcher pulls inbound messages for one mailbox.
type Fetcher interface {
	// FetchSince returns messages received at or after the given floor.
	FetchSince(ctx context.Context, since time.Time) ([]models.EmailMessage, error)
	Close() error
}

// New opens the right transport for a mailbox.
func New(mb *models.Mailbox) (Fetcher, error) {
	if mb.UseGmailAPI {
		return NewGmailFetcher(mb)
	}
	return NewIMAPFetcher(mb)
}

// IMAPFetcher implements Fetcher over IMAP.
type IMAPFetcher struct {
	client *client.Client
}

// NewIMAPFetcher connects and logs in with the mailbox's IMAP credentials.
func NewIMAPFetcher(mb *models.Mailbox) (*IMAPFetcher, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", mb.IMAPHost, mb.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(mb.IMAPUser, mb.IMAPPass); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPFetcher{client: c}, nil
}

// FetchSince fetches messages received since the given floor.
func (f *IMAPFetcher) FetchSince(ctx context.Context, since time.Time) ([]models.EmailMessage, error) {
	if _, err := f.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := f.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if len(uids) == 0 {
		return []models.EmailMessage{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem(), imap.FetchUid, imap.FetchInternalDate}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- f.client.Fetch(seqset, items, messages)
	}()

	var emails []models.EmailMessage

	for msg := range messages {
		email, err := f.parseMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return emails, nil
}

// parseMessage converts an IMAP message into an EmailMessage.
func (f *IMAPFetcher) parseMessage(msg *imap.Message, section *imap.BodySectionName) (models.EmailMessage, error) {
	email := models.EmailMessage{
		Headers:   make(map[string]string),
		Timestamp: msg.InternalDate,
	}

	if msg.Envelope != nil {
		email.ID = msg.Envelope.MessageId
		email.Subject = msg.Envelope.Subject
		if !msg.Envelope.Date.IsZero() {
			email.Timestamp = msg.Envelope.Date
		}
		if len(msg.Envelope.From) > 0 {
			email.From = msg.Envelope.From[0].Address()
		}
		for _, addr := range msg.Envelope.To {
			email.To = append(email.To, addr.Address())
		}
	}

	if email.ID == "" {
		return email, fmt.Errorf("message has no Message-ID")
	}

	if err := f.parseBody(msg, section, &email); err != nil {
		return email, err
	}

	return email, nil
}

// parseBody extracts the text and HTML parts of the message body.
func (f *IMAPFetcher) parseBody(msg *imap.Message, section *imap.BodySectionName, email *models.EmailMessage) error {
	r := msg.GetBody(section)
	if r == nil {
		return nil
	}

	entity, err := message.Read(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") {
				email.Body = string(content)
			} else if strings.Contains(contentType, "text/html") {
				email.HTMLBody = string(content)
			}
		}
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	contentType := entity.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		email.HTMLBody = string(content)
	} else {
		email.Body = string(content)
	}

	return nil
}

// Close logs out of the IMAP session.
func (f *IMAPFetcher) Close() error {
	return f.client.Logout()
}
