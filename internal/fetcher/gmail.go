package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mail-onboarding-go/internal/models"
)

// GmailFetcher implements Fetcher over the Gmail API for mailboxes
// provisioned with OAuth2 credentials instead of IMAP access.
type GmailFetcher struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailFetcher creates a Gmail API fetcher from a mailbox's stored
// OAuth2 refresh token.
func NewGmailFetcher(mb *models.Mailbox) (*GmailFetcher, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     mb.GmailClientID,
		ClientSecret: mb.GmailClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: mb.GmailRefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailFetcher{service: service, userEmail: mb.GmailUserEmail}, nil
}

// FetchSince fetches messages received since the given floor.
func (f *GmailFetcher) FetchSince(ctx context.Context, since time.Time) ([]models.EmailMessage, error) {
	query := fmt.Sprintf("after:%d", since.Unix())

	call := f.service.Users.Messages.List(f.userEmail).Q(query)
	response, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var emails []models.EmailMessage

	for _, msg := range response.Messages {
		full, err := f.service.Users.Messages.Get(f.userEmail, msg.Id).Format("full").Context(ctx).Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", msg.Id, err)
			continue
		}

		email, err := f.parseMessage(full)
		if err != nil {
			logrus.Warnf("Failed to parse message %s: %v", msg.Id, err)
			continue
		}

		emails = append(emails, email)
	}

	return emails, nil
}

// parseMessage converts a Gmail API message into an EmailMessage.
func (f *GmailFetcher) parseMessage(msg *gmail.Message) (models.EmailMessage, error) {
	email := models.EmailMessage{
		ID:        msg.Id,
		Headers:   make(map[string]string),
		Timestamp: time.UnixMilli(msg.InternalDate),
	}

	for _, header := range msg.Payload.Headers {
		email.Headers[header.Name] = header.Value

		switch header.Name {
		case "Subject":
			email.Subject = header.Value
		case "From":
			email.From = stripAddress(header.Value)
		case "To":
			for _, addr := range strings.Split(header.Value, ",") {
				email.To = append(email.To, stripAddress(addr))
			}
		case "Message-ID":
			// Prefer the RFC 5322 id so IMAP and API fetchers agree on dedup keys.
			email.ID = strings.TrimSpace(header.Value)
		}
	}

	if err := f.parseBody(msg.Payload, &email); err != nil {
		return email, err
	}

	return email, nil
}

// parseBody recursively parses Gmail message body parts.
func (f *GmailFetcher) parseBody(part *gmail.MessagePart, email *models.EmailMessage) error {
	if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode body data: %w", err)
		}

		content := string(data)

		switch part.MimeType {
		case "text/plain":
			email.Body = content
		case "text/html":
			email.HTMLBody = content
		}
	}

	for _, subPart := range part.Parts {
		if err := f.parseBody(subPart, email); err != nil {
			return err
		}
	}

	return nil
}

// stripAddress reduces "Name <addr>" to the bare address.
func stripAddress(s string) string {
	s = strings.TrimSpace(s)
	if start := strings.LastIndex(s, "<"); start >= 0 {
		if end := strings.LastIndex(s, ">"); end > start {
			return strings.TrimSpace(s[start+1 : end])
		}
	}
	return s
}

// Close closes the Gmail API fetcher.
func (f *GmailFetcher) Close() error {
	// The Gmail API service holds no connection state.
	return nil
}
