package notifier

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

// GmailSender implements Notifier over the Gmail API.
type GmailSender struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailSender creates a Gmail API sender from a mailbox's stored OAuth2
// refresh token.
func NewGmailSender(mb *models.Mailbox) (*GmailSender, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     mb.GmailClientID,
		ClientSecret: mb.GmailClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: mb.GmailRefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailSender{service: service, userEmail: mb.GmailUserEmail}, nil
}

// Send delivers a plain-text notification, retrying rate-limit errors with
// backoff inside the call.
func (s *GmailSender) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	raw, err := buildMessage(s.userEmail, to, subject, body)
	if err != nil {
		return err
	}

	message := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := s.service.Users.Messages.Send(s.userEmail, message).Context(ctx).Do()
		if err == nil {
			return nil
		}

		lastErr = err
		logrus.Warnf("Failed to send notification (attempt %d/%d): %v", attempt, 3, err)

		if strings.Contains(err.Error(), "quota") || strings.Contains(err.Error(), "rate") {
			waitTime := time.Duration(attempt*attempt) * time.Second
			logrus.Infof("Rate limited, waiting %v before retry", waitTime)
			time.Sleep(waitTime)
		} else {
			break
		}
	}

	return fmt.Errorf("failed to send notification after retries: %w", lastErr)
}

// Close closes the sender (no-op for Gmail API).
func (s *GmailSender) Close() error {
	return nil
}
