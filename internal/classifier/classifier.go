package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mail-onboarding-go/internal/config"
)

// Intent values returned by the classifier.
const (
	IntentNewRequest  = "new_request"
	IntentApproval    = "approval"
	IntentRejection   = "rejection"
	IntentOutOfOffice = "out_of_office"
	IntentQuery       = "query"
)

// Result is the classifier's verdict on one message.
type Result struct {
	Intent         string `json:"intent"`
	UserEmail      string `json:"user_email"`
	RequestedGroup string `json:"requested_group"`
	DelegateEmail  string `json:"delegate_email"`
	Reason         string `json:"reason"`
}

// Classifier determines the intent of an inbound email and extracts the
// entities the workflow needs.
type Classifier interface {
	Analyze(ctx context.Context, subject, body string) (*Result, error)
}

// OllamaClassifier implements Classifier against an Ollama chat endpoint
// with JSON-forced output.
type OllamaClassifier struct {
	host   string
	model  string
	client *http.Client
}

// NewOllamaClassifier creates a classifier for the configured Ollama host.
func NewOllamaClassifier(cfg *config.OllamaConfig) *OllamaClassifier {
	return &OllamaClassifier{
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  cfg.Model,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

var botSenderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)no-?reply@`),
	regexp.MustCompile(`(?i)notification`),
	regexp.MustCompile(`(?i)do-?not-?reply@`),
	regexp.MustCompile(`(?i)mailer-daemon`),
	regexp.MustCompile(`(?i)postmaster@`),
	regexp.MustCompile(`(?i)automated`),
	regexp.MustCompile(`(?i)helpdesk`),
	regexp.MustCompile(`(?i)bounces@`),
	regexp.MustCompile(`(?i)^noreply`),
	regexp.MustCompile(`(?i)bot@`),
	regexp.MustCompile(`(?i)listserv`),
	regexp.MustCompile(`(?i)system@`),
	regexp.MustCompile(`(?i)alerts?@`),
}

var onboardingKeywords = []string{
	"onboard", "request access", "join", "add access", "add to group",
	"registration", "enable access", "new user", "account setup",
	"provision", "grant access", "request membership", "add user",
}

// IsRealUserEmail filters out no-reply, daemon and other bot-style addresses.
func IsRealUserEmail(addr string) bool {
	if addr == "" {
		return false
	}
	for _, pat := range botSenderPatterns {
		if pat.MatchString(addr) {
			return false
		}
	}
	return true
}

// ContainsOnboardingKeyword checks for common onboarding phrases.
func ContainsOnboardingKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range onboardingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

const systemPrompt = `You are a careful IT onboarding gatekeeper. Your job is to classify incoming emails.
You MUST ONLY return a JSON dictionary, and nothing else.

A "new_request" is valid ONLY when BOTH:
* The email expresses a clear onboarding intent (contains keywords like "onboard", "request access", "add user", "join", "add to group", "enable access", "registration"), AND
* Contains a real person's email address (NOT no-reply, notification, bot, mailer-daemon, etc).

If BOTH these conditions are not met, classify as intent "query" and set all extracted fields to null.

JSON format for output:

For onboarding requests:
  {"intent": "new_request", "user_email": "[REAL_EMAIL]", "requested_group": "[GROUP]"}
  requested_group is the team/system requested, e.g. "DEV". If you can't find it, set it to null.

For approval or rejection replies:
  {"intent": "approval", "user_email": "[USER]", "requested_group": "[GROUP]"}
  {"intent": "rejection", "user_email": "[USER]", "requested_group": "[GROUP]", "reason": "[REASON]"}
  (if a field is not found, use null)

If you see an "out of office" response that names a delegate, return:
  {"intent": "out_of_office", "delegate_email": "[DELEGATE_EMAIL]"}

For everything else:
  {"intent": "query", "user_email": null, "delegate_email": null, "requested_group": null}

Do NOT guess or invent values. ONLY extract real emails from the body or subject and carefully check the sender.
If the only email present is a no-reply, notification, daemon, or other bot/system address, DO NOT create new_request.
Never use example.com or placeholder values.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format"`
	Options  map[string]any `json:"options"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Analyze classifies one message. Failures surface as an error; callers treat
// them as "unrelated" rather than acting on a guess.
func (c *OllamaClassifier) Analyze(ctx context.Context, subject, body string) (*Result, error) {
	content := fmt.Sprintf("Subject: %s\n\nBody:\n%s", subject, body)
	compacted := strings.TrimSpace(whitespaceRe.ReplaceAllString(content, " "))
	if len(compacted) > 5000 {
		compacted = compacted[:5000]
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: compacted},
		},
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": 0.0},
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(chat.Message.Content), &result); err != nil {
		return nil, fmt.Errorf("classifier returned malformed JSON: %w", err)
	}

	result.UserEmail = strings.ToLower(strings.TrimSpace(result.UserEmail))
	result.DelegateEmail = strings.ToLower(strings.TrimSpace(result.DelegateEmail))
	result.RequestedGroup = strings.TrimSpace(result.RequestedGroup)

	// Post-processing validation: the model occasionally promotes noise to
	// new_request; demote anything that fails the hard checks.
	if result.Intent == IntentNewRequest {
		if !IsRealUserEmail(result.UserEmail) || !ContainsOnboardingKeyword(subject+" "+body) {
			logrus.Warn("Classifier produced 'new_request' that failed validation, reverting to 'query'")
			result = Result{Intent: IntentQuery}
		}
	}

	return &result, nil
}
