package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"

	"mail-onboarding-go/internal/config"
)

const graphEndpoint = "https://graph.microsoft.com/v1.0"

// Directory answers the identity questions the workflow needs: who manages a
// user, who owns a group, and whether a user belongs to a group. Lookup
// failures surface as errors and are treated as validation failures upstream.
type Directory interface {
	GetUserManager(ctx context.Context, userEmail string) (string, error)
	GetGroupOwners(ctx context.Context, groupName string) ([]string, error)
	IsUserInGroup(ctx context.Context, userEmail, groupName string) (bool, error)
}

// GraphDirectory implements Directory against Microsoft Graph using the
// client-credentials flow; the oauth2 transport caches and refreshes the
// token internally.
type GraphDirectory struct {
	client *http.Client
}

// NewGraphDirectory builds a Graph client from Azure AD app credentials.
func NewGraphDirectory(cfg *config.AzureConfig) (*GraphDirectory, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("azure tenant id, client id, and client secret are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	return &GraphDirectory{client: creds.Client(context.Background())}, nil
}

type graphList struct {
	Value []json.RawMessage `json:"value"`
}

type graphUser struct {
	ID   string `json:"id"`
	Mail string `json:"mail"`
}

func (d *GraphDirectory) get(ctx context.Context, path string, query url.Values, dest interface{}) error {
	u := graphEndpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build graph request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph API error on %s: %d - %s", path, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(dest)
}

// getUserID resolves a user's Graph object id from their email. The filter
// matches both internal and guest users.
func (d *GraphDirectory) getUserID(ctx context.Context, userEmail string) (string, error) {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("mail eq '%s' or userPrincipalName eq '%s'", userEmail, userEmail))

	var list graphList
	if err := d.get(ctx, "/users", query, &list); err != nil {
		return "", err
	}
	if len(list.Value) == 0 {
		return "", fmt.Errorf("user %q not found in directory", userEmail)
	}

	var user graphUser
	if err := json.Unmarshal(list.Value[0], &user); err != nil {
		return "", fmt.Errorf("malformed user record: %w", err)
	}
	return user.ID, nil
}

// getGroupID resolves a group's Graph object id from its display name.
func (d *GraphDirectory) getGroupID(ctx context.Context, groupName string) (string, error) {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("displayName eq '%s'", groupName))

	var list graphList
	if err := d.get(ctx, "/groups", query, &list); err != nil {
		return "", err
	}
	if len(list.Value) == 0 {
		return "", fmt.Errorf("group %q not found in directory", groupName)
	}

	var group graphUser
	if err := json.Unmarshal(list.Value[0], &group); err != nil {
		return "", fmt.Errorf("malformed group record: %w", err)
	}
	return group.ID, nil
}

// GetUserManager returns the line manager's email for a user. The manager
// relation may return a limited profile, so the full profile is fetched by id
// to obtain the mail attribute.
func (d *GraphDirectory) GetUserManager(ctx context.Context, userEmail string) (string, error) {
	userID, err := d.getUserID(ctx, userEmail)
	if err != nil {
		return "", err
	}

	var manager graphUser
	if err := d.get(ctx, "/users/"+userID+"/manager", nil, &manager); err != nil {
		return "", fmt.Errorf("failed to fetch manager for %s: %w", userEmail, err)
	}
	if manager.ID == "" {
		return "", fmt.Errorf("manager of %s has no directory id", userEmail)
	}

	var profile graphUser
	if err := d.get(ctx, "/users/"+manager.ID, nil, &profile); err != nil {
		return "", fmt.Errorf("failed to fetch manager profile for %s: %w", userEmail, err)
	}
	if profile.Mail == "" {
		return "", fmt.Errorf("manager of %s has no mail attribute", userEmail)
	}

	return strings.ToLower(profile.Mail), nil
}

// GetGroupOwners returns the email addresses of a group's owners.
func (d *GraphDirectory) GetGroupOwners(ctx context.Context, groupName string) ([]string, error) {
	groupID, err := d.getGroupID(ctx, groupName)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("$select", "displayName,mail")

	var list graphList
	if err := d.get(ctx, "/groups/"+groupID+"/owners", query, &list); err != nil {
		return nil, fmt.Errorf("failed to fetch owners of %q: %w", groupName, err)
	}

	var owners []string
	for _, raw := range list.Value {
		var owner graphUser
		if err := json.Unmarshal(raw, &owner); err != nil {
			continue
		}
		if owner.Mail != "" {
			owners = append(owners, strings.ToLower(owner.Mail))
		}
	}

	logrus.Debugf("Resolved %d owners for group %q", len(owners), groupName)
	return owners, nil
}

// IsUserInGroup checks transitive group membership via checkMemberGroups.
func (d *GraphDirectory) IsUserInGroup(ctx context.Context, userEmail, groupName string) (bool, error) {
	groupID, err := d.getGroupID(ctx, groupName)
	if err != nil {
		return false, err
	}
	userID, err := d.getUserID(ctx, userEmail)
	if err != nil {
		return false, err
	}

	payload, err := json.Marshal(map[string][]string{"groupIds": {groupID}})
	if err != nil {
		return false, fmt.Errorf("failed to encode membership check: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		graphEndpoint+"/users/"+userID+"/checkMemberGroups", strings.NewReader(string(payload)))
	if err != nil {
		return false, fmt.Errorf("failed to build membership check: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("membership check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("graph API error on checkMemberGroups: %d - %s", resp.StatusCode, string(body))
	}

	var result struct {
		Value []string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("malformed membership response: %w", err)
	}

	for _, id := range result.Value {
		if id == groupID {
			return true, nil
		}
	}
	return false, nil
}
