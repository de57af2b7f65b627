package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// HTTPIdPClient calls the identity provider's REST API using a service-bound API key, not the
// principal's own token.
type HTTPIdPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPIdPClient builds an IdPClient bound to baseURL, authenticating with apiKey and sending
// every call through client, whose Timeout bounds each call.
func NewHTTPIdPClient(baseURL, apiKey string, client *http.Client) *HTTPIdPClient {
	return &HTTPIdPClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

// idpUserPayload accepts both camelCase and snake_case field names, mapping IdP field names to
// local field names permissively.
type idpUserPayload struct {
	ID          string          `json:"id"`
	TMSUserID   string          `json:"tmsUserId"`
	TMSUserIDSC string          `json:"tms_user_id"`
	Email       string          `json:"email"`
	DisplayName string          `json:"displayName"`
	DisplayNameSC string        `json:"display_name"`
	Role        string          `json:"role"`
	Division    string          `json:"division"`
	Department  string          `json:"department"`
	IsActive    *bool           `json:"isActive"`
	IsActiveSC  *bool           `json:"is_active"`
	IsLeader    *bool           `json:"isLeader"`
	IsLeaderSC  *bool           `json:"is_leader"`
	ImageURL    *string         `json:"imageUrl"`
	ImageURLSC  *string         `json:"image_url"`
	Settings    json.RawMessage `json:"settings"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonNilBool(vals ...*bool) bool {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return true
}

func (p idpUserPayload) toParams() *UpsertParams {
	id := firstNonEmpty(p.TMSUserID, p.TMSUserIDSC, p.ID)
	return &UpsertParams{
		TMSUserID:   id,
		Email:       p.Email,
		DisplayName: firstNonEmpty(p.DisplayName, p.DisplayNameSC),
		Role:        p.Role,
		Division:    p.Division,
		Department:  p.Department,
		IsActive:    firstNonNilBool(p.IsActive, p.IsActiveSC),
		IsLeader:    firstNonNilBool(p.IsLeader, p.IsLeaderSC, boolPtr(false)),
		ImageURL:    firstNonNilStringPtr(p.ImageURL, p.ImageURLSC),
		Settings:    p.Settings,
	}
}

func boolPtr(b bool) *bool { return &b }

func firstNonNilStringPtr(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// GetUser fetches a single user record by id.
func (c *HTTPIdPClient) GetUser(ctx context.Context, userID string) (*UpsertParams, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("build idp user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call idp user endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("idp user endpoint returned status %d", resp.StatusCode)
	}

	var payload idpUserPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode idp user response: %w", err)
	}
	return payload.toParams(), nil
}

// SearchUsers delegates a free-text query to the IdP's own search endpoint, not the local store.
func (c *HTTPIdPClient) SearchUsers(ctx context.Context, query string) ([]*UpsertParams, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("build idp search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call idp search endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("idp search endpoint returned status %d", resp.StatusCode)
	}

	var payloads []idpUserPayload
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, fmt.Errorf("decode idp search response: %w", err)
	}

	results := make([]*UpsertParams, 0, len(payloads))
	for _, p := range payloads {
		results = append(results, p.toParams())
	}
	return results, nil
}
