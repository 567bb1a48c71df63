package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// IdentityClient resolves user information from the platform identity service.
type IdentityClient interface {
	// UsersWithRole returns user IDs holding the given role for a tenant.
	UsersWithRole(ctx context.Context, tenantID, role string) ([]string, error)
}

// HTTPIdentityClient implements IdentityClient against the identity service's
// HTTP API.
type HTTPIdentityClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPIdentityClient creates an identity client. An empty baseURL yields a
// client that resolves no users, leaving notification audiences empty until
// the identity service is deployed alongside.
func NewHTTPIdentityClient(baseURL string) *HTTPIdentityClient {
	return &HTTPIdentityClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// UsersWithRole queries GET /api/v1/users?tenant_id=...&role=... and returns
// the user id list.
func (c *HTTPIdentityClient) UsersWithRole(ctx context.Context, tenantID, role string) ([]string, error) {
	if c.baseURL == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/api/v1/users?tenant_id=%s&role=%s",
		c.baseURL, url.QueryEscape(tenantID), url.QueryEscape(role))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity service returned %d", resp.StatusCode)
	}

	var body struct {
		Users []struct {
			ID string `json:"id"`
		} `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(body.Users))
	for _, u := range body.Users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}
