package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPExternalApprover delegates approval submissions to an outside approval
// system over HTTP. Decision callbacks from that system are handled by a
// separate ingestion service, not here.
type HTTPExternalApprover struct {
	baseURL string
	http    *http.Client
}

// NewHTTPExternalApprover creates an external approver client.
func NewHTTPExternalApprover(baseURL string) *HTTPExternalApprover {
	return &HTTPExternalApprover{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Submit registers an approval request and returns the external reference.
func (c *HTTPExternalApprover) Submit(ctx context.Context, entityType, entityID string, amount int64) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("external approver is not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
		"amount":      amount,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/requests", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("external approver returned %d", resp.StatusCode)
	}

	var body struct {
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Reference == "" {
		return "", fmt.Errorf("external approver returned no reference")
	}
	return body.Reference, nil
}

// Cancel withdraws a previously submitted request.
func (c *HTTPExternalApprover) Cancel(ctx context.Context, ref string) error {
	if c.baseURL == "" {
		return fmt.Errorf("external approver is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/requests/"+ref, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("external approver returned %d", resp.StatusCode)
	}
	return nil
}
