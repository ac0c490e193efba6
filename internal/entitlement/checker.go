package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Checker asks the entitlement backend whether a user is entitled.
type Checker interface {
	Check(ctx context.Context, userID string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, userID string) (bool, error)

func (f CheckerFunc) Check(ctx context.Context, userID string) (bool, error) {
	return f(ctx, userID)
}

// HTTPChecker queries GET {base}/entitlements/{user}, which answers
// {"active": bool}. An unknown user (404) is not entitled.
type HTTPChecker struct {
	base   string
	client *http.Client
}

// NewHTTPChecker returns a checker for base. A nil client gets a 10 second
// timeout.
func NewHTTPChecker(base string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPChecker{base: strings.TrimRight(base, "/"), client: client}
}

type checkResponse struct {
	Active bool `json:"active"`
}

func (c *HTTPChecker) Check(ctx context.Context, userID string) (bool, error) {
	endpoint := c.base + "/entitlements/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build entitlement request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("check entitlement: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("check entitlement: unexpected status %s", resp.Status)
	}

	var body checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode entitlement response: %w", err)
	}
	return body.Active, nil
}
