package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fieldline/be-sales-conversions/internal/errors"
)

// IdentityClient resolves user roles from the platform identity service.
// It implements service.RoleProvider.
type IdentityClient struct {
	baseURL string
	client  *http.Client
}

// NewIdentityClient creates a new identity service client.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type userRoleResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// GetUserRole returns the role name the identity service holds for a user.
func (c *IdentityClient) GetUserRole(ctx context.Context, userID string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/roles?user_id=%s", c.baseURL, url.QueryEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to build identity request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeUnavailable, "identity service unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errors.NotFound("user", userID)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Newf(errors.ErrCodeUnavailable,
			"identity service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out userRoleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeUnavailable, "failed to decode identity response")
	}
	if out.Role == "" {
		return "", errors.NotFound("user role", userID)
	}
	return out.Role, nil
}
