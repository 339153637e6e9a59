package authservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RemoteVerifier asks the auth service to check the token.
type RemoteVerifier struct {
	client    *http.Client
	verifyURL string
}

type verifyResp struct {
	UserID any    `json:"userId"`
	ID     any    `json:"id"`
	Email  string `json:"email"`
	Type   string `json:"type"`
	Error  string `json:"error"`
}

// NewRemoteVerifier takes the auth service base URL without a path.
func NewRemoteVerifier(authBaseURL string, timeout time.Duration) *RemoteVerifier {
	if timeout <= 0 {
		timeout = 1200 * time.Millisecond
	}
	return &RemoteVerifier{
		client:    &http.Client{Timeout: timeout},
		verifyURL: strings.TrimRight(authBaseURL, "/") + "/v1/auth/verify",
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("auth upstream: %w", err)
	}
	defer resp.Body.Close()

	var body verifyResp
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		msg := body.Error
		if msg == "" {
			msg = "invalid token"
		}
		return Identity{}, fmt.Errorf("%w: %s", ErrInvalidToken, msg)
	case resp.StatusCode != http.StatusOK:
		return Identity{}, fmt.Errorf("auth upstream: status %d", resp.StatusCode)
	}

	if body.Type != "" && body.Type != "access" {
		return Identity{}, fmt.Errorf("%w: access token required", ErrInvalidToken)
	}
	uid := userIDString(body.UserID)
	if uid == "" {
		uid = userIDString(body.ID)
	}
	if uid == "" {
		return Identity{}, fmt.Errorf("%w: no user id", ErrInvalidToken)
	}
	return Identity{UserID: uid, Email: body.Email}, nil
}
