// Package keys requests short-lived softphone widget credentials from the
// CRM backend.
package keys

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingTenant = errors.New("tenant id is required")
	ErrMissingLine   = errors.New("line id is required")
	ErrNoCredential  = errors.New("backend returned no credential")
)

// APIError is returned for non-2xx responses from the key backend.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	RawBody    []byte
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("key backend error: %d", e.StatusCode)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	return msg
}

// Credential is a widget key and the line it was issued for. It lives only
// in memory and each refresh replaces it.
type Credential struct {
	Token     string
	Line      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Options configures a Client.
type Options struct {
	Endpoint string
	// APIToken, if set, is sent as a bearer token.
	APIToken   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
}

// Client talks to the key-issuing endpoint. It holds no per-request state,
// so Provision can be called again at any time.
type Client struct {
	endpoint string
	apiToken string
	http     *http.Client
	now      func() time.Time
}

// NewClient creates a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("key endpoint is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{endpoint: opts.Endpoint, apiToken: opts.APIToken, http: hc, now: now}, nil
}

type provisionRequest struct {
	TenantID string `json:"tenant_id"`
	LineID   string `json:"line_id"`
}

type provisionResponse struct {
	Key   string `json:"key"`
	Token string `json:"token"`
	Error string `json:"error"`
}

// Provision performs one request for (tenant, line). It does not retry.
func (c *Client) Provision(ctx context.Context, tenant, line string) (Credential, error) {
	tenant, line = strings.TrimSpace(tenant), strings.TrimSpace(line)
	if tenant == "" {
		return Credential{}, ErrMissingTenant
	}
	if line == "" {
		return Credential{}, ErrMissingLine
	}

	body, err := json.Marshal(provisionRequest{TenantID: tenant, LineID: line})
	if err != nil {
		return Credential{}, fmt.Errorf("marshaling key request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("creating key request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("requesting key: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, fmt.Errorf("reading key response: %w", err)
	}

	var parsed provisionResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credential{}, &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    parsed.Error,
			RawBody:    raw,
		}
	}

	token := parsed.Key
	if token == "" {
		token = parsed.Token
	}
	if token == "" {
		return Credential{}, ErrNoCredential
	}

	cred := Credential{Token: token, Line: line, IssuedAt: c.now()}
	if iat, exp, ok := tokenTimes(token); ok {
		if !iat.IsZero() {
			cred.IssuedAt = iat
		}
		cred.ExpiresAt = exp
	}
	return cred, nil
}

// tokenTimes reads iat/exp from a JWT-shaped key without verifying it; the
// signing key belongs to the vendor. Opaque keys report ok=false.
func tokenTimes(token string) (iat, exp time.Time, ok bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, time.Time{}, false
	}
	if claims.IssuedAt != nil {
		iat = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return iat, exp, true
}
