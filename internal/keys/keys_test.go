package keys

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{Endpoint: srv.URL + "/softphone/key", APIToken: "crm-token", Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	return c
}

func TestProvisionReturnsKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/softphone/key", r.URL.Path)
		assert.Equal(t, "Bearer crm-token", r.Header.Get("Authorization"))

		var req provisionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acme", req.TenantID)
		assert.Equal(t, "line-7", req.LineID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":"opaque-key-123"}`))
	})

	cred, err := c.Provision(context.Background(), "acme", " line-7 ")
	require.NoError(t, err)
	assert.Equal(t, "opaque-key-123", cred.Token)
	assert.Equal(t, "line-7", cred.Line)
	assert.Equal(t, fixedNow, cred.IssuedAt)
	assert.True(t, cred.ExpiresAt.IsZero())
}

func TestProvisionAcceptsTokenField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"tok"}`))
	})
	cred, err := c.Provision(context.Background(), "acme", "line-7")
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.Token)
}

func TestProvisionReadsJWTExpiry(t *testing.T) {
	exp := fixedNow.Add(72 * time.Hour).Truncate(time.Second)
	iat := fixedNow.Add(-time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("vendor-secret"))
	require.NoError(t, err)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"key": signed})
	})
	cred, err := c.Provision(context.Background(), "acme", "line-7")
	require.NoError(t, err)
	assert.True(t, exp.Equal(cred.ExpiresAt), "expires %v", cred.ExpiresAt)
	assert.True(t, iat.Equal(cred.IssuedAt), "issued %v", cred.IssuedAt)
}

func TestProvisionNoCredential(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.Provision(context.Background(), "acme", "line-7")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestProvisionMissingIdentifiers(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := c.Provision(context.Background(), "", "line-7")
	assert.ErrorIs(t, err, ErrMissingTenant)
	_, err = c.Provision(context.Background(), "acme", "  ")
	assert.ErrorIs(t, err, ErrMissingLine)
	assert.False(t, called)
}

func TestProvisionAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"line not assigned to user"}`))
	})
	_, err := c.Provision(context.Background(), "acme", "line-7")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "line not assigned to user", apiErr.Message)
	assert.Contains(t, err.Error(), "403")
}

func TestProvisionIsReinvocable(t *testing.T) {
	n := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n++
		_ = json.NewEncoder(w).Encode(map[string]string{"key": []string{"first", "second"}[n-1]})
	})
	a, err := c.Provision(context.Background(), "acme", "line-7")
	require.NoError(t, err)
	b, err := c.Provision(context.Background(), "acme", "line-7")
	require.NoError(t, err)
	assert.Equal(t, "first", a.Token)
	assert.Equal(t, "second", b.Token)
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}
