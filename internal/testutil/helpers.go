// Package testutil provides helpers for spinning up a fully wired test
// server over the in-memory store.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goflagship/experiments/internal/api"
	"github.com/goflagship/experiments/internal/auth"
	"github.com/goflagship/experiments/internal/config"
	"github.com/goflagship/experiments/internal/logging"
	"github.com/goflagship/experiments/internal/store"
)

// TestConfig returns a config suitable for in-process tests: memory store,
// no cache, rate limits high enough to never trip.
func TestConfig() *config.Config {
	return &config.Config{
		AppEnv:               "test",
		HTTPAddr:             ":0",
		MetricsAddr:          ":0",
		StoreType:            "memory",
		RateLimitPerIP:       100000,
		RateLimitPerKey:      100000,
		RateLimitAdminPerKey: 100000,
		AuthTokenPrefix:      "exk_",
		JWTSecret:            "test-secret",
	}
}

// NewTestServer creates a listening test server over a fresh MemoryStore.
func NewTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	srv := api.NewServer(memStore, TestConfig(), logging.New("test"))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return ts, memStore
}

// SeedAdmin creates an admin user with the given credentials.
func SeedAdmin(t *testing.T, s store.Store, email, password string) *store.AdminUser {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	admin := &store.AdminUser{Email: email, PasswordHash: hash, Role: store.AdminRoleAdmin}
	if err := s.CreateAdminUser(context.Background(), admin); err != nil {
		t.Fatalf("create admin user: %v", err)
	}
	return admin
}

// LoginToken logs an admin in through the HTTP surface and returns the
// session token.
func LoginToken(t *testing.T, ts *httptest.Server, email, password string) string {
	t.Helper()
	body, status := DoJSON(t, ts, "POST", "/admin/login", "", map[string]string{"email": email, "password": password})
	if status != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", status, body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

// DoJSON performs one request against the test server. token, if
// non-empty, is sent as a bearer token. Returns the raw body and status.
func DoJSON(t *testing.T, ts *httptest.Server, method, path, token string, payload any) ([]byte, int) {
	t.Helper()
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return body, resp.StatusCode
}
