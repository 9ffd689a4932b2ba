package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goflagship/experiments/internal/store"
)

func TestGenerateAPIKey_HasPrefixAndLength(t *testing.T) {
	key, err := GenerateAPIKey("exk_")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != len("exk_")+KeyLength*2 {
		t.Fatalf("unexpected key length: %d", len(key))
	}
	if key[:4] != "exk_" {
		t.Fatalf("expected exk_ prefix, got %q", key[:4])
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !VerifyPassword("hunter2", hash) {
		t.Fatal("expected password to verify")
	}
	if VerifyPassword("wrong", hash) {
		t.Fatal("expected wrong password to fail verification")
	}
}

func TestProjectKeyMiddleware_ResolvesFromHeader(t *testing.T) {
	s := store.NewMemoryStore()
	p := &store.Project{Owner: "o", APIKey: "exk_abc"}
	if err := s.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("create project: %v", err)
	}

	var resolved *store.Project
	handler := ProjectKeyMiddleware(s, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("onFail should not be called")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved, _ = ProjectFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/experiments", nil)
	req.Header.Set("X-API-Key", "exk_abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if resolved == nil || resolved.ID != p.ID {
		t.Fatalf("expected project %s resolved, got %+v", p.ID, resolved)
	}
}

func TestProjectKeyMiddleware_FailsOnUnknownKey(t *testing.T) {
	s := store.NewMemoryStore()
	failed := false
	handler := ProjectKeyMiddleware(s, func(w http.ResponseWriter, r *http.Request) {
		failed = true
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/experiments?api_key=nope", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !failed {
		t.Fatal("expected onFail to be invoked")
	}
}

func TestAuthenticator_IssueAndVerifyToken(t *testing.T) {
	a := NewAuthenticator("test-secret")
	admin := &store.AdminUser{ID: "admin-1", Email: "a@example.com", Role: store.AdminRoleOwner}

	token, err := a.IssueToken(admin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	principal, err := a.Verify(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.AdminID != admin.ID || principal.Email != admin.Email || principal.Role != admin.Role {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestAuthenticator_RejectsTokenFromDifferentSecret(t *testing.T) {
	a1 := NewAuthenticator("secret-one")
	a2 := NewAuthenticator("secret-two")
	admin := &store.AdminUser{ID: "admin-1", Email: "a@example.com", Role: store.AdminRoleAdmin}

	token, err := a1.IssueToken(admin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a2.Verify(token); err == nil {
		t.Fatal("expected verification to fail across different secrets")
	}
}

func TestAuthenticator_Middleware(t *testing.T) {
	a := NewAuthenticator("test-secret")
	admin := &store.AdminUser{ID: "admin-1", Email: "a@example.com", Role: store.AdminRoleOwner}
	token, err := a.IssueToken(admin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var gotPrincipal Principal
	handler := a.Middleware(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("onFail should not be called")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal, _ = PrincipalFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotPrincipal.AdminID != admin.ID {
		t.Fatalf("expected principal admin id %s, got %s", admin.ID, gotPrincipal.AdminID)
	}
}
