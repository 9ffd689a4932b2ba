package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goflagship/experiments/internal/store"
)

type contextKey string

const (
	contextKeyProject   contextKey = "project"
	contextKeyPrincipal contextKey = "principal"
)

// ProjectFromContext returns the Project resolved by ProjectKeyMiddleware.
func ProjectFromContext(ctx context.Context) (*store.Project, bool) {
	p, ok := ctx.Value(contextKeyProject).(*store.Project)
	return p, ok
}

// ExtractAPIKey reads the project API key from the X-API-Key header or the
// api_key query parameter.
func ExtractAPIKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("api_key")
}

// ProjectKeyMiddleware resolves the project API-key-authenticated public
// surface. onFail lets the caller
// write the structured error response (apierr) without this package
// importing apierr and creating an import cycle.
func ProjectKeyMiddleware(s store.Store, onFail func(w http.ResponseWriter, r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ExtractAPIKey(r)
			if key == "" {
				onFail(w, r)
				return
			}
			project, err := s.GetProjectByAPIKey(r.Context(), key)
			if err != nil {
				onFail(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyProject, project)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Principal is the authenticated admin identity carried on the admin
// surface's JWT.
type Principal struct {
	AdminID string
	Email   string
	Role    store.AdminRole
}

// PrincipalFromContext returns the Principal attached by Authenticator.Middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal).(Principal)
	return p, ok
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies admin session tokens with
// golang-jwt/jwt/v5. This is intentionally a minimal contract: the
// surrounding admin identity-provider integration (SSO, password reset,
// MFA) lives outside this service.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthenticator constructs an Authenticator with the given signing secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: 24 * time.Hour}
}

// IssueToken signs a new session token for an authenticated AdminUser.
func (a *Authenticator) IssueToken(admin *store.AdminUser) (string, error) {
	now := time.Now()
	c := claims{
		Email: admin.Email,
		Role:  string(admin.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   admin.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: issue token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its Principal.
func (a *Authenticator) Verify(tokenString string) (Principal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("auth: invalid token: %w", err)
	}
	return Principal{AdminID: c.Subject, Email: c.Email, Role: store.AdminRole(c.Role)}, nil
}

// Middleware authenticates the admin surface's Authorization: Bearer header
// and attaches the resulting Principal to the request context.
func (a *Authenticator) Middleware(onFail func(w http.ResponseWriter, r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimSpace(header)
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[len("bearer "):])
			}
			if token == "" {
				onFail(w, r)
				return
			}
			principal, err := a.Verify(token)
			if err != nil {
				onFail(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
