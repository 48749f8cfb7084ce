package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type authCtxKey int

const authKey authCtxKey = 3

const (
	RoleSession = "session"
	RoleAdmin   = "admin"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func secret() []byte {
	s := os.Getenv("SURVEYD_JWT_SECRET")
	if s == "" {
		s = "surveyd-dev-secret"
	}
	return []byte(s)
}

// SignSessionToken issues the anonymous bearer credential for one
// survey attempt. The subject is the session id; ownership of a
// response row is proven by presenting this token, never re-derived.
func SignSessionToken(sessionID string, ttl time.Duration) (string, error) {
	return sign(sessionID, RoleSession, ttl)
}

// SignAdminToken issues an administrator token after a password login.
func SignAdminToken(email string, ttl time.Duration) (string, error) {
	return sign(email, RoleAdmin, ttl)
}

func sign(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret())
}

func parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(token *jwt.Token) (interface{}, error) { return secret(), nil })
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// WithAuth attaches verified claims to the context when a valid bearer
// token is present. Requests without one pass through unauthenticated;
// the handlers decide what requires auth.
func WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			if c, err := parseToken(tok); err == nil {
				ctx := context.WithValue(r.Context(), authKey, c)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// SessionIDFromContext returns the session id proven by the bearer
// credential, if any.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	if c, ok := ctx.Value(authKey).(*Claims); ok && c.Role == RoleSession && c.Subject != "" {
		return c.Subject, true
	}
	return "", false
}

// AdminFromContext reports whether the request carries a valid admin token.
func AdminFromContext(ctx context.Context) bool {
	c, ok := ctx.Value(authKey).(*Claims)
	return ok && c.Role == RoleAdmin
}

// RequireAdmin rejects requests without a valid admin token.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !AdminFromContext(r.Context()) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
