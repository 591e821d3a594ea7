package http

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleManager = "manager"
	RoleWaiter  = "waiter"
	RoleKitchen = "kitchen"
)

type StaffClaims struct {
	StaffID string `json:"staff_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

func ClaimsFrom(ctx context.Context) (*StaffClaims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*StaffClaims)
	return c, ok
}

func SignToken(secret, staffID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &StaffClaims{
		StaffID: staffID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTMiddleware accepts HS256 bearer tokens signed with secret and stores the
// claims in the request context.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "bearer token required"})
				return
			}

			claims := &StaffClaims{}
			if _, err := parser.ParseWithClaims(token, claims, keyFunc); err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: fmt.Sprintf("invalid token: %v", err)})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
		})
	}
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok || !slices.Contains(roles, claims.Role) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "role not allowed"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
