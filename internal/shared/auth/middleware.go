// Package auth resolves the lifecycle role acting on a request.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kaec/docauthority/internal/shared/config"
)

type contextKey string

const ActorContextKey contextKey = "actor"

// RoleHeader carries the acting role when header auth is allowed
const RoleHeader = "X-Actor-Role"

// Actor is whoever is acting on a request
type Actor struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	// Source is "jwt" or "header"
	Source string `json:"source"`
}

// Claims extends JWT claims with the lifecycle role
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Middleware resolves the actor from a bearer token, or from RoleHeader
// when the config allows it. Requests with neither pass through without
// an actor; handlers that need one call RequireActor.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor *Actor

			if header := r.Header.Get("Authorization"); header != "" {
				parts := strings.SplitN(header, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
					writeError(w, http.StatusUnauthorized, "invalid authorization header format")
					return
				}
				claims, err := ParseToken(cfg.JWTSecret, parts[1])
				if err != nil {
					writeError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				actor = &Actor{Subject: claims.Subject, Role: claims.Role, Source: "jwt"}
			} else if role := strings.TrimSpace(r.Header.Get(RoleHeader)); role != "" && cfg.AllowRoleHeader {
				actor = &Actor{Role: role, Source: "header"}
			}

			if actor != nil {
				r = r.WithContext(WithActor(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParseToken validates an HS256 token and returns its claims
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueToken signs a token carrying role for subject
func IssueToken(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, a)
}

// GetActor returns the request's actor, or nil
func GetActor(ctx context.Context) *Actor {
	a, _ := ctx.Value(ActorContextKey).(*Actor)
	return a
}

// RequireActor rejects requests that resolved no role
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a := GetActor(r.Context()); a == nil || a.Role == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
