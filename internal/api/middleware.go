/**
 * @description
 * HTTP middleware for the ledger API: caller identification and the internal
 * API key guard for operational routes.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: HS256 bearer token validation.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDContextKey is a custom type for the context key to avoid collisions.
type UserIDContextKey string

const userIDKey UserIDContextKey = "userID"

// UserIDHeader identifies the caller when no JWT secret is configured, e.g.
// behind a gateway that has already authenticated the request.
const UserIDHeader = "X-User-Id"

// AuthMiddleware resolves the caller's id. With a secret it requires an HS256
// bearer token and uses its "sub" claim; without one it trusts UserIDHeader.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if jwtSecret == "" {
				userID = strings.TrimSpace(r.Header.Get(UserIDHeader))
				if userID == "" {
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", UserIDHeader+" header required")
					return
				}
			} else {
				sub, err := subjectFromBearer(r.Header.Get("Authorization"), jwtSecret)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
					return
				}
				userID = sub
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func subjectFromBearer(authHeader, secret string) (string, error) {
	if authHeader == "" {
		return "", fmt.Errorf("authorization header required")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return "", fmt.Errorf("invalid authorization header format")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("user id not found in token")
	}
	return sub, nil
}

// GetUserID retrieves the authenticated caller's id from the request context.
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

// InternalAPIKeyMiddleware guards routes meant for operators and other services.
// An empty key disables the routes entirely.
func InternalAPIKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				writeError(w, http.StatusServiceUnavailable, "INTERNAL_API_DISABLED", "internal API key not configured")
				return
			}
			provided := strings.TrimSpace(r.Header.Get("X-Internal-API-Key"))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid internal API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
