package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/costory/costory/internal/httputil"
)

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "userId"
	// UserEmailKey is the context key for user email
	UserEmailKey ContextKey = "userEmail"
)

// Claims are the access token claims. The subject is the user id; userId is
// accepted for tokens minted by the legacy backend.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) userID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// JWTMiddleware creates a chi middleware that validates HMAC bearer tokens
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithLeeway(30*time.Second))
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.Unauthorized(w, "missing authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				httputil.Unauthorized(w, "invalid authorization header format")
				return
			}

			var claims Claims
			_, err := parser.ParseWithClaims(parts[1], &claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					httputil.Unauthorized(w, "token expired")
					return
				}
				httputil.Unauthorized(w, "invalid token")
				return
			}
			userID := claims.userID()
			if userID == "" {
				httputil.Unauthorized(w, "invalid token claims")
				return
			}

			ctx := WithUser(r.Context(), userID, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, userID, email string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	if email != "" {
		ctx = context.WithValue(ctx, UserEmailKey, email)
	}
	return ctx
}

// UserID returns the authenticated user id, "" when absent.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// SignToken mints an access token for userID. Used by the CLI and tests.
func SignToken(secret, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
