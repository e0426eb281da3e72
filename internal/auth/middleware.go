package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const userContextKey contextKey = "user"

// Middleware authenticates HTTP requests with bearer tokens
type Middleware struct {
	jwtManager *JWTManager
	skipAuth   bool // For development/testing
	logger     *zap.Logger
}

// NewMiddleware creates the middleware. With skipAuth every request runs as
// a development user holding all scopes.
func NewMiddleware(jwtManager *JWTManager, skipAuth bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{jwtManager: jwtManager, skipAuth: skipAuth, logger: logger}
}

// HTTPMiddleware provides HTTP authentication middleware
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			ctx := WithUser(r.Context(), &UserContext{Subject: "dev", Scopes: AllScopes, TokenType: "dev"})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		var token string
		if header := r.Header.Get("Authorization"); header != "" {
			t, err := ExtractBearerToken(header)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}
			token = t
		} else if strings.HasPrefix(r.URL.Path, "/stream/") {
			// EventSource and browser WebSocket clients cannot set headers
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "bearer token is required")
			return
		}

		user, err := m.jwtManager.ValidateAccessToken(token)
		if err != nil {
			m.logger.Debug("Rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			writeAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireScope wraps next so that callers without scope get 403.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := GetUserContext(r.Context())
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "missing user context")
			return
		}
		if !user.HasScope(scope) {
			writeAuthError(w, http.StatusForbidden, "missing required scope: "+scope)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser stores the caller in ctx.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// GetUserContext extracts user context from context
func GetUserContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	if !ok || user == nil {
		return nil, errors.New("missing user context")
	}
	return user, nil
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
