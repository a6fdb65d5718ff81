package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"sunatflow/internal/auth"
)

// JWTValidator defines the interface for validating JWT tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

type contextKeyProjectID struct{}

// ContextKeyProjectID is exported for use in handlers.
var ContextKeyProjectID = contextKeyProjectID{}

// GetProjectID retrieves the authenticated project scope from the context.
func GetProjectID(ctx context.Context) string {
	projectID, ok := ctx.Value(ContextKeyProjectID).(string)
	if !ok {
		return ""
	}
	return projectID
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token's project scope in the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx))
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err, "request_id", GetRequestID(ctx))
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx = context.WithValue(ctx, ContextKeyProjectID, claims.ProjectID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
