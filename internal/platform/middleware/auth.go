package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"mpi/internal/registry"
	"mpi/pkg/requestcontext"
)

// JWTValidator defines the interface for validating access tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the identity claims the validator extracts.
type JWTClaims struct {
	FacilityID string
	ProviderID string
	AdminID    string
	AdminName  string
}

// Requester converts the claims to the domain identity.
func (c *JWTClaims) Requester() registry.Requester {
	return registry.Requester{
		FacilityID: c.FacilityID,
		ProviderID: c.ProviderID,
		AdminID:    c.AdminID,
		AdminName:  c.AdminName,
	}
}

// RequireAuth rejects requests without a valid bearer token and injects the
// authenticated requester into the context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx))
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx))
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithRequester(ctx, claims.Requester())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
