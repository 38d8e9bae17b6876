package middleware

import (
	"context"
	"net/http"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/api/shared"
)

// userIDHeader is set by the API gateway after it has authenticated the
// caller. This service trusts the header; it never sits on the public edge.
const userIDHeader = "X-User-Id"

// GatewayIdentity extracts the caller identity forwarded by the gateway and
// rejects requests that arrive without one.
func GatewayIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userIDHeader)
		if userID == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Missing gateway identity")
			return
		}

		ctx := context.WithValue(r.Context(), shared.UserIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
