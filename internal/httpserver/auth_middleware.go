package httpserver

import (
	"context"
	"net/http"
	"strings"

	"forumchat/internal/domain"
	"forumchat/internal/service"
)

type contextKey string

const identityContextKey contextKey = "currentIdentity"

// WithIdentity returns a new context carrying the current identity.
func WithIdentity(ctx context.Context, identity *domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// CurrentIdentity extracts the current identity from context, if any.
func CurrentIdentity(r *http.Request) *domain.Identity {
	if v := r.Context().Value(identityContextKey); v != nil {
		if ident, ok := v.(*domain.Identity); ok {
			return ident
		}
	}
	return nil
}

// AuthMiddleware validates the Bearer token and attaches the identity to the context.
func AuthMiddleware(identities *service.IdentityService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeError(w, domain.ErrUnauthenticated)
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			identity, err := identities.Authenticate(r.Context(), tokenStr)
			if err != nil {
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, CurrentIdentity(r))
	}
}
