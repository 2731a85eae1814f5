package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/mkotelnikov/ephemera/internal/apperrors"
	"github.com/mkotelnikov/ephemera/internal/handlers/render"
	"github.com/mkotelnikov/ephemera/internal/handlers/userctx"
	"github.com/mkotelnikov/ephemera/internal/logger"
	"github.com/mkotelnikov/ephemera/internal/models"
)

type identityResolver interface {
	IdentityFromRequest(ctx context.Context, r *http.Request) (models.Identity, error)
}

// AuthMiddleware resolves the request's bearer token and puts the
// identity into the request context. Every failure kind looks the same
// to the client: a generic unauthorized response
func AuthMiddleware(resolver identityResolver, l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.IdentityFromRequest(r.Context(), r)
			if err != nil {
				switch {
				case errors.Is(err, apperrors.ErrUnauthenticated):
					l.Debug("Request not authenticated", "uri", r.RequestURI)
					render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				default:
					l.Error("Failed to resolve identity", "error", err)
					render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				}
				return
			}

			ctx := userctx.New(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
