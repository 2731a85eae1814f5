package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mkotelnikov/ephemera/internal/handlers/render"
	"github.com/mkotelnikov/ephemera/internal/handlers/userctx"
)

func handleMe() http.Handler {
	type response struct {
		ID       uuid.UUID `json:"id"`
		Verified bool      `json:"verified"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := userctx.FromContext(r.Context())
		render.JSON(w, response{ID: identity.UserID, Verified: identity.Verified})
	})
}
