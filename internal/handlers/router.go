package handlers

import (
	"context"
	"net/http"

	"github.com/mkotelnikov/ephemera/internal/handlers/middleware"
	"github.com/mkotelnikov/ephemera/internal/logger"
	"github.com/mkotelnikov/ephemera/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type routerAuthService interface {
	authService

	// Resolve the request's bearer token, used by the auth middleware
	IdentityFromRequest(ctx context.Context, r *http.Request) (models.Identity, error)
}

func NewRouter(auth routerAuthService, l logger.Logger) http.Handler {
	withAuth := middleware.AuthMiddleware(auth, l)

	authmux := http.NewServeMux()
	authmux.Handle("POST /signup", handleSignup(auth, l))
	authmux.Handle("POST /login", handleLogin(auth, l))
	authmux.Handle("POST /refresh", handleRefresh(auth, l))
	authmux.Handle("POST /logout", handleLogout(auth, l))
	authmux.Handle("POST /logout_all", withAuth(handleLogoutEverywhere(auth, l)))
	authmux.Handle("POST /password", withAuth(handleChangePassword(auth, l)))

	root := http.NewServeMux()
	root.Handle("/auth/", http.StripPrefix("/auth", authmux))
	root.Handle("GET /me", withAuth(handleMe()))

	return chain(root,
		middleware.LoggerMiddleware(l),
	)
}
