package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mkotelnikov/ephemera/internal/apperrors"
	"github.com/mkotelnikov/ephemera/internal/handlers/render"
	"github.com/mkotelnikov/ephemera/internal/handlers/userctx"
	"github.com/mkotelnikov/ephemera/internal/logger"
	"github.com/mkotelnikov/ephemera/internal/models"
)

type authService interface {
	// Signup creates a user with username and password and logs it in
	// Has to return apperrors.ErrUserAlreadyExists if username is taken
	Signup(ctx context.Context, username string, password string, dev models.Device) (models.TokenPair, error)

	// Login with username and password
	// Has to return apperrors.ErrCredentialMismatch on any credential failure
	Login(ctx context.Context, username string, password string, dev models.Device) (models.TokenPair, error)

	// Refresh token pair using refresh token
	// Expired token: apperrors.ErrTokenExpired
	// Revoked or unknown session: apperrors.ErrSessionNotFoundOrRevoked
	Refresh(ctx context.Context, refresh string, dev models.Device) (models.TokenPair, error)

	// Revoke the session behind the refresh token, idempotent
	Logout(ctx context.Context, refresh string) error

	// Invalidate all of the user's outstanding tokens
	LogoutEverywhere(ctx context.Context, userID uuid.UUID) error

	// Verify current password, store the new one, revoke everything
	ChangePassword(ctx context.Context, userID uuid.UUID, current string, next string) error

	// Transport helpers
	SetTokenPair(w http.ResponseWriter, pair models.TokenPair)
	RefreshFromRequest(r *http.Request) (string, error)
	DeviceFromRequest(r *http.Request) models.Device
}

func handleSignup(auth authService, l logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required,min=2,max=50"`
		Password string `json:"password" validate:"required,min=8"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			l.Debug("Signup request rejected", "error", err)
			return
		}

		pair, err := auth.Signup(r.Context(), data.Username, data.Password, auth.DeviceFromRequest(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserAlreadyExists):
				render.ServiceError(w, "User already exists", http.StatusConflict)
			default:
				l.Error("Signup failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		auth.SetTokenPair(w, pair)
		render.JSON(w, response{Message: "User registered successfully"})
	})
}

func handleLogin(auth authService, l logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			l.Debug("Login request rejected", "error", err)
			return
		}

		pair, err := auth.Login(r.Context(), data.Username, data.Password, auth.DeviceFromRequest(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrCredentialMismatch):
				render.ServiceError(w, "Invalid username or password", http.StatusUnauthorized)
			default:
				l.Error("Login failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		auth.SetTokenPair(w, pair)
		render.JSON(w, response{Message: "User logged in successfully"})
	})
}

func handleRefresh(auth authService, l logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := auth.RefreshFromRequest(r)
		if err != nil {
			render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
			return
		}

		pair, err := auth.Refresh(r.Context(), refresh, auth.DeviceFromRequest(r))
		if err != nil {
			// The only distinguishable refresh failures: expired, invalid,
			// revoked or not found. Never why a lookup inside failed
			switch {
			case errors.Is(err, apperrors.ErrTokenExpired):
				render.ServiceError(w, "Refresh token expired", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrTokenMalformed), errors.Is(err, apperrors.ErrTokenNotYetValid):
				render.ServiceError(w, "Refresh token invalid", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrSessionNotFoundOrRevoked), errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, "Refresh token revoked or not found", http.StatusUnauthorized)
			default:
				l.Error("Refresh failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		auth.SetTokenPair(w, pair)
		render.JSON(w, response{Message: "Tokens refreshed successfully"})
	})
}

func handleLogout(auth authService, l logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Logout succeeds whatever the cookie holds: absent, garbage and
		// already revoked tokens all end in the same logged out state
		refresh, err := auth.RefreshFromRequest(r)
		if err == nil {
			if err := auth.Logout(r.Context(), refresh); err != nil {
				l.Error("Logout failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}
		}

		render.JSON(w, response{Message: "Logged out successfully"})
	})
}

func handleLogoutEverywhere(auth authService, l logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := userctx.FromContext(r.Context())

		if err := auth.LogoutEverywhere(r.Context(), identity.UserID); err != nil {
			l.Error("Logout everywhere failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Message: "Logged out everywhere"})
	})
}

func handleChangePassword(auth authService, l logger.Logger) http.Handler {
	type request struct {
		Current string `json:"current_password" validate:"required"`
		New     string `json:"new_password" validate:"required,min=8"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			l.Debug("Change password request rejected", "error", err)
			return
		}

		identity, _ := userctx.FromContext(r.Context())

		err = auth.ChangePassword(r.Context(), identity.UserID, data.Current, data.New)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrCredentialMismatch):
				render.ServiceError(w, "Invalid username or password", http.StatusUnauthorized)
			default:
				l.Error("Change password failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, response{Message: "Password changed successfully"})
	})
}
