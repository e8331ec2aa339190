package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/palicode/nucleotid-back/internal/apperrors"
	"github.com/palicode/nucleotid-back/internal/handlers/authctx"
	"github.com/palicode/nucleotid-back/internal/handlers/middleware"
	"github.com/palicode/nucleotid-back/internal/handlers/render"
	"github.com/palicode/nucleotid-back/internal/logger"
	"github.com/palicode/nucleotid-back/internal/models"
)

type credentialsRequest struct {
	Login    string `json:"login" validate:"required,min=2,max=50,username"`
	Password string `json:"password" validate:"required,min=8,max=256"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func handleRegister(users userService, sessions sessionAuthority, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[credentialsRequest](w, r)
		if err != nil {
			return
		}

		user, err := users.CreateUser(r.Context(), data.Login, data.Password)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserAlreadyExists):
				render.ServiceError(w, "User already exists", http.StatusConflict)
			default:
				l.Error("Failed to register user", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		openSession(w, r, user, sessions, l)
	})
}

func handleLogin(users userService, sessions sessionAuthority, l logger.Logger) http.Handler {
	type loginRequest struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[loginRequest](w, r)
		if err != nil {
			return
		}

		user, err := users.Login(r.Context(), data.Login, data.Password)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, "Invalid login or password", http.StatusUnauthorized)
			default:
				l.Error("Failed to check credentials", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		openSession(w, r, user, sessions, l)
	})
}

func openSession(w http.ResponseWriter, r *http.Request, user models.User, sessions sessionAuthority, l logger.Logger) {
	pair, err := sessions.NewSession(r.Context(), user.ID)
	if err != nil {
		l.Error("Failed to open session", "user_id", user.ID, "error", err)
		if errors.Is(err, apperrors.ErrStoreUnavailable) {
			render.ServiceError(w, "Session store unavailable", http.StatusServiceUnavailable)
			return
		}
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, tokenPairResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
	})
}

// Refresh token comes in the 'Authentication' header
func handleRefresh(sessions sessionAuthority, l logger.Logger) http.Handler {
	type refreshResponse struct {
		AccessToken string `json:"accessToken"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := middleware.BearerToken(r)
		if err != nil {
			render.ServiceError(w, err.Error(), http.StatusBadRequest)
			return
		}

		access, err := sessions.ExtendSession(r.Context(), refresh)
		if err != nil {
			sessionError(w, r, err, l)
			return
		}

		render.JSON(w, refreshResponse{AccessToken: access.Value})
	})
}

// Close the session the refresh token in the 'Authentication' header belongs to
func handleLogout(sessions sessionAuthority, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := middleware.BearerToken(r)
		if err != nil {
			render.ServiceError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := sessions.Logout(r.Context(), refresh); err != nil {
			sessionError(w, r, err, l)
			return
		}

		render.JSON(w, messageResponse{Message: "Logged out"})
	})
}

// Revoke the session of the access token. Expects the gate to run before
func handleRevoke(sessions sessionAuthority, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := authctx.FromContext(r.Context())

		err := sessions.Revoke(r.Context(), identity)
		if err != nil {
			sessionError(w, r, err, l)
			return
		}

		render.JSON(w, messageResponse{Message: "Session revoked"})
	})
}

// Revoke every session of the access token owner. Expects the gate to run before
func handleTerminate(sessions sessionAuthority, l logger.Logger) http.Handler {
	type terminateResponse struct {
		Revoked int64 `json:"revoked"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := authctx.FromContext(r.Context())

		n, err := sessions.RevokeAll(r.Context(), identity)
		if err != nil {
			sessionError(w, r, err, l)
			return
		}

		render.JSON(w, terminateResponse{Revoked: n})
	})
}

// Render session authority error
// Session endpoints are explicit about what went wrong, unlike the gate
func sessionError(w http.ResponseWriter, r *http.Request, err error, l logger.Logger) {
	var tooSoon *apperrors.TooSoonError

	switch {
	case errors.As(err, &tooSoon):
		w.Header().Set("Retry-After", retryAfter(tooSoon.RetryAfter))
		render.ServiceError(w,
			fmt.Sprintf("Session was refreshed at %s, retry after %s",
				tooSoon.RefreshedAt.UTC().Format(time.RFC3339),
				tooSoon.RetryAt.UTC().Format(time.RFC3339)),
			http.StatusTooManyRequests)
	case errors.Is(err, apperrors.ErrSessionNotFound):
		render.ServiceError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		l.Error("Session store unavailable", "uri", r.RequestURI, "error", err)
		render.ServiceError(w, "Session store unavailable", http.StatusServiceUnavailable)
	case isTokenError(err):
		render.ServiceError(w, err.Error(), http.StatusUnauthorized)
	default:
		l.Error("Session operation failed", "uri", r.RequestURI, "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func isTokenError(err error) bool {
	for _, target := range []error{
		apperrors.ErrMalformedToken,
		apperrors.ErrInvalidEncoding,
		apperrors.ErrUnsupportedAlgorithm,
		apperrors.ErrWrongTokenType,
		apperrors.ErrInvalidPayload,
		apperrors.ErrInvalidSignature,
		apperrors.ErrAccessTokenExpired,
		apperrors.ErrSessionRevoked,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Whole seconds to wait, at least one
func retryAfter(wait time.Duration) string {
	seconds := int64(math.Ceil(wait.Seconds()))
	return strconv.FormatInt(max(seconds, 1), 10)
}
