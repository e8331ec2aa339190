package handlers

import (
	"errors"
	"net/http"

	"github.com/palicode/nucleotid-back/internal/apperrors"
	"github.com/palicode/nucleotid-back/internal/handlers/authctx"
	"github.com/palicode/nucleotid-back/internal/handlers/render"
	"github.com/palicode/nucleotid-back/internal/logger"
)

func handleUserMe(users userService, l logger.Logger) http.Handler {
	type response struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Session  string `json:"session"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := authctx.FromContext(r.Context())

		user, err := users.GetUserByID(r.Context(), identity.UserID)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, "User not found", http.StatusNotFound)
			default:
				l.Error("Failed to get user", "user_id", identity.UserID, "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, response{ID: user.ID, Username: user.Username, Session: identity.SessionPrefix})
	})
}
