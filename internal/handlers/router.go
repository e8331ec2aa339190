package handlers

import (
	"context"
	"net/http"

	"github.com/palicode/nucleotid-back/internal/handlers/middleware"
	"github.com/palicode/nucleotid-back/internal/logger"
	"github.com/palicode/nucleotid-back/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	sessions sessionAuthority,
	users userService,
	gate *middleware.Gate,
	metricsHandler http.Handler,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.RequireAuth

	apiuser := http.NewServeMux()
	apiuser.Handle("POST /register", handleRegister(users, sessions, logger))
	apiuser.Handle("POST /login", handleLogin(users, sessions, logger))
	apiuser.Handle("GET /me", withAuth(handleUserMe(users, logger)))

	apiauth := http.NewServeMux()
	apiauth.Handle("POST /refresh", handleRefresh(sessions, logger))
	apiauth.Handle("GET /logout", handleLogout(sessions, logger))
	apiauth.Handle("POST /revoke", withAuth(handleRevoke(sessions, logger)))
	apiauth.Handle("GET /terminate", withAuth(handleTerminate(sessions, logger)))

	root := http.NewServeMux()
	root.Handle("/api/user/", http.StripPrefix("/api/user", apiuser))
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))
	if metricsHandler != nil {
		root.Handle("GET /metrics", metricsHandler)
	}

	handler := chain(root,
		middleware.RequestID,
		middleware.LoggerMiddleware(logger),
		gate.Middleware,
	)

	return handler
}

type sessionAuthority interface {
	// Open session for the user and issue token pair
	NewSession(ctx context.Context, userID int64) (models.TokenPair, error)

	// Issue new access token by refresh token
	// Has to return *apperrors.TooSoonError if the session was refreshed too recently
	ExtendSession(ctx context.Context, refresh string) (models.IssuedToken, error)

	// Delete session of the refresh token
	Logout(ctx context.Context, refresh string) error

	// Delete session of the access token
	// Has to return apperrors.ErrSessionNotFound if it is gone already
	Revoke(ctx context.Context, identity models.Identity) error

	// Delete every session of the access token owner
	RevokeAll(ctx context.Context, identity models.Identity) (int64, error)
}

type userService interface {
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	CreateUser(ctx context.Context, username string, password string) (models.User, error)

	// Has to return apperrors.ErrUserNotFound if credentials do not match
	Login(ctx context.Context, username string, password string) (models.User, error)

	GetUserByID(ctx context.Context, userID int64) (models.User, error)
}
