package repository

import (
	"context"
	"errors"
	"time"

	"github.com/palicode/nucleotid-back/internal/models"
)

// Every fresh session id collided with an existing one
var ErrSessionIDCollision = errors.New("session id collision")

// How many fresh ids CreateSession tries before giving up
const CreateSessionAttempts = 3

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, username string, hashedPassword string) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID int64) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

// Session repository interface
// One row per outstanding refresh token: the refresh token is valid while its row exists.
// Errors other than the documented ones must wrap apperrors.ErrStoreUnavailable
type SessionRepo interface {
	// Create session with fresh random id, issued_at = refreshed_at = now
	// On id collision retry with a new id, after CreateSessionAttempts must return ErrSessionIDCollision
	// Stores aware of users must return apperrors.ErrUserNotFound for unknown user
	CreateSession(ctx context.Context, userID int64, now time.Time) (models.Session, error)

	// Get session by id
	// If session not found must return apperrors.ErrSessionNotFound
	GetSession(ctx context.Context, sessionID string) (models.Session, error)

	// Set refreshed_at to now, but only if the session was last refreshed at least minInterval before now.
	// Check and update are one atomic step, so of concurrent touches within one interval only one succeeds.
	// If the interval has not passed must return the session as stored along with apperrors.ErrTooSoon
	// If session not found must return apperrors.ErrSessionNotFound
	TouchSession(ctx context.Context, sessionID string, now time.Time, minInterval time.Duration) (models.Session, error)

	// Delete session owned by the user
	// Missing session and session of another user both give 0
	DeleteSession(ctx context.Context, sessionID string, userID int64) (int64, error)

	// Delete user sessions which id starts with the prefix
	DeleteSessionByPrefix(ctx context.Context, prefix string, userID int64) (int64, error)

	// Delete all user sessions
	DeleteAllSessionsForUser(ctx context.Context, userID int64) (int64, error)

	// Delete sessions not refreshed since 'before'
	DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error)
}

type Storage interface {
	User() UserRepo
	Session() SessionRepo

	// Run fn in transaction
	// Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
