package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/palicode/nucleotid-back/internal/apperrors"
	"github.com/palicode/nucleotid-back/internal/models"
	"github.com/palicode/nucleotid-back/internal/repository"
)

type SessionRepo struct {
	DB DBTX

	// Session id generator, uuid v4 if nil
	NewID func() string
}

// Collision leaves no row and no aborted transaction: the caller just retries with another id
const createSession = `-- name: CreateSession
INSERT INTO auth_sessions (session_id, user_id, issued_at, refreshed_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (session_id) DO NOTHING
RETURNING session_id, user_id, issued_at, refreshed_at
`

func (r *SessionRepo) CreateSession(ctx context.Context, userID int64, now time.Time) (models.Session, error) {
	for range repository.CreateSessionAttempts {
		rows, _ := r.DB.Query(ctx, createSession, r.newID(), userID, now)
		session, err := pgx.CollectOneRow(rows, rowToSession)

		switch {
		case err == nil:
			return session, nil
		case errors.Is(err, pgx.ErrNoRows):
			continue
		case isForeignKeyViolation(err):
			return session, apperrors.ErrUserNotFound
		default:
			return session, storeError(err)
		}
	}

	return models.Session{}, fmt.Errorf("%w: %d attempts", repository.ErrSessionIDCollision, repository.CreateSessionAttempts)
}

const getSession = `-- name: GetSession
SELECT session_id, user_id, issued_at, refreshed_at
FROM auth_sessions
WHERE session_id = $1
`

func (r *SessionRepo) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, getSession, sessionID)
	return collectSession(rows)
}

// Row lock makes concurrent touches wait; the loser re-checks refreshed_at and updates nothing
const touchSession = `-- name: TouchSession
UPDATE auth_sessions
SET refreshed_at = $2
WHERE session_id = $1 AND refreshed_at <= $3
RETURNING session_id, user_id, issued_at, refreshed_at
`

func (r *SessionRepo) TouchSession(ctx context.Context, sessionID string, now time.Time, minInterval time.Duration) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, touchSession, sessionID, now, now.Add(-minInterval))
	session, err := collectSession(rows)
	if !errors.Is(err, apperrors.ErrSessionNotFound) {
		return session, err
	}

	// Nothing updated: either no session or it was refreshed too recently
	session, err = r.GetSession(ctx, sessionID)
	if err != nil {
		return session, err
	}
	return session, apperrors.ErrTooSoon
}

const deleteSession = `-- name: DeleteSession
DELETE FROM auth_sessions
WHERE session_id = $1 AND user_id = $2
`

func (r *SessionRepo) DeleteSession(ctx context.Context, sessionID string, userID int64) (int64, error) {
	return r.exec(ctx, deleteSession, sessionID, userID)
}

// starts_with does not treat '%' and '_' as wildcards, unlike LIKE
const deleteSessionByPrefix = `-- name: DeleteSessionByPrefix
DELETE FROM auth_sessions
WHERE user_id = $2 AND starts_with(session_id, $1)
`

func (r *SessionRepo) DeleteSessionByPrefix(ctx context.Context, prefix string, userID int64) (int64, error) {
	if prefix == "" {
		return 0, nil
	}
	return r.exec(ctx, deleteSessionByPrefix, prefix, userID)
}

const deleteAllSessionsForUser = `-- name: DeleteAllSessionsForUser
DELETE FROM auth_sessions
WHERE user_id = $1
`

func (r *SessionRepo) DeleteAllSessionsForUser(ctx context.Context, userID int64) (int64, error) {
	return r.exec(ctx, deleteAllSessionsForUser, userID)
}

const deleteIdleSessions = `-- name: DeleteIdleSessions
DELETE FROM auth_sessions
WHERE refreshed_at < $1
`

func (r *SessionRepo) DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	return r.exec(ctx, deleteIdleSessions, before)
}

func (r *SessionRepo) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := r.DB.Exec(ctx, sql, args...)
	if err != nil {
		return 0, storeError(err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepo) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

func collectSession(rows pgx.Rows) (models.Session, error) {
	session, err := pgx.CollectOneRow(rows, rowToSession)

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		return session, apperrors.ErrSessionNotFound
	default:
		return session, storeError(err)
	}
}

func rowToSession(row pgx.CollectableRow) (models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.UserID, &s.IssuedAt, &s.RefreshedAt)
	return s, err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

func storeError(err error) error {
	return fmt.Errorf("%w: db error: %w", apperrors.ErrStoreUnavailable, err)
}
