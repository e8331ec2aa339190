// Package redisstore keeps sessions in Redis.
//
// Every session is a hash with its user id and timestamps (epoch ms). A set per user
// indexes the user sessions and one sorted set scored by refreshed_at serves the idle sweep.
// All multi-key changes run as Lua scripts so the indexes never drift from the hashes.
// The bulk delete scripts derive session keys from ids inside Lua, so the store needs
// a single Redis node (or a primary with replicas), not a Cluster.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/palicode/nucleotid-back/internal/apperrors"
	"github.com/palicode/nucleotid-back/internal/models"
	"github.com/palicode/nucleotid-back/internal/repository"
)

const DefaultPrefix = "nucleotid"

// KEYS: session, user index, idle index
// ARGV: session id, user id, now ms
const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "user_id", ARGV[2], "issued_at", ARGV[3], "refreshed_at", ARGV[3])
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
return 1
`

// KEYS: session, idle index
// ARGV: session id, now ms, min interval ms
// Reply: touched flag (1 or 0) followed by user_id, issued_at, refreshed_at as stored after the call
const touchSessionScript = `
local refreshed = redis.call("HGET", KEYS[1], "refreshed_at")
if not refreshed then
  return false
end
local touched = 0
if tonumber(refreshed) + tonumber(ARGV[3]) <= tonumber(ARGV[2]) then
  redis.call("HSET", KEYS[1], "refreshed_at", ARGV[2])
  redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
  touched = 1
end
local values = redis.call("HMGET", KEYS[1], "user_id", "issued_at", "refreshed_at")
return {touched, values[1], values[2], values[3]}
`

// KEYS: session, user index, idle index
// ARGV: session id, user id
const deleteSessionScript = `
if redis.call("HGET", KEYS[1], "user_id") ~= ARGV[2] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
return 1
`

// KEYS: user index, idle index
// ARGV: key prefix, session id prefix (empty matches all)
const deleteUserSessionsScript = `
local deleted = 0
for _, id in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  if ARGV[2] == "" or string.sub(id, 1, #ARGV[2]) == ARGV[2] then
    deleted = deleted + redis.call("DEL", ARGV[1] .. ":session:" .. id)
    redis.call("SREM", KEYS[1], id)
    redis.call("ZREM", KEYS[2], id)
  end
end
return deleted
`

// KEYS: idle index
// ARGV: key prefix, before ms (exclusive)
const deleteIdleSessionsScript = `
local deleted = 0
for _, id in ipairs(redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2])) do
  local session = ARGV[1] .. ":session:" .. id
  local user_id = redis.call("HGET", session, "user_id")
  if user_id then
    redis.call("SREM", ARGV[1] .. ":user:" .. user_id, id)
  end
  deleted = deleted + redis.call("DEL", session)
  redis.call("ZREM", KEYS[1], id)
end
return deleted
`

var (
	createSessionLua      = redis.NewScript(createSessionScript)
	touchSessionLua       = redis.NewScript(touchSessionScript)
	deleteSessionLua      = redis.NewScript(deleteSessionScript)
	deleteUserSessionsLua = redis.NewScript(deleteUserSessionsScript)
	deleteIdleSessionsLua = redis.NewScript(deleteIdleSessionsScript)
)

// Redis backed session repository
// Unlike postgres it knows nothing about users, so sessions of removed users stay until revoked or swept
type SessionRepo struct {
	rdb    *redis.Client
	prefix string

	// Session id generator, uuid v4 if nil
	NewID func() string
}

func NewSessionRepo(rdb *redis.Client, prefix string) *SessionRepo {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SessionRepo{rdb: rdb, prefix: prefix}
}

func (r *SessionRepo) sessionKey(sessionID string) string {
	return r.prefix + ":session:" + sessionID
}

func (r *SessionRepo) userKey(userID int64) string {
	return r.prefix + ":user:" + strconv.FormatInt(userID, 10)
}

func (r *SessionRepo) idleKey() string {
	return r.prefix + ":idle"
}

func (r *SessionRepo) CreateSession(ctx context.Context, userID int64, now time.Time) (models.Session, error) {
	now = now.Truncate(time.Millisecond)

	for range repository.CreateSessionAttempts {
		id := r.newID()
		created, err := createSessionLua.Run(ctx, r.rdb,
			[]string{r.sessionKey(id), r.userKey(userID), r.idleKey()},
			id, userID, now.UnixMilli(),
		).Int64()
		if err != nil {
			return models.Session{}, storeError(err)
		}

		if created == 1 {
			return models.Session{ID: id, UserID: userID, IssuedAt: now, RefreshedAt: now}, nil
		}
	}

	return models.Session{}, fmt.Errorf("%w: %d attempts", repository.ErrSessionIDCollision, repository.CreateSessionAttempts)
}

func (r *SessionRepo) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	values, err := r.rdb.HMGet(ctx, r.sessionKey(sessionID), "user_id", "issued_at", "refreshed_at").Result()
	if err != nil {
		return models.Session{}, storeError(err)
	}

	return toSession(sessionID, values)
}

func (r *SessionRepo) TouchSession(ctx context.Context, sessionID string, now time.Time, minInterval time.Duration) (models.Session, error) {
	reply, err := touchSessionLua.Run(ctx, r.rdb,
		[]string{r.sessionKey(sessionID), r.idleKey()},
		sessionID, now.UnixMilli(), minInterval.Milliseconds(),
	).Slice()

	switch {
	case err == nil:
	case errors.Is(err, redis.Nil):
		return models.Session{}, apperrors.ErrSessionNotFound
	default:
		return models.Session{}, storeError(err)
	}

	if len(reply) != 4 {
		return models.Session{}, storeError(fmt.Errorf("unexpected touch reply length %d", len(reply)))
	}
	session, err := toSession(sessionID, reply[1:])
	if err != nil {
		return session, err
	}
	if touched, _ := reply[0].(int64); touched != 1 {
		return session, apperrors.ErrTooSoon
	}
	return session, nil
}

func (r *SessionRepo) DeleteSession(ctx context.Context, sessionID string, userID int64) (int64, error) {
	return r.run(ctx, deleteSessionLua,
		[]string{r.sessionKey(sessionID), r.userKey(userID), r.idleKey()},
		sessionID, userID,
	)
}

func (r *SessionRepo) DeleteSessionByPrefix(ctx context.Context, prefix string, userID int64) (int64, error) {
	if prefix == "" {
		return 0, nil
	}
	return r.run(ctx, deleteUserSessionsLua, []string{r.userKey(userID), r.idleKey()}, r.prefix, prefix)
}

func (r *SessionRepo) DeleteAllSessionsForUser(ctx context.Context, userID int64) (int64, error) {
	return r.run(ctx, deleteUserSessionsLua, []string{r.userKey(userID), r.idleKey()}, r.prefix, "")
}

func (r *SessionRepo) DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	return r.run(ctx, deleteIdleSessionsLua, []string{r.idleKey()}, r.prefix, before.UnixMilli())
}

func (r *SessionRepo) run(ctx context.Context, script *redis.Script, keys []string, args ...any) (int64, error) {
	n, err := script.Run(ctx, r.rdb, keys, args...).Int64()
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

func (r *SessionRepo) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

// Build session from [user_id, issued_at, refreshed_at] reply
func toSession(sessionID string, values []any) (models.Session, error) {
	if len(values) != 3 || values[0] == nil {
		return models.Session{}, apperrors.ErrSessionNotFound
	}

	var fields [3]int64
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return models.Session{}, storeError(fmt.Errorf("unexpected session field %d: %v", i, v))
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return models.Session{}, storeError(fmt.Errorf("corrupted session field %d: %w", i, err))
		}
		fields[i] = n
	}

	return models.Session{
		ID:          sessionID,
		UserID:      fields[0],
		IssuedAt:    time.UnixMilli(fields[1]),
		RefreshedAt: time.UnixMilli(fields[2]),
	}, nil
}

func storeError(err error) error {
	return fmt.Errorf("%w: redis error: %w", apperrors.ErrStoreUnavailable, err)
}
