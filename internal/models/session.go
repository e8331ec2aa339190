package models

import (
	"time"
)

// Length of the session id prefix embedded into access tokens
// Covers "xxxxxxxx-xxxx-xxxx" part of the UUID string
const SessionPrefixLen = 18

// Session backs exactly one refresh token
// The row existing is the only thing that makes its refresh token valid
type Session struct {
	ID          string
	UserID      int64
	IssuedAt    time.Time
	RefreshedAt time.Time // never before IssuedAt
}

// Prefix of the session id that is safe to hand out inside access tokens
func (s Session) Prefix() string {
	return SessionPrefix(s.ID)
}

func SessionPrefix(id string) string {
	if len(id) <= SessionPrefixLen {
		return id
	}
	return id[:SessionPrefixLen]
}
