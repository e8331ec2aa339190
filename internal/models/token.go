package models

import (
	"time"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time // zero for refresh tokens: they live until revoked
}

// Token pair issued by session authority on new session
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Identity is what the request gate knows about the caller
type Identity struct {
	Authenticated bool
	UserID        int64
	SessionPrefix string
	NotAfter      time.Time
	NotBefore     time.Time // informational: earliest moment a refresh is accepted
}
