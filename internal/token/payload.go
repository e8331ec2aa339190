package token

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/palicode/nucleotid-back/internal/apperrors"
)

// Kind of the token. Both kinds share the same header, so kind is told apart by payload shape:
// only access tokens carry 'max_valid'
type Kind int

const (
	KindAccess Kind = iota + 1
	KindRefresh
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Payload is either AccessPayload or RefreshPayload
type Payload interface {
	Kind() Kind
	claims() wireClaims
}

// Access token payload
// Validity is computable from the payload itself, it is never looked up in the store
type AccessPayload struct {
	UserID        int64
	SessionPrefix string
	NotAfter      time.Time // mandatory deadline
	NotBefore     time.Time // informational: the session may be refreshed after it
}

func (p AccessPayload) Kind() Kind { return KindAccess }

func (p AccessPayload) claims() wireClaims {
	notAfter := p.NotAfter.UnixMilli()
	c := wireClaims{
		UID:      &p.UserID,
		TokenID:  &p.SessionPrefix,
		MaxValid: &notAfter,
	}
	if !p.NotBefore.IsZero() {
		notBefore := p.NotBefore.UnixMilli()
		c.MinValid = &notBefore
	}
	return c
}

// Refresh token payload
type RefreshPayload struct {
	UserID    int64
	SessionID string
}

func (p RefreshPayload) Kind() Kind { return KindRefresh }

func (p RefreshPayload) claims() wireClaims {
	return wireClaims{
		UID:     &p.UserID,
		TokenID: &p.SessionID,
	}
}

// Wire form of both payloads
type wireClaims struct {
	UID      *int64  `json:"uid,omitempty"`
	TokenID  *string `json:"tokenid,omitempty"`
	MaxValid *int64  `json:"max_valid,omitempty"`
	MinValid *int64  `json:"min_valid,omitempty"`
}

// jwt.Claims implementation. Registered claims are not used: validity is checked by this package
func (c wireClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c wireClaims) GetIssuedAt() (*jwt.NumericDate, error) { return nil, nil }
func (c wireClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c wireClaims) GetIssuer() (string, error) { return "", nil }
func (c wireClaims) GetSubject() (string, error) { return "", nil }
func (c wireClaims) GetAudience() (jwt.ClaimStrings, error) { return nil, nil }

// Decoded payload as it came from the client, values are not trusted yet
type rawClaims jwt.MapClaims

func (c rawClaims) kind() Kind {
	if _, ok := c["max_valid"]; ok {
		return KindAccess
	}
	return KindRefresh
}

func (c rawClaims) access() (AccessPayload, error) {
	var p AccessPayload

	if c.kind() != KindAccess {
		return p, apperrors.ErrWrongTokenType
	}

	uid, ok := c.integer("uid")
	if !ok {
		return p, apperrors.ErrInvalidPayload
	}
	prefix, ok := c.str("tokenid")
	if !ok {
		return p, apperrors.ErrInvalidPayload
	}
	notAfter, ok := c.integer("max_valid")
	if !ok {
		return p, apperrors.ErrInvalidPayload
	}

	p = AccessPayload{
		UserID:        uid,
		SessionPrefix: prefix,
		NotAfter:      time.UnixMilli(notAfter),
	}

	if _, present := c["min_valid"]; present {
		notBefore, ok := c.integer("min_valid")
		if !ok {
			return AccessPayload{}, apperrors.ErrInvalidPayload
		}
		p.NotBefore = time.UnixMilli(notBefore)
	}

	return p, nil
}

func (c rawClaims) refresh() (RefreshPayload, error) {
	var p RefreshPayload

	if c.kind() != KindRefresh {
		return p, apperrors.ErrWrongTokenType
	}

	uid, ok := c.integer("uid")
	if !ok {
		return p, apperrors.ErrInvalidPayload
	}
	sessionID, ok := c.str("tokenid")
	if !ok {
		return p, apperrors.ErrInvalidPayload
	}

	return RefreshPayload{UserID: uid, SessionID: sessionID}, nil
}

// Integer value of the key. Decoder is set to keep numbers as json.Number
func (c rawClaims) integer(key string) (int64, bool) {
	n, ok := c[key].(json.Number)
	if !ok {
		return 0, false
	}
	v, err := n.Int64()
	return v, err == nil
}

// Non-empty string value of the key
func (c rawClaims) str(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok && s != ""
}
