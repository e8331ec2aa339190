// Package token encodes, decodes and authenticates the compact three-part tokens
// used for both access and refresh credentials:
//
//	base64url(header) "." base64url(payload) "." base64url(HMAC-SHA256(header "." payload))
//
// The package knows nothing about sessions or storage.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/palicode/nucleotid-back/internal/apperrors"
)

// The only accepted header
const (
	Algorithm = "HS256"
	Type      = "JWT"
)

var (
	signingMethod = jwt.SigningMethodHS256

	// Strict decoding rejects non-zero trailing bits, so no two segment strings decode to the same bytes
	parser = jwt.NewParser(jwt.WithJSONNumber(), jwt.WithStrictDecoding())
)

type Header struct {
	Alg string
	Typ string
}

// Token as it was decoded, nothing is verified yet
type Decoded struct {
	Header    Header
	Signature []byte

	claims rawClaims
}

// Check the header declares the only supported type and algorithm pair
func (d Decoded) CheckHeader() error {
	if d.Header.Alg != Algorithm || d.Header.Typ != Type {
		return fmt.Errorf("alg=%q typ=%q: %w", d.Header.Alg, d.Header.Typ, apperrors.ErrUnsupportedAlgorithm)
	}
	return nil
}

// Kind of the token judged by its payload shape
func (d Decoded) Kind() Kind {
	return d.claims.kind()
}

// Access payload
// Fails with apperrors.ErrWrongTokenType for refresh tokens and apperrors.ErrInvalidPayload on missing fields
func (d Decoded) Access() (AccessPayload, error) {
	return d.claims.access()
}

// Refresh payload
// Fails with apperrors.ErrWrongTokenType for access tokens and apperrors.ErrInvalidPayload on missing fields
func (d Decoded) Refresh() (RefreshPayload, error) {
	return d.claims.refresh()
}

// Typed payload of whatever kind the token is
func (d Decoded) Payload() (Payload, error) {
	switch d.Kind() {
	case KindAccess:
		return d.Access()
	default:
		return d.Refresh()
	}
}

// Encode payload and sign it with the key
// Result is deterministic for the same payload and key
func Encode(payload Payload, key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("signing key must not be empty")
	}

	signed, err := jwt.NewWithClaims(signingMethod, payload.claims()).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("error while signing %s token. Err: %w", payload.Kind(), err)
	}

	return signed, nil
}

// Decode token without verifying it
// Fails with apperrors.ErrMalformedToken unless the token has exactly 3 non-empty segments,
// and with apperrors.ErrInvalidEncoding when a segment is not base64url (JSON for header and payload)
func Decode(raw string) (Decoded, error) {
	var d Decoded

	parts, ok := split(raw)
	if !ok {
		return d, apperrors.ErrMalformedToken
	}

	parsed, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// Unknown or missing 'alg': header is decoded, CheckHeader rejects it
	default:
		return d, fmt.Errorf("%w: %w", apperrors.ErrInvalidEncoding, err)
	}

	signature, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return d, fmt.Errorf("%w: signature: %w", apperrors.ErrInvalidEncoding, err)
	}

	alg, _ := parsed.Header["alg"].(string)
	typ, _ := parsed.Header["typ"].(string)
	claims, _ := parsed.Claims.(jwt.MapClaims)

	return Decoded{
		Header:    Header{Alg: alg, Typ: typ},
		Signature: signature,
		claims:    rawClaims(claims),
	}, nil
}

// Verify token signature with the key
// MAC is recomputed over the first two segments exactly as received and compared in constant time (hmac.Equal)
func Verify(raw string, key []byte) bool {
	parts, ok := split(raw)
	if !ok || len(key) == 0 {
		return false
	}

	signature, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return false
	}

	return signingMethod.Verify(parts[0]+"."+parts[1], signature, key) == nil
}

// Parse and validate access token
// Expired tokens (now after 'max_valid') are rejected; the deadline itself is still valid
func ParseAccess(raw string, key []byte, now time.Time) (AccessPayload, error) {
	d, err := Decode(raw)
	if err != nil {
		return AccessPayload{}, err
	}

	if err := d.CheckHeader(); err != nil {
		return AccessPayload{}, err
	}

	payload, err := d.Access()
	if err != nil {
		return AccessPayload{}, err
	}

	if !Verify(raw, key) {
		return AccessPayload{}, apperrors.ErrInvalidSignature
	}

	if now.After(payload.NotAfter) {
		return AccessPayload{}, apperrors.ErrAccessTokenExpired
	}

	return payload, nil
}

// Parse and validate refresh token
// Only the token itself is checked here: whether the session still exists is up to the caller
func ParseRefresh(raw string, key []byte) (RefreshPayload, error) {
	d, err := Decode(raw)
	if err != nil {
		return RefreshPayload{}, err
	}

	if err := d.CheckHeader(); err != nil {
		return RefreshPayload{}, err
	}

	payload, err := d.Refresh()
	if err != nil {
		return RefreshPayload{}, err
	}

	if !Verify(raw, key) {
		return RefreshPayload{}, apperrors.ErrInvalidSignature
	}

	return payload, nil
}

func split(raw string) ([]string, bool) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, false
	}
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}
