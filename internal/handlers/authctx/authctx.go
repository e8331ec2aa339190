package authctx

import (
	"context"

	"github.com/palicode/nucleotid-back/internal/models"
)

type ctxKey string

const (
	identityKey  ctxKey = "identity"
	requestIDKey ctxKey = "request_id"
)

// Create a new context with the caller identity
func New(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// Extract the caller identity from the context
// Zero identity (not authenticated) when the gate did not run
func FromContext(ctx context.Context) models.Identity {
	identity, _ := ctx.Value(identityKey).(models.Identity)
	return identity
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
