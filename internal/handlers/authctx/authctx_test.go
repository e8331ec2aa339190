package authctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/palicode/nucleotid-back/internal/models"
)

func TestIdentity(t *testing.T) {
	t.Run("stored identity returned", func(t *testing.T) {
		identity := models.Identity{
			Authenticated: true,
			UserID:        7,
			SessionPrefix: "0f8fad5b-d9cb-469f",
			NotAfter:      time.UnixMilli(1704137101000),
		}

		ctx := New(context.Background(), identity)

		require.Equal(t, identity, FromContext(ctx))
	})

	t.Run("missing identity is anonymous", func(t *testing.T) {
		identity := FromContext(context.Background())

		require.False(t, identity.Authenticated)
		require.Zero(t, identity.UserID)
	})
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "01HKQ3Z6W5Y8V9X0A1B2C3D4E5")

	require.Equal(t, "01HKQ3Z6W5Y8V9X0A1B2C3D4E5", RequestID(ctx))
	require.Empty(t, RequestID(context.Background()))
}
