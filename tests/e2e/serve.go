package e2e

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/palicode/nucleotid-back/internal/handlers"
	"github.com/palicode/nucleotid-back/internal/handlers/middleware"
	"github.com/palicode/nucleotid-back/internal/logger"
	"github.com/palicode/nucleotid-back/internal/metrics"
	"github.com/palicode/nucleotid-back/internal/repository/postgres"
	"github.com/palicode/nucleotid-back/internal/service/session"
	"github.com/palicode/nucleotid-back/internal/service/user"
	"github.com/palicode/nucleotid-back/internal/testutil"
)

// Session config the test server runs with
// Throttling is off so tests may refresh right after login
var SessionConfig = session.Config{
	AccessKey:   []byte("test-access-key"),
	RefreshKey:  []byte("test-refresh-key"),
	MaxValidity: 35 * time.Minute,
}

type Services struct {
	Authority   *session.Authority
	UserService *user.UserService
}

// Create db transaction and run server in with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.WithTx with it
func ServeInTx(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		l := logger.NewNoOpLogger()
		m := metrics.New()

		// Initialize repositories
		storage := postgres.NewStorage(tx)

		// Initialize services
		authority, err := session.New(SessionConfig, storage.Session(), session.WithMetrics(m))
		require.NoError(t, err, "session authority should be created without errors")

		us, err := user.NewService(user.BcryptHasher{Cost: bcrypt.MinCost}, storage)
		require.NoError(t, err, "user service should be created without errors")

		// Complete all together as router
		router := handlers.NewRouter(
			authority,
			us,
			middleware.NewGate(SessionConfig.AccessSigningKey(), l, m),
			m.Handler(),
			l,
		)

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			Authority:   authority,
			UserService: us,
		})
	})
}
