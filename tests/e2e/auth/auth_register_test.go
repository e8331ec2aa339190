package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/palicode/nucleotid-back/internal/testutil"
	"github.com/palicode/nucleotid-back/internal/token"
	"github.com/palicode/nucleotid-back/tests/e2e"
)

const (
	RegisterURL = "/api/user/register"
	LoginURL    = "/api/user/login"
)

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func post(t *testing.T, url string, data string) (int, []byte) {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(data))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, body
}

func Test_AuthRegister(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	e2e.ServeInTx(pg.Pool, t, func(tx pgx.Tx, srvURL string, s e2e.Services) {
		t.Run("register ok", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				code, body := post(t, srvURL+RegisterURL, `{"login": "nk", "password": "StrongEnoughPassword"}`)

				require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", string(body))
				var pair tokenPair
				require.NoError(t, json.Unmarshal(body, &pair))

				access, err := token.ParseAccess(pair.AccessToken, e2e.SessionConfig.AccessSigningKey(), timeNow())
				require.NoError(t, err, "access token should be valid right away")
				refresh, err := token.ParseRefresh(pair.RefreshToken, e2e.SessionConfig.RefreshSigningKey())
				require.NoError(t, err)

				user, err := s.UserService.GetUserByID(t.Context(), access.UserID)
				require.NoError(t, err, "registered user should exist")
				require.Equal(t, "nk", user.Username)
				require.Equal(t, user.ID, refresh.UserID)
				require.True(t, strings.HasPrefix(refresh.SessionID, access.SessionPrefix), "access token carries session prefix")
			})
		})

		t.Run("register existed user fails", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				_, err := s.UserService.CreateUser(t.Context(), "nk", "StrongEnoughPassword")
				require.NoError(t, err)

				code, body := post(t, srvURL+RegisterURL, `{"login": "nk", "password": "StrongEnoughPassword"}`)

				require.Equalf(t, http.StatusConflict, code, "not expected code. Body: %s", string(body))
				require.JSONEq(t, `
					{
						"error": "service_error",
						"message": "User already exists"
					}`, string(body))
			})
		})
	})
}

func Test_AuthLogin(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	e2e.ServeInTx(pg.Pool, t, func(tx pgx.Tx, srvURL string, s e2e.Services) {
		t.Run("login ok", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				_, err := s.UserService.CreateUser(t.Context(), "nk", "StrongEnoughPassword")
				require.NoError(t, err)

				code, body := post(t, srvURL+LoginURL, `{"login": "nk", "password": "StrongEnoughPassword"}`)

				require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", string(body))
				var pair tokenPair
				require.NoError(t, json.Unmarshal(body, &pair))
				require.NotEmpty(t, pair.AccessToken)
				require.NotEmpty(t, pair.RefreshToken)
			})
		})

		t.Run("login failed", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				_, err := s.UserService.CreateUser(t.Context(), "nk", "StrongEnoughPassword")
				require.NoError(t, err)

				code, body := post(t, srvURL+LoginURL, `{"login": "nk", "password": "WrongPassword"}`)

				require.Equalf(t, http.StatusUnauthorized, code, "not expected code. Body: %s", string(body))
				require.JSONEq(t, `
					{
						"error": "service_error",
						"message": "Invalid login or password"
					}`, string(body))
			})
		})
	})
}
