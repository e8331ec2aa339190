package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/palicode/nucleotid-back/internal/testutil"
	"github.com/palicode/nucleotid-back/tests/e2e"
)

const (
	RefreshURL   = "/api/auth/refresh"
	LogoutURL    = "/api/auth/logout"
	RevokeURL    = "/api/auth/revoke"
	TerminateURL = "/api/auth/terminate"
	MeURL        = "/api/user/me"
)

var timeNow = time.Now

// Send request with the token in 'Authentication' header
func withToken(t *testing.T, method string, url string, token string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authentication", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, body
}

func register(t *testing.T, srvURL string, login string) tokenPair {
	t.Helper()

	code, body := post(t, srvURL+RegisterURL, `{"login": "`+login+`", "password": "StrongEnoughPassword"}`)
	require.Equalf(t, http.StatusOK, code, "register should succeed. Body: %s", string(body))

	var pair tokenPair
	require.NoError(t, json.Unmarshal(body, &pair))
	return pair
}

func Test_AuthSession(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	e2e.ServeInTx(pg.Pool, t, func(tx pgx.Tx, srvURL string, _ e2e.Services) {
		t.Run("refresh ok", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				pair := register(t, srvURL, "nk")

				code, body := withToken(t, http.MethodPost, srvURL+RefreshURL, pair.RefreshToken)
				require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", string(body))

				var resp struct {
					AccessToken string `json:"accessToken"`
				}
				require.NoError(t, json.Unmarshal(body, &resp))

				code, body = withToken(t, http.MethodGet, srvURL+MeURL, resp.AccessToken)
				require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", string(body))
				require.Contains(t, string(body), `"username":"nk"`)
			})
		})

		t.Run("refresh many times with the same token", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				pair := register(t, srvURL, "nk")

				for range 3 {
					code, body := withToken(t, http.MethodPost, srvURL+RefreshURL, pair.RefreshToken)
					require.Equalf(t, http.StatusOK, code, "refresh token is not rotated. Body: %s", string(body))
				}
			})
		})

		t.Run("logout", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				pair := register(t, srvURL, "nk")

				code, _ := withToken(t, http.MethodGet, srvURL+LogoutURL, pair.RefreshToken)
				require.Equal(t, http.StatusOK, code)

				code, _ = withToken(t, http.MethodPost, srvURL+RefreshURL, pair.RefreshToken)
				require.Equal(t, http.StatusUnauthorized, code, "closed session can't be refreshed")
			})
		})

		t.Run("revoke", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				pair := register(t, srvURL, "nk")

				code, _ := withToken(t, http.MethodPost, srvURL+RevokeURL, pair.AccessToken)
				require.Equal(t, http.StatusOK, code)

				code, _ = withToken(t, http.MethodPost, srvURL+RefreshURL, pair.RefreshToken)
				require.Equal(t, http.StatusUnauthorized, code, "revoked session can't be refreshed")

				code, _ = withToken(t, http.MethodGet, srvURL+MeURL, pair.AccessToken)
				require.Equal(t, http.StatusOK, code, "access token stays valid until it expires")
			})
		})

		t.Run("terminate", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				first := register(t, srvURL, "nk")
				code, _ := post(t, srvURL+LoginURL, `{"login": "nk", "password": "StrongEnoughPassword"}`)
				require.Equal(t, http.StatusOK, code)
				other := register(t, srvURL, "other")

				code, body := withToken(t, http.MethodGet, srvURL+TerminateURL, first.AccessToken)
				require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", string(body))
				require.JSONEq(t, `{"revoked": 2}`, string(body))

				code, _ = withToken(t, http.MethodPost, srvURL+RefreshURL, first.RefreshToken)
				require.Equal(t, http.StatusUnauthorized, code)
				code, _ = withToken(t, http.MethodPost, srvURL+RefreshURL, other.RefreshToken)
				require.Equal(t, http.StatusOK, code, "sessions of other users survive")
			})
		})
	})
}
