package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/palicode/nucleotid-back/internal/handlers/authctx"
	"github.com/palicode/nucleotid-back/internal/handlers/render"
	"github.com/palicode/nucleotid-back/internal/metrics"
	"github.com/palicode/nucleotid-back/internal/models"
	"github.com/palicode/nucleotid-back/internal/token"
)

// Tokens travel in this header, not in 'Authorization'
const AuthHeader = "Authentication"

var (
	ErrNoAuthHeader        = errors.New("authentication header missing")
	ErrMalformedAuthHeader = errors.New("authentication header is not 'Bearer <token>'")
)

// Token from 'Authentication: Bearer <token>' header
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get(AuthHeader)
	if header == "" {
		return "", ErrNoAuthHeader
	}

	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedAuthHeader
	}

	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t") {
		return "", ErrMalformedAuthHeader
	}

	return raw, nil
}

type debugLogger interface {
	Debug(msg string, args ...any)
}

// Gate tells who the caller is by the access token alone, the session store is never asked
// Requests it can't authenticate pass through anonymous
type Gate struct {
	key     []byte
	now     func() time.Time
	logger  debugLogger
	metrics *metrics.Metrics
}

func NewGate(accessKey []byte, l debugLogger, m *metrics.Metrics) *Gate {
	return &Gate{
		key:     accessKey,
		now:     time.Now,
		logger:  l,
		metrics: m,
	}
}

// Identity of the request caller. Failure reasons are only logged at debug level
func (g *Gate) Identify(r *http.Request) models.Identity {
	raw, err := BearerToken(r)
	if errors.Is(err, ErrNoAuthHeader) {
		g.metrics.GateRequest(metrics.GateAnonymous)
		return models.Identity{}
	}
	if err != nil {
		g.reject(r, err)
		return models.Identity{}
	}

	payload, err := token.ParseAccess(raw, g.key, g.now())
	if err != nil {
		g.reject(r, err)
		return models.Identity{}
	}

	g.metrics.GateRequest(metrics.GateAuthenticated)
	return models.Identity{
		Authenticated: true,
		UserID:        payload.UserID,
		SessionPrefix: payload.SessionPrefix,
		NotAfter:      payload.NotAfter,
		NotBefore:     payload.NotBefore,
	}
}

func (g *Gate) reject(r *http.Request, err error) {
	g.metrics.GateRequest(metrics.GateRejected)
	g.logger.Debug("Access token rejected", "uri", r.RequestURI, "reason", err)
}

// Middleware attaches the caller identity to the request context and always calls next
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authctx.New(r.Context(), g.Identify(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth answers 401 to anonymous callers. Has to run after the gate
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authctx.FromContext(r.Context()).Authenticated {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
