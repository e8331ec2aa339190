package middleware

import (
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/palicode/nucleotid-back/internal/handlers/authctx"
)

const RequestIDHeader = "X-Request-ID"

// RequestID keeps the id the client sent or makes a new ULID
// The id is echoed in the response header and put into the request context
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = ulid.Make().String()
		}

		w.Header().Set(RequestIDHeader, id)
		ctx := authctx.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
