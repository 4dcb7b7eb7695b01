package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/org/teamvault/internal/auth"
)

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the session token from X-Auth-Token or an
// Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	if t := r.Header.Get("X-Auth-Token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// authMiddleware validates the session token and attaches the user and
// session to the request context. Public routes are registered before this.
func authMiddleware(sessions *auth.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plaintext := bearerToken(r)
			if plaintext == "" {
				writeError(w, http.StatusUnauthorized, "missing session token")
				return
			}
			user, session, err := sessions.Validate(r.Context(), plaintext)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			ctx := withIdentity(r.Context(), user, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// responseRecorder captures the response status for the metrics middleware.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}
