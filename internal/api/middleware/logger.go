package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// requestInfo is filled in by the middleware that runs after Logger so the
// request line can carry the resolved scope and principal.
type requestInfo struct {
	scope     string
	principal string
}

type infoKey struct{}

func noteScope(r *http.Request, scope string) {
	if info, ok := r.Context().Value(infoKey{}).(*requestInfo); ok {
		info.scope = scope
	}
}

func notePrincipal(r *http.Request, id string) {
	if info, ok := r.Context().Value(infoKey{}).(*requestInfo); ok {
		info.principal = id
	}
}

// Logger returns structured request logging middleware.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)
		info := &requestInfo{}

		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), infoKey{}, info)))

		event := log.Info()
		if rw.statusCode >= 400 {
			event = log.Warn()
		}
		if rw.statusCode >= 500 {
			event = log.Error()
		}

		event.
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("scope", info.scope).
			Str("principal", info.principal).
			Int("status", rw.statusCode).
			Int("bytes", rw.bytes).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}
