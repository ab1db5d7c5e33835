package api

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const ctxKeyRequestID ctxKey = iota

// maxRequestIDLen bounds client-supplied request ids echoed back.
const maxRequestIDLen = 128

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// RequestObserver counts finished requests. *metrics.Registry satisfies it.
type RequestObserver interface {
	ObserveRequest(route string, code int)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	n      int
	wrote  bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wrote = true
	n, err := w.ResponseWriter.Write(b)
	w.n += n
	return n, err
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	w.status = http.StatusSwitchingProtocols
	w.wrote = true
	return h.Hijack()
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// WithRequestID propagates X-Request-Id, generating one when the client did
// not send a usable value.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" || len(reqID) > maxRequestIDLen {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, reqID)))
	})
}

// WithLogging writes one access log line per request, reports it to obs
// (which may be nil), and turns handler panics into 500 responses.
func WithLogging(next http.Handler, obs RequestObserver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				slog.Error("http: handler panic",
					"path", r.URL.Path,
					"panic", p,
					"request_id", RequestIDFromContext(r.Context()),
				)
				if !sr.wrote {
					jsonErr(sr, http.StatusInternalServerError, "internal error")
				} else {
					sr.status = http.StatusInternalServerError
				}
			}

			route := RouteLabel(r.URL.Path)
			if obs != nil {
				obs.ObserveRequest(route, sr.status)
			}
			slog.Info("http: request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", sr.status,
				"bytes", sr.n,
				"latency_ms", float64(time.Since(start).Microseconds())/1000.0,
				"request_id", RequestIDFromContext(r.Context()),
			)
		}()

		next.ServeHTTP(sr, r)
	})
}

// RouteLabel maps a request path onto a bounded set of route names for
// metrics labels.
func RouteLabel(path string) string {
	switch {
	case path == "/search":
		return "search"
	case strings.HasPrefix(path, "/item/"):
		return "item"
	case path == "/health":
		return "health"
	case path == "/api/v1/status":
		return "status"
	case path == "/api/v1/alerts":
		return "alerts"
	case path == "/metrics":
		return "metrics"
	case path == "/ws/stream":
		return "stream"
	default:
		return "other"
	}
}
