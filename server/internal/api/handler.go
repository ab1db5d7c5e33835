package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bazaarmirror/bazaarmirror/server/internal/alerts"
	"github.com/bazaarmirror/bazaarmirror/server/internal/market"
	"github.com/bazaarmirror/bazaarmirror/server/internal/ratelimit"
	"github.com/bazaarmirror/bazaarmirror/server/internal/refresher"
)

// StatusSource reports the refresher status. *refresher.Refresher satisfies it.
type StatusSource interface {
	Status() refresher.Status
}

// AlertSource lists current alerts. *alerts.Engine satisfies it.
type AlertSource interface {
	Active() []*alerts.Alert
}

// Handler is the HTTP handler for the query and status endpoints.
type Handler struct {
	query  *market.Engine
	status StatusSource
	alerts AlertSource
	limits *ratelimit.Set
	mux    *http.ServeMux
}

// New creates a Handler and registers all routes. alerts and limits may be
// nil: alerts then lists nothing, and requests are not rate limited.
func New(q *market.Engine, rs StatusSource, al AlertSource, limits *ratelimit.Set) http.Handler {
	h := &Handler{query: q, status: rs, alerts: al, limits: limits, mux: http.NewServeMux()}

	h.handle("/search", "search", true, h.search)
	h.handle("/item/", "item", true, h.item) // subtree, extracts {id}
	h.handle("/health", "health", false, h.health)
	h.handle("/api/v1/status", "status", false, h.statusInfo)
	h.handle("/api/v1/alerts", "alerts", false, h.listAlerts)
	h.mux.HandleFunc("/", notFound)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handle registers fn under pattern, rejecting non-GET methods before the
// rate limiter so they do not consume tokens.
func (h *Handler) handle(pattern, route string, query bool, fn http.HandlerFunc) {
	var next http.Handler = fn
	if h.limits != nil {
		next = h.limits.Wrap(route, query, next)
	}
	h.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// --- route handlers ---------------------------------------------------------

// search returns GET /search?q=: every item whose id contains q.
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	res, err := h.query.Search(r.URL.Query().Get("q"))
	if errors.Is(err, market.ErrInvalidArgument) {
		jsonErr(w, http.StatusBadRequest, "Missing query")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	jsonResp(w, http.StatusOK, res)
}

// item returns GET /item/{id}: one record by exact, case-insensitive id.
func (h *Handler) item(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/item/")
	res, err := h.query.Lookup(id)
	if errors.Is(err, market.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	jsonResp(w, http.StatusOK, res)
}

// health returns GET /health: size and age of the cached snapshot.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.query.Health())
}

// statusInfo returns GET /api/v1/status.
func (h *Handler) statusInfo(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, toStatusResponse(h.status.Status()))
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, _ *http.Request) {
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = append(out, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	jsonErr(w, http.StatusNotFound, "not found")
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// toStatusResponse maps a refresher.Status to its JSON representation.
func toStatusResponse(st refresher.Status) StatusResponse {
	return StatusResponse{
		State:               string(st.State),
		IntervalSeconds:     st.Interval.Seconds(),
		Cycles:              st.Cycles,
		Successes:           st.Successes,
		Failures:            st.Failures,
		ConsecutiveFailures: st.ConsecutiveFailures,
		LastError:           st.LastError,
		LastReason:          st.LastReason,
		LastAttemptAt:       rfc3339(st.LastAttemptAt),
		LastSuccessAt:       rfc3339(st.LastSuccessAt),
		NextRefreshAt:       rfc3339(st.NextRefreshAt),
		CachedItems:         st.CachedItems,
		LastUpdated:         st.LastUpdated,
		PublishedAt:         rfc3339(st.PublishedAt),
		UpstreamCert:        st.UpstreamCert,
	}
}

func rfc3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
