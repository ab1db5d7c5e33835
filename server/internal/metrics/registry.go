package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/bazaarmirror/bazaarmirror/server/internal/refresher"
)

const namespace = "bazaar_"

type requestKey struct {
	route string
	code  int
}

// Registry is a fixed set of service metrics. It is safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	refreshTotal        map[string]float64
	refreshDuration     float64
	cachedItems         float64
	lastUpdated         float64
	consecutiveFailures float64

	requests    map[requestKey]float64
	rateLimited map[string]float64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		refreshTotal: make(map[string]float64),
		requests:     make(map[requestKey]float64),
		rateLimited:  make(map[string]float64),
	}
}

// ObserveRefresh records one refresh cycle.
func (r *Registry) ObserveRefresh(o refresher.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshTotal[o.Result]++
	r.refreshDuration = o.Duration.Seconds()
	r.cachedItems = float64(o.CachedItems)
	r.lastUpdated = float64(o.LastUpdated)
	r.consecutiveFailures = float64(o.ConsecutiveFailures)
}

// ObserveRequest counts one served HTTP request.
func (r *Registry) ObserveRequest(route string, code int) {
	r.mu.Lock()
	r.requests[requestKey{route: route, code: code}]++
	r.mu.Unlock()
}

// ObserveRateLimited counts one request rejected by the rate limiter.
func (r *Registry) ObserveRateLimited(route string) {
	r.mu.Lock()
	r.rateLimited[route]++
	r.mu.Unlock()
}

// Gather returns the current metric families sorted by name. Counter
// families without samples are omitted.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*dto.MetricFamily

	if len(r.refreshTotal) > 0 {
		mf := family("refresh_total", "Refresh cycles by result.", dto.MetricType_COUNTER)
		for _, result := range sortedKeys(r.refreshTotal) {
			mf.Metric = append(mf.Metric, counter(r.refreshTotal[result], "result", result))
		}
		out = append(out, mf)
	}

	out = append(out,
		gaugeFamily("refresh_duration_seconds", "Duration of the last refresh cycle.", r.refreshDuration),
		gaugeFamily("cached_items", "Records in the current snapshot.", r.cachedItems),
		gaugeFamily("last_updated_millis", "Upstream lastUpdated of the current snapshot.", r.lastUpdated),
		gaugeFamily("consecutive_failures", "Refresh failures since the last success.", r.consecutiveFailures),
	)

	if len(r.requests) > 0 {
		keys := make([]requestKey, 0, len(r.requests))
		for k := range r.requests {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].route != keys[j].route {
				return keys[i].route < keys[j].route
			}
			return keys[i].code < keys[j].code
		})
		mf := family("http_requests_total", "HTTP requests by route and status code.", dto.MetricType_COUNTER)
		for _, k := range keys {
			mf.Metric = append(mf.Metric, counter(r.requests[k], "code", strconv.Itoa(k.code), "route", k.route))
		}
		out = append(out, mf)
	}

	if len(r.rateLimited) > 0 {
		mf := family("rate_limited_total", "Requests rejected by the rate limiter.", dto.MetricType_COUNTER)
		for _, route := range sortedKeys(r.rateLimited) {
			mf.Metric = append(mf.Metric, counter(r.rateLimited[route], "route", route))
		}
		out = append(out, mf)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range r.Gather() {
			if err := enc.Encode(mf); err != nil {
				return
			}
		}
	})
}

// --- helpers ----------------------------------------------------------------

func family(name, help string, t dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(namespace + name),
		Help: proto.String(help),
		Type: t.Enum(),
	}
}

func gaugeFamily(name, help string, v float64) *dto.MetricFamily {
	mf := family(name, help, dto.MetricType_GAUGE)
	mf.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}}
	return mf
}

// counter builds a counter sample. labels are name/value pairs, already
// sorted by name.
func counter(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Counter: &dto.Counter{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	return m
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
