// Package metrics exposes service counters in the Prometheus text format.
//
// Registry collects refresh outcomes (it implements refresher.Observer), HTTP
// request counts per route and status code, and rate-limit rejections.
// Gather builds client_model MetricFamily values; Handler encodes them with
// expfmt for GET /metrics.
//
// Exposed series:
//
//	bazaar_refresh_total{result}            counter
//	bazaar_refresh_duration_seconds         gauge (last cycle)
//	bazaar_cached_items                     gauge
//	bazaar_last_updated_millis              gauge
//	bazaar_consecutive_failures             gauge
//	bazaar_http_requests_total{route,code}  counter
//	bazaar_rate_limited_total{route}        counter
package metrics
