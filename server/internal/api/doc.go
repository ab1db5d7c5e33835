// Package api implements the HTTP API of the bazaar cache.
//
// New(query, status, alerts, limits) returns an http.Handler that serves:
//
//	GET /search?q=       case-insensitive substring search over item ids
//	GET /item/{id}       exact lookup; 404 {"error":"Item not found"}
//	GET /health          {cached_items, last_updated}
//	GET /api/v1/status   refresher state, counters and timestamps
//	GET /api/v1/alerts   firing and recently resolved alerts
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//   - Are rate limited per client when limits is non-nil (search and item use
//     the tighter query limiter)
//
// WithRequestID and WithLogging (middleware.go) wrap the whole server mux.
// JSON types are defined in types.go. No external HTTP framework is used.
package api
