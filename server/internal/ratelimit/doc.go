// Package ratelimit applies per-client token buckets to the HTTP API.
//
// A Set holds two Limiters: Default (120 requests per minute per client) for
// every route, and Query (10 requests per second per client) for the search
// and item routes. Clients are keyed by the remote IP address. Idle buckets
// are evicted by Run, and Apply swaps limits in place on config reload.
package ratelimit
