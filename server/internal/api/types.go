package api

import "github.com/bazaarmirror/bazaarmirror/server/internal/upstream"

// StatusResponse is the payload for GET /api/v1/status.
type StatusResponse struct {
	State               string               `json:"state"`
	IntervalSeconds     float64              `json:"interval_seconds"`
	Cycles              int64                `json:"cycles"`
	Successes           int64                `json:"successes"`
	Failures            int64                `json:"failures"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	LastError           string               `json:"last_error,omitempty"`
	LastReason          string               `json:"last_reason,omitempty"`
	LastAttemptAt       string               `json:"last_attempt_at,omitempty"` // RFC3339
	LastSuccessAt       string               `json:"last_success_at,omitempty"` // RFC3339
	NextRefreshAt       string               `json:"next_refresh_at,omitempty"` // RFC3339
	CachedItems         int                  `json:"cached_items"`
	LastUpdated         int64                `json:"last_updated"`
	PublishedAt         string               `json:"published_at,omitempty"` // RFC3339
	UpstreamCert        *upstream.CertStatus `json:"upstream_cert,omitempty"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
