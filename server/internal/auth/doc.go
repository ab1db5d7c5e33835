// Package auth provides API key middleware for the bazaar HTTP API.
//
// APIKey(mode, header, key) returns middleware that checks the named request
// header against the configured key. When mode != "apikey" or key == "",
// every request passes through (local development with auth disabled). A
// missing or incorrect key is answered with 401 and a JSON error body.
//
// Exempt paths (the health probe and metrics scrape) always pass so that
// orchestrators and Prometheus work without credentials.
package auth
