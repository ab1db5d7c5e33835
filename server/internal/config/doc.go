// Package config loads and watches the service configuration (config.yaml).
//
// Top-level sections:
//   - server: http_port, auth (apikey|none), rate_limit, stream interval
//   - upstream: market-data URL, fetch timeout, body cap, optional API key
//   - refresh: interval between refresh cycles (default 5m)
//   - alerts: rules evaluated against the refresher status, webhooks
//   - log: level and format of the process logger
//
// Load(path) applies defaults before unmarshalling, then validates. An empty
// path returns the validated defaults.
//
// Watch(ctx, path, current, onChange) watches the file's directory with
// fsnotify, waits for a burst of writes to settle, reloads, and calls onChange
// only when a live setting (log.level, refresh.interval, rate limits)
// changed. Diff reports which changed settings need a restart instead.
package config
