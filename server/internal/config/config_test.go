package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_EmptyPathDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Upstream.URL != DefaultUpstreamURL {
		t.Errorf("upstream.url: got %q", cfg.Upstream.URL)
	}
	if cfg.Upstream.Timeout != DefaultUpstreamTimeout {
		t.Errorf("upstream.timeout: got %v", cfg.Upstream.Timeout)
	}
	if cfg.Refresh.Interval != 300*time.Second {
		t.Errorf("refresh.interval: got %v, want 5m", cfg.Refresh.Interval)
	}
	if cfg.Upstream.CertCheckInterval != time.Hour {
		t.Errorf("upstream.cert_check_interval: got %v, want 1h", cfg.Upstream.CertCheckInterval)
	}
	if !cfg.Server.RateLimit.Enabled || cfg.Server.RateLimit.DefaultPerMinute != 120 || cfg.Server.RateLimit.QueryPerSecond != 10 {
		t.Errorf("rate_limit: got %+v", cfg.Server.RateLimit)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := writeConfig(t, `refresh:
  interval: 1m
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Refresh.Interval != time.Minute {
		t.Errorf("refresh.interval: got %v, want 1m", cfg.Refresh.Interval)
	}
	if cfg.Upstream.Timeout != DefaultUpstreamTimeout {
		t.Errorf("upstream.timeout: got %v, want default", cfg.Upstream.Timeout)
	}
	if cfg.Server.Stream.Interval != DefaultStreamInterval {
		t.Errorf("stream.interval: got %v, want default", cfg.Server.Stream.Interval)
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `server:
  http_port: 9091
  auth:
    mode: apikey
    key_env: MY_KEY
    header: x-bazaar-key
  rate_limit:
    enabled: false
    idle_ttl: 1m
  stream:
    interval: 2s
upstream:
  url: http://localhost:9999/bazaar
  timeout: 3s
  max_body_bytes: 1024
  key_env: UPSTREAM_KEY
  cert_check_interval: 0s
refresh:
  interval: 30s
alerts:
  rules:
    - name: refresh-failing
      condition: consecutive_failures >= 3
      severity: critical
      cooldown: 10m
  webhooks:
    - type: slack
      url_env: SLACK_URL
log:
  level: debug
  format: text
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", cfg.Server.HTTPPort)
	}
	if cfg.Server.Auth.EffectiveHeader() != "x-bazaar-key" {
		t.Errorf("header: got %q", cfg.Server.Auth.EffectiveHeader())
	}
	if cfg.Server.RateLimit.Enabled {
		t.Error("rate_limit.enabled: got true, want false")
	}
	if cfg.Upstream.URL != "http://localhost:9999/bazaar" || cfg.Upstream.Timeout != 3*time.Second {
		t.Errorf("upstream: got %+v", cfg.Upstream)
	}
	if cfg.Upstream.KeyHeader != DefaultUpstreamKeyHdr {
		t.Errorf("upstream.key_header: got %q, want default", cfg.Upstream.KeyHeader)
	}
	if cfg.Upstream.CertCheckInterval != 0 {
		t.Errorf("upstream.cert_check_interval: got %v, want 0 (disabled)", cfg.Upstream.CertCheckInterval)
	}
	if len(cfg.Alerts.Rules) != 1 || cfg.Alerts.Rules[0].Cooldown != 10*time.Minute {
		t.Errorf("alerts.rules: got %+v", cfg.Alerts.Rules)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("log level: got %v, want debug", cfg.Log.SlogLevel())
	}
}

func TestLoad_KeyEnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	t.Setenv("TEST_UPSTREAM_KEY", "upkey")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
upstream:
  key_env: TEST_UPSTREAM_KEY
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Auth.Key(): got %q, want supersecret", k)
	}
	if k := cfg.Upstream.Key(); k != "upkey" {
		t.Errorf("Upstream.Key(): got %q, want upkey", k)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"auth mode":      "server:\n  auth:\n    mode: oauth2\n",
		"port":           "server:\n  http_port: 70000\n",
		"upstream url":   "upstream:\n  url: not-a-url\n",
		"timeout":        "upstream:\n  timeout: -1s\n",
		"cert interval":  "upstream:\n  cert_check_interval: -1m\n",
		"interval":       "refresh:\n  interval: 0s\n",
		"rule condition": "alerts:\n  rules:\n    - name: x\n      condition: broken\n",
		"webhook type":   "alerts:\n  webhooks:\n    - type: pager\n",
		"log level":      "log:\n  level: loud\n",
		"bad yaml":       "server: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// startWatch runs Watch on p in the background and returns the channel of
// applied configs and a stop function that waits for Watch to return.
func startWatch(t *testing.T, p string) (<-chan *Config, func()) {
	t.Helper()
	initial, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, p, initial, func(c *Config) { got <- c })
	}()
	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	return got, func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Watch returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Watch did not return after cancel")
		}
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "refresh:\n  interval: 1m\n")
	got, stop := startWatch(t, p)
	defer stop()

	if err := os.WriteFile(p, []byte("refresh:\n  interval: 2m\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case c := <-got:
		if c.Refresh.Interval != 2*time.Minute {
			t.Errorf("refresh.interval: got %v, want 2m", c.Refresh.Interval)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatch_DebouncesBurst(t *testing.T) {
	p := writeConfig(t, "refresh:\n  interval: 1m\n")
	got, stop := startWatch(t, p)
	defer stop()

	for i := 2; i <= 5; i++ {
		body := fmt.Sprintf("refresh:\n  interval: %dm\n", i)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
	}

	select {
	case c := <-got:
		if c.Refresh.Interval != 5*time.Minute {
			t.Errorf("refresh.interval: got %v, want 5m (last write)", c.Refresh.Interval)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	select {
	case c := <-got:
		t.Errorf("second reload for one burst: %+v", c.Refresh)
	case <-time.After(4 * reloadDebounce):
	}
}

func TestWatch_RestartOnlyChangeNotApplied(t *testing.T) {
	p := writeConfig(t, "server:\n  http_port: 8080\n")
	got, stop := startWatch(t, p)
	defer stop()

	if err := os.WriteFile(p, []byte("server:\n  http_port: 9090\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case c := <-got:
		t.Errorf("onChange called for a restart-only change: port %d", c.Server.HTTPPort)
	case <-time.After(4 * reloadDebounce):
	}
}

func TestWatch_InvalidReloadKeepsPrevious(t *testing.T) {
	p := writeConfig(t, "refresh:\n  interval: 1m\n")
	got, stop := startWatch(t, p)
	defer stop()

	if err := os.WriteFile(p, []byte("refresh:\n  interval: -1m\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case c := <-got:
		t.Errorf("onChange called for an invalid config: %+v", c.Refresh)
	case <-time.After(4 * reloadDebounce):
	}
}

func TestDiff(t *testing.T) {
	prev := defaults()
	next := defaults()
	if c := Diff(prev, next); len(c.Live) != 0 || len(c.Restart) != 0 {
		t.Errorf("identical configs: got %+v", c)
	}

	next.Log.Level = "debug"
	next.Refresh.Interval = time.Minute
	next.Server.RateLimit.QueryPerSecond = 5
	next.Server.RateLimit.IdleTTL = time.Hour
	next.Server.HTTPPort = 9090
	next.Upstream.Timeout = time.Second
	next.Alerts.Rules = []AlertRule{{Name: "r", Condition: "failures > 1"}}

	c := Diff(prev, next)
	wantLive := []string{"log.level", "refresh.interval", "server.rate_limit"}
	wantRestart := []string{"server.http_port", "server.rate_limit.idle_ttl", "upstream", "alerts"}
	if !reflect.DeepEqual(c.Live, wantLive) {
		t.Errorf("Live: got %v, want %v", c.Live, wantLive)
	}
	if !reflect.DeepEqual(c.Restart, wantRestart) {
		t.Errorf("Restart: got %v, want %v", c.Restart, wantRestart)
	}
}
