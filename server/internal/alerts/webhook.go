package alerts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bazaarmirror/bazaarmirror/server/internal/refresher"
)

var errUnknownWebhook = errors.New("unknown webhook type")

// CacheContext is the refresher state captured when an alert changed state.
type CacheContext struct {
	State               string `json:"state"`
	CachedItems         int    `json:"cached_items"`
	LastUpdated         int64  `json:"last_updated"`
	LastReason          string `json:"last_reason,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

func cacheContextOf(st refresher.Status) CacheContext {
	return CacheContext{
		State:               string(st.State),
		CachedItems:         st.CachedItems,
		LastUpdated:         st.LastUpdated,
		LastReason:          st.LastReason,
		ConsecutiveFailures: st.ConsecutiveFailures,
	}
}

// notification is one alert transition queued for delivery.
type notification struct {
	Alert Alert
	Cache CacheContext
}

// event names the transition, e.g. "alert.firing".
func (n notification) event() string {
	return "alert." + n.Alert.State
}

// summary renders the cache context as one line for chat webhooks.
func (c CacheContext) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cache: %d items, last_updated %s, refresher %s", c.CachedItems, formatMillis(c.LastUpdated), c.State)
	if c.LastReason != "" {
		fmt.Fprintf(&b, ", last failure %s (%d in a row)", c.LastReason, c.ConsecutiveFailures)
	}
	return b.String()
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// deliver posts n to every configured target. Failures are logged per target.
func (e *Engine) deliver(n notification) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		body, err := encodeWebhook(wh.Type, n)
		if errors.Is(err, errUnknownWebhook) {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		if err == nil {
			err = e.post(url, body)
		}
		if err != nil {
			slog.Error("alerts: webhook delivery failed", "type", wh.Type, "rule", n.Alert.RuleName, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", n.Alert.RuleName, "event", n.event())
	}
}

func encodeWebhook(kind string, n notification) ([]byte, error) {
	var v interface{}
	switch kind {
	case "slack":
		v = slackBody(n)
	case "teams":
		v = teamsBody(n)
	case "http":
		v = httpBody(n)
	default:
		return nil, fmt.Errorf("%w %q", errUnknownWebhook, kind)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return body, nil
}

func slackBody(n notification) map[string]string {
	return map[string]string{
		"text": fmt.Sprintf("*%s* %s (%s)\n%s", severityLabel(n.Alert.Severity), n.Alert.Message, n.Alert.State, n.Cache.summary()),
	}
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func teamsBody(n notification) map[string]interface{} {
	facts := []teamsFact{
		{Name: "State", Value: n.Alert.State},
		{Name: "Cached items", Value: fmt.Sprint(n.Cache.CachedItems)},
		{Name: "Last updated", Value: formatMillis(n.Cache.LastUpdated)},
		{Name: "Refresher", Value: n.Cache.State},
	}
	if n.Cache.LastReason != "" {
		facts = append(facts, teamsFact{Name: "Last failure", Value: n.Cache.LastReason})
	}
	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(n.Alert.Severity),
		"summary":    n.Alert.RuleName,
		"title":      fmt.Sprintf("Bazaar cache alert: %s", n.Alert.RuleName),
		"text":       n.Alert.Message,
		"sections":   []map[string]interface{}{{"facts": facts}},
	}
}

// httpBody is the generic JSON shape: event, alert and cache context.
func httpBody(n notification) map[string]interface{} {
	return map[string]interface{}{
		"event": n.event(),
		"alert": n.Alert,
		"cache": n.Cache,
	}
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
