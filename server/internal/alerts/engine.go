package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bazaarmirror/bazaarmirror/server/internal/config"
	"github.com/bazaarmirror/bazaarmirror/server/internal/refresher"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Engine evaluates alert rules against refresher status and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: rule name
	lastFire map[string]time.Time // last fire time per rule (for cooldown)
	history  []*Alert             // recently resolved alerts
	pending  sync.WaitGroup
}

// New creates an Engine from the alert configuration.
// An Engine with empty rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
}

// Evaluate tests all configured rules against st. It has the signature of a
// refresher cycle hook. Webhook delivery happens asynchronously.
func (e *Engine) Evaluate(st refresher.Status) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	cache := cacheContextOf(st)
	var outgoing []notification

	e.mu.Lock()
	for _, rule := range e.rules {
		fires, value := evalCondition(rule.Condition, st, now)
		a, firing := e.active[rule.Name]

		switch {
		case fires && !firing:
			cooldown := rule.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if last, ok := e.lastFire[rule.Name]; ok && now.Sub(last) < cooldown {
				continue
			}
			sev := rule.Severity
			if sev == "" {
				sev = "warning"
			}
			a = &Alert{
				ID:       fmt.Sprintf("%s:%d", rule.Name, now.UnixNano()),
				RuleName: rule.Name,
				Severity: sev,
				Value:    value,
				Message:  fmt.Sprintf("[%s] %s fired: %s (value %.2f)", sev, rule.Name, rule.Condition, value),
				FiredAt:  now,
				State:    "firing",
			}
			e.active[rule.Name] = a
			e.lastFire[rule.Name] = now
			outgoing = append(outgoing, notification{Alert: *a, Cache: cache})

			slog.Warn("alerts: alert fired",
				"rule", rule.Name,
				"value", value,
				"severity", sev,
			)

		case fires && firing:
			a.Value = value

		case !fires && firing:
			resolved := now
			a.State = "resolved"
			a.ResolvedAt = &resolved
			delete(e.active, rule.Name)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			outgoing = append(outgoing, notification{Alert: *a, Cache: cache})

			slog.Info("alerts: alert resolved", "rule", rule.Name)
		}
	}
	e.mu.Unlock()

	for _, n := range outgoing {
		n := n
		e.pending.Add(1)
		go func() {
			defer e.pending.Done()
			e.deliver(n)
		}()
	}
}

// Wait blocks until in-flight webhook deliveries have finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}
