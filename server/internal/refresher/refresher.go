package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bazaarmirror/bazaarmirror/server/internal/market"
	"github.com/bazaarmirror/bazaarmirror/server/internal/store"
	"github.com/bazaarmirror/bazaarmirror/server/internal/upstream"
)

// State is the refresher's position in its cycle.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StatePublishing State = "publishing"
	StateBackoff    State = "backoff"
)

// ErrStale is returned when upstream reports a lastUpdated older than the
// snapshot already published. It also matches upstream.ErrValidation.
var ErrStale = errors.New("stale payload")

// Fetcher retrieves one upstream payload. *upstream.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context) (*upstream.Payload, error)
}

// Outcome describes one finished cycle.
type Outcome struct {
	// Result is "success" or a failure reason: timeout | transport | status |
	// validation | stale | shape | other.
	Result              string
	Duration            time.Duration
	CachedItems         int
	LastUpdated         int64
	ConsecutiveFailures int
}

// Observer receives the outcome of every cycle. *metrics.Registry satisfies it.
type Observer interface {
	ObserveRefresh(o Outcome)
}

// Status is a point-in-time view of the refresher.
type Status struct {
	State               State
	Interval            time.Duration
	Cycles              int64
	Successes           int64
	Failures            int64
	ConsecutiveFailures int
	LastError           string
	LastReason          string
	LastAttemptAt       time.Time
	LastSuccessAt       time.Time
	NextRefreshAt       time.Time
	CachedItems         int
	LastUpdated         int64
	PublishedAt         time.Time // wall clock of the last publish, zero before the first
	UpstreamCert        *upstream.CertStatus
}

// CertSource reports the latest upstream certificate check.
// *upstream.CertMonitor satisfies it.
type CertSource interface {
	Latest() *upstream.CertStatus
}

// Refresher periodically replaces the store's snapshot with fresh upstream data.
type Refresher struct {
	store    *store.Store
	fetcher  Fetcher
	timeout  time.Duration
	interval atomic.Int64 // time.Duration
	now      func() time.Time

	mu       sync.Mutex
	status   Status
	hooks    []func(Status)
	observer Observer
	certs    CertSource
}

// New creates a Refresher that publishes to st using f. interval is the pause
// between cycles and timeout bounds each fetch.
func New(st *store.Store, f Fetcher, interval, timeout time.Duration) *Refresher {
	r := &Refresher{
		store:   st,
		fetcher: f,
		timeout: timeout,
		now:     time.Now,
		status:  Status{State: StateIdle},
	}
	r.interval.Store(int64(interval))
	return r
}

// SetObserver registers the cycle observer. Call before Run.
func (r *Refresher) SetObserver(o Observer) {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

// SetCertSource attaches upstream certificate results to Status. Call before Run.
func (r *Refresher) SetCertSource(c CertSource) {
	r.mu.Lock()
	r.certs = c
	r.mu.Unlock()
}

// OnCycle registers fn to be called with the status after every cycle.
// Hooks run on the refresher goroutine and must not block.
func (r *Refresher) OnCycle(fn func(Status)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// SetInterval changes the pause between cycles. It takes effect after the
// current wait. Non-positive values are ignored.
func (r *Refresher) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	if old := time.Duration(r.interval.Swap(int64(d))); old != d {
		slog.Info("refresher: interval changed", "old", old, "new", d)
	}
}

// Interval returns the current pause between cycles.
func (r *Refresher) Interval() time.Duration {
	return time.Duration(r.interval.Load())
}

// Status returns a copy of the current status.
func (r *Refresher) Status() Status {
	r.mu.Lock()
	st := r.status
	certs := r.certs
	r.mu.Unlock()

	snap := r.store.Get()
	st.Interval = r.Interval()
	st.CachedItems = snap.Len()
	st.LastUpdated = snap.LastUpdated()
	st.PublishedAt = r.store.PublishedAt()
	if certs != nil {
		st.UpstreamCert = certs.Latest()
	}
	return st
}

// Run performs a cycle immediately and then one per interval. It blocks
// until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	slog.Info("refresher: started", "interval", r.Interval(), "timeout", r.timeout)
	for {
		r.Cycle(ctx) //nolint:errcheck // failures are logged and absorbed

		wait := r.Interval()
		r.mu.Lock()
		r.status.NextRefreshAt = r.now().Add(wait)
		r.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			slog.Info("refresher: stopped")
			return
		case <-t.C:
		}
	}
}

// Cycle runs one fetch/validate/publish pass. The returned error has already
// been logged; the previous snapshot stays current when it is non-nil.
func (r *Refresher) Cycle(ctx context.Context) error {
	start := r.now()
	r.mu.Lock()
	r.status.State = StateFetching
	r.status.LastAttemptAt = start
	r.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.refresh(fetchCtx)
	if err != nil && ctx.Err() != nil {
		// Shutting down: not a refresh failure.
		r.mu.Lock()
		r.status.State = StateIdle
		r.mu.Unlock()
		return ctx.Err()
	}
	r.finish(start, err)
	return err
}

func (r *Refresher) refresh(ctx context.Context) error {
	p, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	r.mu.Lock()
	r.status.State = StatePublishing
	r.mu.Unlock()

	if cur := r.store.Get().LastUpdated(); p.LastUpdated < cur {
		return fmt.Errorf("%w: %w: lastUpdated %d is older than current %d",
			upstream.ErrValidation, ErrStale, p.LastUpdated, cur)
	}

	snap, err := market.BuildSnapshot(p.Products, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	r.store.Publish(snap)
	return nil
}

// finish records the cycle outcome, logs it, and notifies observers and hooks.
func (r *Refresher) finish(start time.Time, err error) {
	end := r.now()
	snap := r.store.Get()

	r.mu.Lock()
	r.status.Cycles++
	out := Outcome{
		Duration:    end.Sub(start),
		CachedItems: snap.Len(),
		LastUpdated: snap.LastUpdated(),
	}
	if err != nil {
		r.status.State = StateBackoff
		r.status.Failures++
		r.status.ConsecutiveFailures++
		r.status.LastError = err.Error()
		r.status.LastReason = Reason(err)
		out.Result = r.status.LastReason
	} else {
		r.status.State = StateIdle
		r.status.Successes++
		r.status.ConsecutiveFailures = 0
		r.status.LastError = ""
		r.status.LastReason = ""
		r.status.LastSuccessAt = end
		out.Result = "success"
	}
	out.ConsecutiveFailures = r.status.ConsecutiveFailures
	st := r.status
	hooks := append([]func(Status){}, r.hooks...)
	observer := r.observer
	certs := r.certs
	r.mu.Unlock()

	st.Interval = r.Interval()
	st.CachedItems = out.CachedItems
	st.LastUpdated = out.LastUpdated
	if certs != nil {
		st.UpstreamCert = certs.Latest()
	}

	if err != nil {
		slog.Warn("refresher: refresh failed, keeping previous snapshot",
			"reason", out.Result,
			"err", err,
			"consecutive_failures", out.ConsecutiveFailures,
			"cached_items", out.CachedItems,
		)
	} else {
		slog.Info("refresher: cache updated",
			"items", out.CachedItems,
			"last_updated", out.LastUpdated,
			"duration", out.Duration,
		)
	}

	if observer != nil {
		observer.ObserveRefresh(out)
	}
	for _, fn := range hooks {
		fn(st)
	}
}

// Reason classifies a cycle error into a short, stable label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStale):
		return "stale"
	case errors.Is(err, market.ErrShape):
		return "shape"
	default:
		return upstream.Reason(err)
	}
}
