package upstream

import (
	"context"
	"crypto/tls"
	"log/slog"
	"math"
	"net"
	"net/url"
	"sync/atomic"
	"time"
)

const (
	certDialTimeout  = 10 * time.Second
	certExpiringDays = 30
)

// CertStatus describes the upstream's TLS leaf certificate.
type CertStatus struct {
	Endpoint  string    `json:"endpoint"`
	Status    string    `json:"status"` // valid | expiring | expired | unreachable
	DaysLeft  int       `json:"days_left"`
	Issuer    string    `json:"issuer,omitempty"`
	NotAfter  string    `json:"not_after,omitempty"` // RFC3339
	CheckedAt time.Time `json:"checked_at"`
}

// CheckCert dials the TLS endpoint of rawURL and describes its leaf
// certificate. It returns nil for non-HTTPS URLs.
func CheckCert(ctx context.Context, rawURL string, now time.Time) *CertStatus {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{Endpoint: u.Host, CheckedAt: now}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, certDialTimeout)
	defer cancel()

	// Only the expiry is inspected here; chain verification is the fetch
	// client's job, so an expired certificate is still reported as expired.
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName:         u.Hostname(),
			InsecureSkipVerify: true, //nolint:gosec
		},
	}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = "unreachable"
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = "unreachable"
		return cs
	}

	leaf := peerCerts[0]
	daysLeft := leaf.NotAfter.Sub(now).Hours() / 24

	cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		cs.Status = "expired"
	case daysLeft <= certExpiringDays:
		cs.Status = "expiring"
	default:
		cs.Status = "valid"
	}
	return cs
}

// CertMonitor periodically checks the upstream certificate and keeps the
// latest result.
type CertMonitor struct {
	url      string
	interval time.Duration
	latest   atomic.Pointer[CertStatus]
	check    func(ctx context.Context, rawURL string, now time.Time) *CertStatus
}

// NewCertMonitor creates a monitor for rawURL checking every interval.
func NewCertMonitor(rawURL string, interval time.Duration) *CertMonitor {
	return &CertMonitor{url: rawURL, interval: interval, check: CheckCert}
}

// Latest returns the most recent result, or nil before the first check or
// when the upstream is not HTTPS.
func (m *CertMonitor) Latest() *CertStatus {
	return m.latest.Load()
}

// CheckNow runs one check and stores its result.
func (m *CertMonitor) CheckNow(ctx context.Context) *CertStatus {
	cs := m.check(ctx, m.url, time.Now())
	if cs == nil {
		return nil
	}
	m.latest.Store(cs)
	if cs.Status != "valid" {
		slog.Warn("upstream: certificate needs attention",
			"endpoint", cs.Endpoint,
			"status", cs.Status,
			"days_left", cs.DaysLeft,
		)
	} else {
		slog.Debug("upstream: certificate checked", "endpoint", cs.Endpoint, "days_left", cs.DaysLeft)
	}
	return cs
}

// Run checks immediately and then every interval until ctx is cancelled.
// A non-positive interval or a non-HTTPS URL makes Run return at once.
func (m *CertMonitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	if m.CheckNow(ctx) == nil {
		return
	}
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.CheckNow(ctx)
		}
	}
}
