package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bazaarmirror/bazaarmirror/server/internal/config"
)

// Payload is a validated upstream response. Products are still raw; package
// market turns them into records.
type Payload struct {
	LastUpdated int64
	Products    map[string]json.RawMessage
}

// rawResponse mirrors the top-level upstream JSON. Pointer fields
// distinguish an absent field from a zero value.
type rawResponse struct {
	Success     *bool                      `json:"success"`
	LastUpdated *int64                     `json:"lastUpdated"`
	Products    map[string]json.RawMessage `json:"products"`
	Cause       string                     `json:"cause"`
}

// Client fetches the bazaar payload. It builds its http.Client once and
// reuses it across refresh cycles.
type Client struct {
	url     string
	maxBody int64
	client  *http.Client
}

// New returns a Client for the given upstream configuration.
func New(cfg config.UpstreamConfig) *Client {
	return &Client{
		url:     cfg.URL,
		maxBody: cfg.MaxBodyBytes,
		client: &http.Client{
			Transport: &headerRoundTripper{base: http.DefaultTransport, cfg: cfg},
			Timeout:   cfg.Timeout,
		},
	}
}

// headerRoundTripper injects the user agent and optional API key into every
// outgoing request.
type headerRoundTripper struct {
	base http.RoundTripper
	cfg  config.UpstreamConfig
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", "application/json")
	if t.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", t.cfg.UserAgent)
	}
	if key := t.cfg.Key(); key != "" && t.cfg.KeyHeader != "" {
		req.Header.Set(t.cfg.KeyHeader, key)
	}
	return t.base.RoundTrip(req)
}

// Fetch performs one GET against the upstream URL and returns the validated
// payload. The call is bounded by ctx and by the configured client timeout.
func (c *Client) Fetch(ctx context.Context) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrValidation, c.maxBody)
	}
	return Decode(bytes.NewReader(body))
}

// Decode parses and validates an upstream response body. The body must hold
// exactly one JSON object; anything after it but whitespace is rejected.
func Decode(r io.Reader) (*Payload, error) {
	var raw rawResponse
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrValidation, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after json body", ErrValidation)
	}
	switch {
	case raw.Success == nil:
		return nil, fmt.Errorf("%w: success flag missing", ErrValidation)
	case !*raw.Success:
		if raw.Cause != "" {
			return nil, fmt.Errorf("%w: success=false: %s", ErrValidation, raw.Cause)
		}
		return nil, fmt.Errorf("%w: success=false", ErrValidation)
	case raw.LastUpdated == nil:
		return nil, fmt.Errorf("%w: lastUpdated missing", ErrValidation)
	case raw.Products == nil:
		return nil, fmt.Errorf("%w: products missing", ErrValidation)
	}
	return &Payload{LastUpdated: *raw.LastUpdated, Products: raw.Products}, nil
}
