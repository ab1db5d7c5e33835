// Package upstream fetches the raw bazaar payload from the market-data API.
//
// Client.Fetch performs one bounded HTTP GET and validates the top-level
// response shape (success flag, lastUpdated, products). Individual product
// entries are left as json.RawMessage for package market to transform.
//
// Failures are classified for the refresher and the metrics layer:
//   - ErrTransport: network errors and timeouts (IsTimeout reports the latter)
//   - *StatusError: non-2xx responses; also matches ErrTransport
//   - ErrValidation: malformed body, success != true, missing fields
//
// CertMonitor periodically inspects the upstream TLS certificate so that an
// expiring certificate shows up in the refresher status and alert rules
// before fetches start failing.
package upstream
