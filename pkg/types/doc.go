// Package types defines the market data model shared by the refresher, the
// query engine and the HTTP API: ProductRecord (one item's normalised quote)
// and Snapshot (an immutable, point-in-time set of records plus the upstream
// lastUpdated timestamp).
package types
