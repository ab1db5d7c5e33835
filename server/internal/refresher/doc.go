// Package refresher keeps the snapshot store fresh.
//
// Refresher.Run executes one cycle immediately, then one cycle per interval
// until ctx is cancelled. Cycles are strictly serial: the interval is waited
// after each cycle finishes, so a slow fetch never overlaps the next one.
//
// Each cycle moves through idle -> fetching -> publishing | backoff:
//   - fetch the upstream payload, bounded by the fetch timeout
//   - reject payloads older than the current snapshot (lastUpdated never regresses)
//   - build a complete snapshot (market.BuildSnapshot, all-or-nothing)
//   - publish it to the store
//
// Every failure is logged and absorbed; the previously published snapshot
// stays current until a later cycle succeeds. Observers and OnCycle hooks
// receive the outcome of every cycle (metrics, alerts, the websocket hub).
package refresher
