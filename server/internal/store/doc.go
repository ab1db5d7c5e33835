// Package store holds the single current market Snapshot.
//
// Get and Publish are backed by an atomic pointer: readers never block on a
// publish, and a reader that already holds a *types.Snapshot keeps a
// consistent view no matter how many publishes happen afterwards. Publish is
// called by the refresher only, one call at a time.
package store
