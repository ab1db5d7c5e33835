// Package market turns upstream bazaar payloads into snapshots and answers
// read-only queries against them.
//
// transform.go converts one raw product entry into a types.ProductRecord and
// builds a whole snapshot all-or-nothing: a single malformed entry fails the
// build with a *ShapeError so the refresher keeps the previous snapshot.
//
// query.go provides Engine.Search, Engine.Lookup and Engine.Health. Every
// call reads exactly one snapshot handle from its source, so an answer never
// mixes records from two refreshes.
package market
