package market

import (
	"fmt"
	"strings"

	"github.com/bazaarmirror/bazaarmirror/pkg/types"
)

// SnapshotSource supplies the current snapshot. *store.Store satisfies it.
type SnapshotSource interface {
	Get() *types.Snapshot
}

// SearchResult is the answer to a substring search.
type SearchResult struct {
	Query       string                `json:"query"`
	Count       int                   `json:"count"`
	LastUpdated int64                 `json:"last_updated"`
	Results     []types.ProductRecord `json:"results"`
}

// LookupResult is the answer to an exact item lookup.
type LookupResult struct {
	LastUpdated int64               `json:"last_updated"`
	Data        types.ProductRecord `json:"data"`
}

// HealthSummary describes the size and age of the current snapshot.
type HealthSummary struct {
	CachedItems int   `json:"cached_items"`
	LastUpdated int64 `json:"last_updated"`
}

// Engine answers read-only queries. It never touches upstream and never
// mutates a snapshot. Engine is safe for concurrent use.
type Engine struct {
	src SnapshotSource
}

// NewEngine creates an Engine reading from src.
func NewEngine(src SnapshotSource) *Engine {
	return &Engine{src: src}
}

// Search returns every record whose id contains query, case-insensitively,
// in ascending id order. An empty query is rejected with ErrInvalidArgument.
func (e *Engine) Search(query string) (SearchResult, error) {
	if query == "" {
		return SearchResult{}, fmt.Errorf("%w: missing query", ErrInvalidArgument)
	}
	q := strings.ToUpper(query)

	snap := e.src.Get()
	results := make([]types.ProductRecord, 0)
	snap.Range(func(rec types.ProductRecord) bool {
		if strings.Contains(rec.ItemID, q) {
			results = append(results, rec)
		}
		return true
	})

	return SearchResult{
		Query:       q,
		Count:       len(results),
		LastUpdated: snap.LastUpdated(),
		Results:     results,
	}, nil
}

// Lookup returns the record whose id equals itemID, case-insensitively.
func (e *Engine) Lookup(itemID string) (LookupResult, error) {
	id := strings.ToUpper(itemID)

	snap := e.src.Get()
	rec, ok := snap.Get(id)
	if !ok {
		return LookupResult{}, fmt.Errorf("%w: item %q", ErrNotFound, id)
	}
	return LookupResult{LastUpdated: snap.LastUpdated(), Data: rec}, nil
}

// Health summarises the current snapshot. It never fails.
func (e *Engine) Health() HealthSummary {
	snap := e.src.Get()
	return HealthSummary{CachedItems: snap.Len(), LastUpdated: snap.LastUpdated()}
}
