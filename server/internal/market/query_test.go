package market

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bazaarmirror/bazaarmirror/pkg/types"
)

// staticSource is a SnapshotSource backed by an atomic pointer, mirroring
// the production store without importing it.
type staticSource struct {
	p     atomic.Pointer[types.Snapshot]
	calls atomic.Int64
}

func newSource(s *types.Snapshot) *staticSource {
	src := &staticSource{}
	src.p.Store(s)
	return src
}

func (s *staticSource) Get() *types.Snapshot {
	s.calls.Add(1)
	return s.p.Load()
}

func rec(id string, buy float64) types.ProductRecord {
	return types.ProductRecord{ItemID: id, BuyPrice: buy, SellPrice: buy - 1, BuyVolume: 10}
}

func sampleSnapshot() *types.Snapshot {
	return types.NewSnapshot(map[string]types.ProductRecord{
		"ENCHANTED_COAL":       rec("ENCHANTED_COAL", 12.346),
		"COAL":                 rec("COAL", 2.1),
		"ENCHANTED_COAL_BLOCK": rec("ENCHANTED_COAL_BLOCK", 2000),
		"DIAMOND":              rec("DIAMOND", 8.5),
		"ENCHANTED_DIAMOND":    rec("ENCHANTED_DIAMOND", 1300.25),
	}, 1700000000000)
}

func TestSearch_EmptyQuery(t *testing.T) {
	for _, s := range []*types.Snapshot{types.EmptySnapshot(), sampleSnapshot()} {
		src := newSource(s)
		e := NewEngine(src)
		_, err := e.Search("")
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Search(\"\"): got %v, want ErrInvalidArgument", err)
		}
		if src.calls.Load() != 0 {
			t.Errorf("Search(\"\") read the snapshot %d times, want 0", src.calls.Load())
		}
	}
}

func TestSearch_CaseInsensitiveSorted(t *testing.T) {
	e := NewEngine(newSource(sampleSnapshot()))
	res, err := e.Search("coal")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Query != "COAL" {
		t.Errorf("Query: got %q, want COAL", res.Query)
	}
	want := []string{"COAL", "ENCHANTED_COAL", "ENCHANTED_COAL_BLOCK"}
	if res.Count != len(want) || len(res.Results) != len(want) {
		t.Fatalf("Count: got %d (%d results), want %d", res.Count, len(res.Results), len(want))
	}
	for i, id := range want {
		if res.Results[i].ItemID != id {
			t.Errorf("Results[%d]: got %q, want %q", i, res.Results[i].ItemID, id)
		}
	}
	if res.LastUpdated != 1700000000000 {
		t.Errorf("LastUpdated: got %d", res.LastUpdated)
	}
}

func TestSearch_NoMatch_EmptyNotNil(t *testing.T) {
	e := NewEngine(newSource(sampleSnapshot()))
	res, err := e.Search("emerald")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Results == nil {
		t.Error("Results: got nil, want empty slice")
	}
	if res.Count != 0 {
		t.Errorf("Count: got %d, want 0", res.Count)
	}
}

func TestSearch_EmptySnapshot(t *testing.T) {
	e := NewEngine(newSource(types.EmptySnapshot()))
	res, err := e.Search("coal")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Count != 0 || res.LastUpdated != 0 {
		t.Errorf("got count=%d last_updated=%d, want 0/0", res.Count, res.LastUpdated)
	}
}

func TestLookup_CaseInsensitive(t *testing.T) {
	e := NewEngine(newSource(sampleSnapshot()))
	lower, err := e.Lookup("enchanted_coal")
	if err != nil {
		t.Fatalf("Lookup(lower): %v", err)
	}
	upper, err := e.Lookup("ENCHANTED_COAL")
	if err != nil {
		t.Fatalf("Lookup(upper): %v", err)
	}
	if lower != upper {
		t.Errorf("lookup mismatch: %+v vs %+v", lower, upper)
	}
	if lower.Data.BuyPrice != 12.346 {
		t.Errorf("BuyPrice: got %v, want 12.346", lower.Data.BuyPrice)
	}
}

func TestLookup_NotFound(t *testing.T) {
	for _, s := range []*types.Snapshot{types.EmptySnapshot(), sampleSnapshot()} {
		e := NewEngine(newSource(s))
		if _, err := e.Lookup("EMERALD"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Lookup(EMERALD): got %v, want ErrNotFound", err)
		}
	}
}

func TestHealth(t *testing.T) {
	e := NewEngine(newSource(types.EmptySnapshot()))
	if got := e.Health(); got != (HealthSummary{}) {
		t.Errorf("Health on initial state: got %+v, want zero", got)
	}

	e = NewEngine(newSource(sampleSnapshot()))
	got := e.Health()
	if got.CachedItems != 5 || got.LastUpdated != 1700000000000 {
		t.Errorf("Health: got %+v", got)
	}
}

// TestSearch_ConcurrentPublish checks that a search racing a publish sees
// either the old or the new snapshot in full.
func TestSearch_ConcurrentPublish(t *testing.T) {
	gen := func(g int64) *types.Snapshot {
		recs := make(map[string]types.ProductRecord, 40)
		for i := 0; i < 40; i++ {
			id := fmt.Sprintf("ITEM_%02d", i)
			recs[id] = types.ProductRecord{ItemID: id, BuyVolume: g}
		}
		return types.NewSnapshot(recs, g)
	}

	src := newSource(gen(1))
	e := NewEngine(src)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				res, err := e.Search("item")
				if err != nil {
					t.Errorf("Search: %v", err)
					return
				}
				if res.Count != 40 {
					t.Errorf("Count: got %d, want 40", res.Count)
					return
				}
				for _, r := range res.Results {
					if r.BuyVolume != res.LastUpdated {
						t.Errorf("torn read: record gen %d in snapshot %d", r.BuyVolume, res.LastUpdated)
						return
					}
				}
			}
		}()
	}
	for g := int64(2); g < 100; g++ {
		src.p.Store(gen(g))
	}
	wg.Wait()
}
