package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bazaarmirror/bazaarmirror/pkg/types"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// snapOf builds a snapshot of n records whose BuyVolume all equal gen, so a
// reader can detect a mix of two generations.
func snapOf(n int, gen int64) *types.Snapshot {
	recs := make(map[string]types.ProductRecord, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("ITEM_%03d", i)
		recs[id] = types.ProductRecord{ItemID: id, BuyVolume: gen}
	}
	return types.NewSnapshot(recs, gen)
}

func TestNew_Empty(t *testing.T) {
	st := New()
	s := st.Get()
	if s == nil {
		t.Fatal("Get: got nil snapshot")
	}
	if s.Len() != 0 || s.LastUpdated() != 0 {
		t.Errorf("initial snapshot: got len=%d last_updated=%d, want 0/0", s.Len(), s.LastUpdated())
	}
	if !st.PublishedAt().IsZero() {
		t.Errorf("PublishedAt before publish: got %v, want zero", st.PublishedAt())
	}
}

func TestPublish_Replaces(t *testing.T) {
	st := New()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	st.now = fixedClock(now)

	st.Publish(snapOf(3, 100))

	if got := st.Get().LastUpdated(); got != 100 {
		t.Errorf("LastUpdated: got %d, want 100", got)
	}
	if got := st.Get().Len(); got != 3 {
		t.Errorf("Len: got %d, want 3", got)
	}
	if !st.PublishedAt().Equal(now) {
		t.Errorf("PublishedAt: got %v, want %v", st.PublishedAt(), now)
	}
}

func TestPublish_NilIgnored(t *testing.T) {
	st := New()
	st.Publish(snapOf(1, 5))
	st.Publish(nil)
	if got := st.Get().LastUpdated(); got != 5 {
		t.Errorf("LastUpdated after nil publish: got %d, want 5", got)
	}
}

func TestHeldHandle_UnaffectedByPublish(t *testing.T) {
	st := New()
	st.Publish(snapOf(2, 1))
	held := st.Get()

	st.Publish(snapOf(5, 2))

	if held.Len() != 2 || held.LastUpdated() != 1 {
		t.Errorf("held handle changed: len=%d last_updated=%d", held.Len(), held.LastUpdated())
	}
}

func TestConcurrentReaders_NeverSeeTornSnapshot(t *testing.T) {
	st := New()
	st.Publish(snapOf(50, 1))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 16)

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := st.Get()
				gen := s.LastUpdated()
				s.Range(func(rec types.ProductRecord) bool {
					if rec.BuyVolume != gen {
						select {
						case errs <- fmt.Sprintf("record %s gen %d in snapshot %d", rec.ItemID, rec.BuyVolume, gen):
						default:
						}
						return false
					}
					return true
				})
			}
		}()
	}

	for gen := int64(2); gen < 200; gen++ {
		st.Publish(snapOf(50, gen))
	}
	close(stop)
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}
