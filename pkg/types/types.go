package types

import "sort"

// ProductRecord is one tradable item's normalised upstream quote.
// Prices are already rounded to three fractional digits.
type ProductRecord struct {
	ItemID     string  `json:"item_id"`
	BuyPrice   float64 `json:"buy_price"`
	SellPrice  float64 `json:"sell_price"`
	BuyVolume  int64   `json:"buy_volume"`
	SellVolume int64   `json:"sell_volume"`
	BuyOrders  int64   `json:"buy_orders"`
	SellOrders int64   `json:"sell_orders"`
	WeeklyBuy  int64   `json:"weekly_buy"`
	WeeklySell int64   `json:"weekly_sell"`
}

// Snapshot is an immutable mapping from item id to ProductRecord, paired with
// the upstream lastUpdated timestamp (epoch millis, 0 if never populated).
//
// A Snapshot must be built with NewSnapshot and is never modified afterwards,
// so a reader holding a *Snapshot needs no further synchronisation.
type Snapshot struct {
	records     map[string]ProductRecord
	keys        []string // sorted
	lastUpdated int64
}

// NewSnapshot copies records into a new Snapshot. Keys are used as given;
// callers normalise them to uppercase before building.
func NewSnapshot(records map[string]ProductRecord, lastUpdated int64) *Snapshot {
	s := &Snapshot{
		records:     make(map[string]ProductRecord, len(records)),
		keys:        make([]string, 0, len(records)),
		lastUpdated: lastUpdated,
	}
	for id, rec := range records {
		s.records[id] = rec
		s.keys = append(s.keys, id)
	}
	sort.Strings(s.keys)
	return s
}

// EmptySnapshot returns the never-populated snapshot installed at startup.
func EmptySnapshot() *Snapshot {
	return NewSnapshot(nil, 0)
}

// LastUpdated returns the upstream timestamp the snapshot was built from.
func (s *Snapshot) LastUpdated() int64 { return s.lastUpdated }

// Len returns the number of records held.
func (s *Snapshot) Len() int { return len(s.records) }

// Get returns the record for id. The lookup is exact; id must already be
// uppercase.
func (s *Snapshot) Get(id string) (ProductRecord, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Range calls fn for every record in ascending key order until fn returns false.
func (s *Snapshot) Range(fn func(ProductRecord) bool) {
	for _, id := range s.keys {
		if !fn(s.records[id]) {
			return
		}
	}
}
