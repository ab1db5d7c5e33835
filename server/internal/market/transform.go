package market

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bazaarmirror/bazaarmirror/pkg/types"
)

// pricePlaces is the number of fractional digits kept on buy/sell prices.
const pricePlaces = 3

// rawProduct mirrors one entry of the upstream "products" object.
// Pointer fields distinguish an absent field from a zero value.
type rawProduct struct {
	QuickStatus *rawQuickStatus `json:"quick_status"`
}

type rawQuickStatus struct {
	BuyPrice       *float64 `json:"buyPrice"`
	SellPrice      *float64 `json:"sellPrice"`
	BuyVolume      *count   `json:"buyVolume"`
	SellVolume     *count   `json:"sellVolume"`
	BuyOrders      *count   `json:"buyOrders"`
	SellOrders     *count   `json:"sellOrders"`
	BuyMovingWeek  *count   `json:"buyMovingWeek"`
	SellMovingWeek *count   `json:"sellMovingWeek"`
}

// count is a volume or order count. Integral numbers written with a
// fraction or exponent (1.0, 1e3) are accepted; 1.5 is not.
type count int64

func (c *count) UnmarshalJSON(b []byte) error {
	d, err := decimal.NewFromString(string(b))
	if err != nil || !d.IsInteger() || !d.BigInt().IsInt64() {
		return &json.UnmarshalTypeError{Value: "number " + string(b), Type: reflect.TypeOf(int64(0))}
	}
	*c = count(d.IntPart())
	return nil
}

// RoundPrice rounds v to three fractional digits, half to even, on the
// shortest decimal representation of v (the precision upstream displays).
// Ties are decided on that decimal form, not on the binary value: 1.0015
// rounds to 1.002 here where binary rounding gives 1.001.
func RoundPrice(v float64) float64 {
	return decimal.NewFromFloat(v).RoundBank(pricePlaces).InexactFloat64()
}

// ToRecord converts one raw upstream entry into a ProductRecord. The id is
// uppercased. A missing or mistyped field yields a *ShapeError.
func ToRecord(id string, raw json.RawMessage) (types.ProductRecord, error) {
	itemID := strings.ToUpper(id)

	var p rawProduct
	if err := json.Unmarshal(raw, &p); err != nil {
		field := ""
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			field = ute.Field
		}
		return types.ProductRecord{}, &ShapeError{ItemID: itemID, Field: field, Err: err}
	}
	qs := p.QuickStatus
	if qs == nil {
		return types.ProductRecord{}, &ShapeError{ItemID: itemID, Field: "quick_status"}
	}

	missing := func(field string) (types.ProductRecord, error) {
		return types.ProductRecord{}, &ShapeError{ItemID: itemID, Field: "quick_status." + field}
	}
	switch {
	case qs.BuyPrice == nil:
		return missing("buyPrice")
	case qs.SellPrice == nil:
		return missing("sellPrice")
	case qs.BuyVolume == nil:
		return missing("buyVolume")
	case qs.SellVolume == nil:
		return missing("sellVolume")
	case qs.BuyOrders == nil:
		return missing("buyOrders")
	case qs.SellOrders == nil:
		return missing("sellOrders")
	case qs.BuyMovingWeek == nil:
		return missing("buyMovingWeek")
	case qs.SellMovingWeek == nil:
		return missing("sellMovingWeek")
	}

	return types.ProductRecord{
		ItemID:     itemID,
		BuyPrice:   RoundPrice(*qs.BuyPrice),
		SellPrice:  RoundPrice(*qs.SellPrice),
		BuyVolume:  int64(*qs.BuyVolume),
		SellVolume: int64(*qs.SellVolume),
		BuyOrders:  int64(*qs.BuyOrders),
		SellOrders: int64(*qs.SellOrders),
		WeeklyBuy:  int64(*qs.BuyMovingWeek),
		WeeklySell: int64(*qs.SellMovingWeek),
	}, nil
}

// BuildSnapshot transforms every product and returns a new Snapshot.
// It is all-or-nothing: the first malformed entry, or two ids that collide
// once uppercased, aborts the build and no snapshot is returned.
func BuildSnapshot(products map[string]json.RawMessage, lastUpdated int64) (*types.Snapshot, error) {
	records := make(map[string]types.ProductRecord, len(products))
	for id, raw := range products {
		rec, err := ToRecord(id, raw)
		if err != nil {
			return nil, err
		}
		if _, dup := records[rec.ItemID]; dup {
			return nil, &ShapeError{ItemID: rec.ItemID, Field: "id", Err: errors.New("duplicate id after case normalisation")}
		}
		records[rec.ItemID] = rec
	}
	return types.NewSnapshot(records, lastUpdated), nil
}
