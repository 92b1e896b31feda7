package syncer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"trade-sync/internal/fetcher"
	"trade-sync/internal/storage"
)

// Order-type and side labels on stored rows.
const (
	orderTypeLimit     = "LIMIT"
	orderTypeStopLimit = "STOP-LIMIT"
	sideBuy            = "BUY"
	sideSell           = "SELL"
)

// Transform normalizes raw exchange trades into stored rows. It is pure and
// order-preserving; cap enforcement happens upstream in the paginator.
func Transform(raws []fetcher.RawTrade) ([]storage.TradeRecord, error) {
	records := make([]storage.TradeRecord, 0, len(raws))
	for _, raw := range raws {
		record, err := transformOne(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func transformOne(raw fetcher.RawTrade) (storage.TradeRecord, error) {
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return storage.TradeRecord{}, fmt.Errorf("trade %d: parse price %q: %w", raw.ID, raw.Price, err)
	}

	commission, err := decimal.NewFromString(raw.Commission)
	if err != nil {
		return storage.TradeRecord{}, fmt.Errorf("trade %d: parse commission %q: %w", raw.ID, raw.Commission, err)
	}

	amount, err := strconv.ParseFloat(raw.Qty, 64)
	if err != nil {
		return storage.TradeRecord{}, fmt.Errorf("trade %d: parse qty %q: %w", raw.ID, raw.Qty, err)
	}

	orderType := orderTypeStopLimit
	if raw.IsMaker {
		orderType = orderTypeLimit
	}

	side := sideSell
	if raw.IsBuyer {
		side = sideBuy
	}

	return storage.TradeRecord{
		TradeID:    raw.ID,
		OrderID:    raw.OrderID,
		Date:       time.UnixMilli(raw.Time).UTC(),
		Pair:       raw.Symbol,
		OrderType:  orderType,
		Side:       side,
		Price:      price,
		Amount:     amount,
		Commission: commission,
		Total:      price.Mul(decimal.NewFromFloat(amount)),
	}, nil
}
