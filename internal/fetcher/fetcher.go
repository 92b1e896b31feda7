package fetcher

import (
	"context"
)

// RawTrade is an exchange-supplied account trade, consumed and discarded
// after transformation.
type RawTrade struct {
	Symbol          string `json:"symbol"`
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
	IsMaker         bool   `json:"isMaker"`
	IsBestMatch     bool   `json:"isBestMatch"`
}

// TradeQuery parameterises one account-trade request. Exactly one of FromID
// and StartTime acts as the resume filter: FromID when it is positive,
// StartTime otherwise.
type TradeQuery struct {
	Symbol    string
	Limit     int
	FromID    int64
	StartTime int64
	// Retries is the extra attempt budget for this call.
	Retries int
	// NoCache requests bypass of any intermediate response cache; the data
	// is account-specific and time-sensitive.
	NoCache bool
}

// TradeFetcher retrieves a user's historical trades for one symbol.
type TradeFetcher interface {
	MyTrades(ctx context.Context, query TradeQuery) ([]RawTrade, error)
}
