package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrackedGroup is one declared synchronization target: an ordered set of
// base symbols quoted against a common ticker, sharing one status line and
// one stats region.
type TrackedGroup struct {
	ID            int64
	Name          string
	Symbols       []string
	Ticker        string
	Status        string
	LastRun       *time.Time
	RecordCount   int64
	DistinctPairs int64
}

// Pairs returns the full trading pairs in declaration order.
func (g TrackedGroup) Pairs() []string {
	pairs := make([]string, len(g.Symbols))
	for i, s := range g.Symbols {
		pairs[i] = s + g.Ticker
	}
	return pairs
}

// TradeRecord is one stored, immutable trade row. Seq reflects insertion
// order: fetch order, chronological ascending per symbol batch.
type TradeRecord struct {
	Seq        int64
	TradeID    int64
	OrderID    int64
	Date       time.Time
	Pair       string
	OrderType  string
	Side       string
	Price      decimal.Decimal
	Amount     float64
	Commission decimal.Decimal
	Total      decimal.Decimal
}

// GroupStats are derived counters, recomputed from the full stored set
// after each non-empty append batch.
type GroupStats struct {
	RecordCount   int64
	DistinctPairs int64
	LastSync      time.Time
}
