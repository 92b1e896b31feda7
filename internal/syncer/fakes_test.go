package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trade-sync/internal/fetcher"
	"trade-sync/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeStore implements storage.RecordStore and storage.GroupStore in memory.
type fakeStore struct {
	groups   []storage.TrackedGroup
	records  map[int64][]storage.TradeRecord
	statuses map[int64][]string
	stats    map[int64]storage.GroupStats
	touched  map[int64]time.Time

	listErr   error
	appendErr error
	lastErr   error
}

func newFakeStore(groups ...storage.TrackedGroup) *fakeStore {
	return &fakeStore{
		groups:   groups,
		records:  make(map[int64][]storage.TradeRecord),
		statuses: make(map[int64][]string),
		stats:    make(map[int64]storage.GroupStats),
		touched:  make(map[int64]time.Time),
	}
}

func (s *fakeStore) ListGroups(ctx context.Context) ([]storage.TrackedGroup, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.groups, nil
}

func (s *fakeStore) UpdateGroupStatus(ctx context.Context, groupID int64, status string) error {
	s.statuses[groupID] = append(s.statuses[groupID], status)
	return nil
}

func (s *fakeStore) UpdateGroupStats(ctx context.Context, groupID int64, stats storage.GroupStats) error {
	s.stats[groupID] = stats
	return nil
}

func (s *fakeStore) TouchGroup(ctx context.Context, groupID int64, at time.Time) error {
	s.touched[groupID] = at
	return nil
}

func (s *fakeStore) LastRecord(ctx context.Context, groupID int64, pair string) (*storage.TradeRecord, error) {
	if s.lastErr != nil {
		return nil, s.lastErr
	}
	rows := s.records[groupID]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Pair == pair {
			record := rows[i]
			return &record, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) AppendRecords(ctx context.Context, groupID int64, records []storage.TradeRecord) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records[groupID] = append(s.records[groupID], records...)
	return nil
}

func (s *fakeStore) PairCounts(ctx context.Context, groupID int64) (int64, int64, error) {
	var total int64
	distinct := make(map[string]struct{})
	for _, r := range s.records[groupID] {
		if r.Pair == "" {
			continue
		}
		total++
		distinct[r.Pair] = struct{}{}
	}
	return total, int64(len(distinct)), nil
}

func (s *fakeStore) lastStatus(groupID int64) string {
	history := s.statuses[groupID]
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1]
}

// fakeFetcher serves scripted per-symbol trades and records every query.
type fakeFetcher struct {
	available   map[string][]fetcher.RawTrade
	errs        map[string]error
	queries     []fetcher.TradeQuery
	ignoreLimit bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		available: make(map[string][]fetcher.RawTrade),
		errs:      make(map[string]error),
	}
}

func (f *fakeFetcher) MyTrades(ctx context.Context, query fetcher.TradeQuery) ([]fetcher.RawTrade, error) {
	f.queries = append(f.queries, query)
	if err := f.errs[query.Symbol]; err != nil {
		return nil, err
	}
	trades := f.available[query.Symbol]
	if query.FromID > 0 {
		// Inclusive range semantics: the anchor trade itself comes back.
		filtered := make([]fetcher.RawTrade, 0, len(trades))
		for _, tr := range trades {
			if tr.ID >= query.FromID {
				filtered = append(filtered, tr)
			}
		}
		trades = filtered
	}
	if !f.ignoreLimit && query.Limit > 0 && len(trades) > query.Limit {
		trades = trades[:query.Limit]
	}
	return trades, nil
}

// fakeLocker counts acquisition attempts and releases.
type fakeLocker struct {
	busyFor  int
	attempts int
	releases int
	err      error
}

func (l *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	l.attempts++
	if l.err != nil {
		return nil, false, l.err
	}
	if l.attempts <= l.busyFor {
		return nil, false, nil
	}
	return func() { l.releases++ }, true, nil
}

func makeRawTrades(symbol string, firstID int64, n int) []fetcher.RawTrade {
	trades := make([]fetcher.RawTrade, n)
	for i := range trades {
		trades[i] = fetcher.RawTrade{
			Symbol:     symbol,
			ID:         firstID + int64(i),
			OrderID:    (firstID + int64(i)) * 10,
			Price:      "100.50",
			Qty:        "2",
			Commission: fmt.Sprintf("0.%03d", i+1),
			Time:       1600000000000 + int64(i)*1000,
			IsBuyer:    i%2 == 0,
			IsMaker:    i%2 == 0,
		}
	}
	return trades
}
