package syncer

import (
	"context"
	"testing"

	"trade-sync/internal/storage"
)

func TestRecomputeCountsNonEmptyAndDistinctPairs(t *testing.T) {
	group := storage.TrackedGroup{ID: 1, Name: "main"}
	store := newFakeStore(group)
	store.records[1] = []storage.TradeRecord{
		{TradeID: 1, Pair: "BTCUSDT"},
		{TradeID: 2, Pair: "BTCUSDT"},
		{TradeID: 3, Pair: "ETHUSDT"},
		{TradeID: 4, Pair: ""}, // blank pair entries are not counted
	}

	agg := NewStatsAggregator(store, store, noopLogger())
	stats, err := agg.Recompute(context.Background(), group)
	if err != nil {
		t.Fatalf("Recompute 不应报错: %v", err)
	}

	if stats.RecordCount != 3 {
		t.Fatalf("expected 3 counted records, got %d", stats.RecordCount)
	}
	if stats.DistinctPairs != 2 {
		t.Fatalf("expected 2 distinct pairs, got %d", stats.DistinctPairs)
	}
	if got := store.stats[1]; got != stats {
		t.Fatalf("stats not persisted: %+v", got)
	}
}

func TestHeartbeatOnlyTouchesLastSync(t *testing.T) {
	group := storage.TrackedGroup{ID: 1, Name: "main"}
	store := newFakeStore(group)

	agg := NewStatsAggregator(store, store, noopLogger())
	if err := agg.Heartbeat(context.Background(), group); err != nil {
		t.Fatalf("Heartbeat 不应报错: %v", err)
	}

	if store.touched[1].IsZero() {
		t.Fatal("heartbeat 必须更新 last-sync")
	}
	if _, updated := store.stats[1]; updated {
		t.Fatal("heartbeat 不应改动统计数字")
	}
}
