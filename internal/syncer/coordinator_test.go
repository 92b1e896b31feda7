package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"trade-sync/internal/storage"
)

func newTestCoordinator(store *fakeStore, api *fakeFetcher, locker *fakeLocker, opts CoordinatorOptions) *Coordinator {
	paginator := newPaginator(store, api, 100)
	stats := NewStatsAggregator(store, store, noopLogger())
	return NewCoordinator(store, store, paginator, stats, locker, nil, opts, noopLogger())
}

func TestRunPassIsolatesGroupErrors(t *testing.T) {
	groupA := storage.TrackedGroup{ID: 1, Name: "alpha", Symbols: []string{"BTC"}, Ticker: "USDT"}
	groupB := storage.TrackedGroup{ID: 2, Name: "beta", Symbols: []string{"ETH"}, Ticker: "USDT"}
	store := newFakeStore(groupA, groupB)

	api := newFakeFetcher()
	api.errs["BTCUSDT"] = errors.New("request timed out")
	api.available["ETHUSDT"] = makeRawTrades("ETHUSDT", 1, 4)

	locker := &fakeLocker{}
	c := newTestCoordinator(store, api, locker, CoordinatorOptions{LockKey: 1, LockRetries: 5})

	if err := c.RunPass(context.Background()); err != nil {
		t.Fatalf("单组失败不应让整个 pass 报错: %v", err)
	}

	statusA := store.lastStatus(1)
	if !strings.HasPrefix(statusA, "ERROR: ") || !strings.Contains(statusA, "request timed out") {
		t.Fatalf("group A status should carry the error text, got %q", statusA)
	}
	if got := store.lastStatus(2); got != "done / waiting" {
		t.Fatalf("group B should complete: %q", got)
	}
	if len(store.records[2]) != 4 {
		t.Fatalf("group B records not appended: %d", len(store.records[2]))
	}
	if locker.releases != 1 {
		t.Fatalf("锁必须恰好释放一次, 实际 %d", locker.releases)
	}
}

func TestRunPassStatusSequence(t *testing.T) {
	group := storage.TrackedGroup{ID: 1, Name: "main", Symbols: []string{"BTC"}, Ticker: "USDT"}
	store := newFakeStore(group)
	api := newFakeFetcher()
	api.available["BTCUSDT"] = makeRawTrades("BTCUSDT", 1, 3)

	c := newTestCoordinator(store, api, &fakeLocker{}, CoordinatorOptions{LockKey: 1, LockRetries: 5})
	if err := c.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass 不应报错: %v", err)
	}

	want := []string{"fetching data..", "saving 3 records..", "done / waiting"}
	got := store.statuses[1]
	if len(got) != len(want) {
		t.Fatalf("expected %d status updates, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestRunPassRecomputesStats(t *testing.T) {
	group := storage.TrackedGroup{ID: 1, Name: "main", Symbols: []string{"BTC", "ETH"}, Ticker: "USDT"}
	store := newFakeStore(group)
	api := newFakeFetcher()
	api.available["BTCUSDT"] = makeRawTrades("BTCUSDT", 1, 3)
	api.available["ETHUSDT"] = makeRawTrades("ETHUSDT", 1, 5)

	c := newTestCoordinator(store, api, &fakeLocker{}, CoordinatorOptions{LockKey: 1, LockRetries: 5})
	if err := c.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass 不应报错: %v", err)
	}

	stats, ok := store.stats[1]
	if !ok {
		t.Fatal("非空批次后必须重新计算统计")
	}
	if stats.RecordCount != 8 {
		t.Fatalf("expected record count 8, got %d", stats.RecordCount)
	}
	if stats.DistinctPairs != 2 {
		t.Fatalf("expected 2 distinct pairs, got %d", stats.DistinctPairs)
	}
	if stats.LastSync.IsZero() {
		t.Fatal("last-sync timestamp missing")
	}
}

func TestRunPassHeartbeatOnEmptyBatch(t *testing.T) {
	group := storage.TrackedGroup{ID: 1, Name: "main", Symbols: []string{"BTC"}, Ticker: "USDT"}
	store := newFakeStore(group)
	api := newFakeFetcher() // nothing available

	c := newTestCoordinator(store, api, &fakeLocker{}, CoordinatorOptions{LockKey: 1, LockRetries: 5})
	if err := c.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass 不应报错: %v", err)
	}

	if _, recomputed := store.stats[1]; recomputed {
		t.Fatal("空批次不应触发统计重算")
	}
	if store.touched[1].IsZero() {
		t.Fatal("空批次也必须更新 last-sync 心跳")
	}
	if got := store.lastStatus(1); got != "done / waiting" {
		t.Fatalf("unexpected final status %q", got)
	}
}

func TestRunPassLockBusySkipsSilently(t *testing.T) {
	group := storage.TrackedGroup{ID: 1, Name: "main", Symbols: []string{"BTC"}, Ticker: "USDT"}
	store := newFakeStore(group)
	api := newFakeFetcher()

	locker := &fakeLocker{busyFor: 100}
	c := newTestCoordinator(store, api, locker, CoordinatorOptions{LockKey: 1, LockRetries: 5})

	if err := c.RunPass(context.Background()); err != nil {
		t.Fatalf("锁竞争耗尽应静默跳过, 不应报错: %v", err)
	}
	if locker.attempts != 5 {
		t.Fatalf("expected 5 acquisition attempts, got %d", locker.attempts)
	}
	if len(api.queries) != 0 {
		t.Fatal("未持锁时不得发起任何拉取")
	}
	if locker.releases != 0 {
		t.Fatalf("nothing to release, got %d releases", locker.releases)
	}
}

func TestRunPassRetriesLockThenRuns(t *testing.T) {
	group := storage.TrackedGroup{ID: 1, Name: "main", Symbols: []string{"BTC"}, Ticker: "USDT"}
	store := newFakeStore(group)
	api := newFakeFetcher()
	api.available["BTCUSDT"] = makeRawTrades("BTCUSDT", 1, 1)

	locker := &fakeLocker{busyFor: 2}
	c := newTestCoordinator(store, api, locker, CoordinatorOptions{LockKey: 1, LockRetries: 5})

	if err := c.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass 不应报错: %v", err)
	}
	if locker.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", locker.attempts)
	}
	if locker.releases != 1 {
		t.Fatalf("锁必须恰好释放一次, 实际 %d", locker.releases)
	}
	if len(store.records[1]) != 1 {
		t.Fatalf("records not appended after delayed acquisition: %d", len(store.records[1]))
	}
}

func TestRunPassReleasesLockOnListError(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection reset")
	locker := &fakeLocker{}

	c := newTestCoordinator(store, newFakeFetcher(), locker, CoordinatorOptions{LockKey: 1, LockRetries: 5})
	if err := c.RunPass(context.Background()); err == nil {
		t.Fatal("list groups 失败应向调用方报错")
	}
	if locker.releases != 1 {
		t.Fatalf("失败路径也必须释放锁, 实际 %d", locker.releases)
	}
}

func TestRunPassLockErrorPropagates(t *testing.T) {
	store := newFakeStore()
	locker := &fakeLocker{err: errors.New("pool exhausted")}

	c := newTestCoordinator(store, newFakeFetcher(), locker, CoordinatorOptions{LockKey: 1, LockRetries: 5})
	if err := c.RunPass(context.Background()); err == nil {
		t.Fatal("锁基础设施错误必须向上传播")
	}
	if locker.releases != 0 {
		t.Fatalf("no lock was held, got %d releases", locker.releases)
	}
}

func TestRunPassIdempotentResume(t *testing.T) {
	group := storage.TrackedGroup{ID: 1, Name: "main", Symbols: []string{"BTC"}, Ticker: "USDT"}
	store := newFakeStore(group)
	api := newFakeFetcher()
	api.available["BTCUSDT"] = makeRawTrades("BTCUSDT", 1, 3)

	c := newTestCoordinator(store, api, &fakeLocker{}, CoordinatorOptions{LockKey: 1, LockRetries: 5})
	if err := c.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass 不应报错: %v", err)
	}
	if len(store.records[1]) != 3 {
		t.Fatalf("expected 3 records after first pass, got %d", len(store.records[1]))
	}

	// Second pass: the remote returns the same window again. The anchor
	// record is requested via fromId and discarded, so nothing duplicates.
	if err := c.RunPass(context.Background()); err != nil {
		t.Fatalf("second pass 不应报错: %v", err)
	}

	last := api.queries[len(api.queries)-1]
	if last.FromID != 3 {
		t.Fatalf("second pass must resume from last trade id 3, got %d", last.FromID)
	}
	if len(store.records[1]) != 3 {
		t.Fatalf("重复运行不得产生重复行: %d", len(store.records[1]))
	}

	seen := make(map[int64]bool)
	for _, r := range store.records[1] {
		if seen[r.TradeID] {
			t.Fatalf("duplicate trade id %d", r.TradeID)
		}
		seen[r.TradeID] = true
	}
}
