package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trade-sync/internal/logging"
	"trade-sync/internal/storage"
)

// StatsAggregator recomputes a group's derived counters from the full stored
// set. The counters are never read back as input to fetching.
type StatsAggregator struct {
	records storage.RecordStore
	groups  storage.GroupStore
	logger  zerolog.Logger
	now     func() time.Time
}

// NewStatsAggregator constructs an aggregator over the given stores.
func NewStatsAggregator(records storage.RecordStore, groups storage.GroupStore, logger zerolog.Logger) *StatsAggregator {
	return &StatsAggregator{
		records: records,
		groups:  groups,
		logger:  logging.Component(logger, "stats"),
		now:     time.Now,
	}
}

// Recompute counts stored rows and distinct pairs for the group and writes
// them back together with a fresh last-sync timestamp. Invoked only after a
// non-empty append batch.
func (a *StatsAggregator) Recompute(ctx context.Context, group storage.TrackedGroup) (storage.GroupStats, error) {
	total, distinct, err := a.records.PairCounts(ctx, group.ID)
	if err != nil {
		return storage.GroupStats{}, fmt.Errorf("recompute stats: %w", err)
	}

	stats := storage.GroupStats{
		RecordCount:   total,
		DistinctPairs: distinct,
		LastSync:      a.now().UTC(),
	}
	if err := a.groups.UpdateGroupStats(ctx, group.ID, stats); err != nil {
		return storage.GroupStats{}, err
	}

	a.logger.Debug().
		Str("group", group.Name).
		Int64("records", stats.RecordCount).
		Int64("pairs", stats.DistinctPairs).
		Msg("stats recomputed")
	return stats, nil
}

// Heartbeat moves only the last-sync timestamp. It distinguishes "ran,
// found nothing new" from "never ran".
func (a *StatsAggregator) Heartbeat(ctx context.Context, group storage.TrackedGroup) error {
	return a.groups.TouchGroup(ctx, group.ID, a.now().UTC())
}
