package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trade-sync/internal/logging"
	"trade-sync/internal/storage"
)

// Status texts rendered into each group's status cell.
const (
	statusFetching = "fetching data.."
	statusDone     = "done / waiting"
)

func statusSaving(n int) string {
	return fmt.Sprintf("saving %d records..", n)
}

func statusError(err error) string {
	return "ERROR: " + err.Error()
}

// Notifier announces per-group synchronization failures. Optional.
type Notifier interface {
	NotifyGroupError(ctx context.Context, group string, cause error) error
}

// CoordinatorOptions tune pass-level locking behaviour.
type CoordinatorOptions struct {
	LockKey        int64
	LockRetries    int
	LockRetryDelay time.Duration
}

// Coordinator orchestrates one full synchronization pass across all tracked
// groups under the pass-wide advisory lock.
type Coordinator struct {
	groups    storage.GroupStore
	records   storage.RecordStore
	paginator *Paginator
	stats     *StatsAggregator
	locker    storage.AdvisoryLocker
	notifier  Notifier
	opts      CoordinatorOptions
	logger    zerolog.Logger
}

// NewCoordinator constructs a Coordinator. notifier may be nil.
func NewCoordinator(
	groups storage.GroupStore,
	records storage.RecordStore,
	paginator *Paginator,
	stats *StatsAggregator,
	locker storage.AdvisoryLocker,
	notifier Notifier,
	opts CoordinatorOptions,
	logger zerolog.Logger,
) *Coordinator {
	if opts.LockRetries <= 0 {
		opts.LockRetries = 5
	}
	return &Coordinator{
		groups:    groups,
		records:   records,
		paginator: paginator,
		stats:     stats,
		locker:    locker,
		notifier:  notifier,
		opts:      opts,
		logger:    logging.Component(logger, "coordinator"),
	}
}

// RunPass executes one synchronization pass. Concurrent invocations
// serialize on the advisory lock; when the bounded retry budget is exhausted
// the pass is skipped silently and the next trigger retries naturally.
// Group processing is strictly sequential to keep the total call rate within
// the provider's limit.
func (c *Coordinator) RunPass(ctx context.Context) error {
	unlock, acquired, err := c.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		c.logger.Warn().
			Int("retries", c.opts.LockRetries).
			Msg("pass lock busy after all retries, skipping this cycle")
		return nil
	}
	defer unlock()

	groups, err := c.groups.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	for _, group := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.syncGroup(ctx, group)
	}
	return nil
}

// acquireLock tries the pass lock with an explicit bounded retry loop.
func (c *Coordinator) acquireLock(ctx context.Context) (func(), bool, error) {
	for attempt := 1; attempt <= c.opts.LockRetries; attempt++ {
		unlock, acquired, err := c.locker.TryAdvisoryLock(ctx, c.opts.LockKey)
		if err != nil {
			return nil, false, fmt.Errorf("acquire pass lock: %w", err)
		}
		if acquired {
			return unlock, true, nil
		}

		c.logger.Debug().Int("attempt", attempt).Msg("pass lock busy")
		if attempt == c.opts.LockRetries {
			break
		}
		if err := sleepCtx(ctx, c.opts.LockRetryDelay); err != nil {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// syncGroup processes one group; its errors end up in the group's own status
// cell and never abort the rest of the pass.
func (c *Coordinator) syncGroup(ctx context.Context, group storage.TrackedGroup) {
	if err := c.processGroup(ctx, group); err != nil {
		c.logger.Error().Err(err).Str("group", group.Name).Msg("group sync failed")
		if statusErr := c.groups.UpdateGroupStatus(ctx, group.ID, statusError(err)); statusErr != nil {
			c.logger.Error().Err(statusErr).Str("group", group.Name).Msg("failed to record error status")
		}
		if c.notifier != nil {
			if notifyErr := c.notifier.NotifyGroupError(ctx, group.Name, err); notifyErr != nil {
				c.logger.Error().Err(notifyErr).Str("group", group.Name).Msg("failed to dispatch error notification")
			}
		}
	}
}

func (c *Coordinator) processGroup(ctx context.Context, group storage.TrackedGroup) error {
	if err := c.groups.UpdateGroupStatus(ctx, group.ID, statusFetching); err != nil {
		return err
	}

	raws, err := c.paginator.FetchGroup(ctx, group)
	if err != nil {
		return err
	}

	records, err := Transform(raws)
	if err != nil {
		return err
	}

	if err := c.groups.UpdateGroupStatus(ctx, group.ID, statusSaving(len(records))); err != nil {
		return err
	}

	if len(records) > 0 {
		if err := c.records.AppendRecords(ctx, group.ID, records); err != nil {
			return err
		}
	}

	if err := c.groups.UpdateGroupStatus(ctx, group.ID, statusDone); err != nil {
		return err
	}

	if len(records) > 0 {
		stats, err := c.stats.Recompute(ctx, group)
		if err != nil {
			return err
		}
		c.logger.Info().
			Str("group", group.Name).
			Int("appended", len(records)).
			Int64("total_records", stats.RecordCount).
			Int64("distinct_pairs", stats.DistinctPairs).
			Msg("group synchronized")
		return nil
	}

	if err := c.stats.Heartbeat(ctx, group); err != nil {
		return err
	}
	c.logger.Info().Str("group", group.Name).Msg("group up to date")
	return nil
}
