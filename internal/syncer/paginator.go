package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trade-sync/internal/fetcher"
	"trade-sync/internal/logging"
	"trade-sync/internal/storage"
)

// PaginatorOptions tune the capped, rate-limited fetch across a group.
type PaginatorOptions struct {
	// MaxItems caps the records retrieved per pass across all of the
	// group's symbols combined.
	MaxItems int
	// CallDelay is the mandatory pause before every remote call. Omitting
	// it risks the provider's throttling response; it is a sequencing
	// requirement, not an optimisation.
	CallDelay time.Duration
}

// Paginator retrieves new trades for a whole group, cursor by cursor,
// within the global record cap.
type Paginator struct {
	api     fetcher.TradeFetcher
	cursors *CursorResolver
	opts    PaginatorOptions
	logger  zerolog.Logger
}

// NewPaginator constructs a Paginator.
func NewPaginator(api fetcher.TradeFetcher, cursors *CursorResolver, opts PaginatorOptions, logger zerolog.Logger) *Paginator {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 100
	}
	return &Paginator{
		api:     api,
		cursors: cursors,
		opts:    opts,
		logger:  logging.Component(logger, "paginator"),
	}
}

// FetchGroup iterates the group's pairs in declaration order and accumulates
// new trades up to the global cap. A failure on any pair aborts the whole
// group fetch; the coordinator records it in the group's status.
func (p *Paginator) FetchGroup(ctx context.Context, group storage.TrackedGroup) ([]fetcher.RawTrade, error) {
	pairs := group.Pairs()
	accumulated := make([]fetcher.RawTrade, 0, p.opts.MaxItems)

	for i, pair := range pairs {
		if len(accumulated) > p.opts.MaxItems {
			p.logger.Debug().
				Str("group", group.Name).
				Int("fetched", len(accumulated)).
				Int("skipped_pairs", len(pairs)-i).
				Msg("cap reached, skipping remaining pairs")
			break
		}

		cursor, err := p.cursors.Resolve(ctx, group, pair)
		if err != nil {
			return nil, err
		}

		limit := p.opts.MaxItems - len(accumulated)
		if cursor.Kind == CursorID {
			// The anchor record is included by the API's inclusive range
			// semantics and discarded below; ask for one extra.
			limit++
		}

		query := fetcher.TradeQuery{
			Symbol:  pair,
			Limit:   limit,
			Retries: len(pairs) - i,
			NoCache: true,
		}
		switch cursor.Kind {
		case CursorID:
			query.FromID = cursor.Value
		default:
			query.StartTime = cursor.Value
		}

		if err := sleepCtx(ctx, p.opts.CallDelay); err != nil {
			return nil, err
		}

		batch, err := p.api.MyTrades(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", pair, err)
		}

		if cursor.Kind == CursorID && len(batch) > 0 {
			batch = batch[1:]
		}

		p.logger.Debug().
			Str("group", group.Name).
			Str("pair", pair).
			Int("new", len(batch)).
			Msg("fetched pair batch")

		accumulated = append(accumulated, batch...)
	}

	if len(accumulated) > p.opts.MaxItems {
		accumulated = accumulated[:p.opts.MaxItems]
	}
	return accumulated, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
