package syncer

import (
	"context"
	"fmt"

	"trade-sync/internal/storage"
)

// CursorKind discriminates the two resume positions.
type CursorKind int

const (
	// CursorID resumes from the last stored trade id for the pair.
	CursorID CursorKind = iota
	// CursorTime resumes from a fixed epoch floor; only ever used when no
	// record exists for the pair.
	CursorTime
)

// epochFloor is the exchange's public launch date, 2017-01-01T00:00:00Z,
// expressed in seconds.
const epochFloor int64 = 1483228800

// Cursor is the per-pair resume position for incremental fetching.
type Cursor struct {
	Kind  CursorKind
	Value int64
}

// CursorResolver derives resume positions from the store's own latest
// content, so a failed pass can never corrupt them.
type CursorResolver struct {
	records storage.RecordStore
}

// NewCursorResolver constructs a resolver over the given record store.
func NewCursorResolver(records storage.RecordStore) *CursorResolver {
	return &CursorResolver{records: records}
}

// Resolve returns the cursor for one pair within a group: an ID cursor at
// the most recent stored trade id, or the epoch-floor TIME cursor when the
// pair has never been stored. Absence is a normal first-run condition.
func (r *CursorResolver) Resolve(ctx context.Context, group storage.TrackedGroup, pair string) (Cursor, error) {
	last, err := r.records.LastRecord(ctx, group.ID, pair)
	if err != nil {
		return Cursor{}, fmt.Errorf("resolve cursor for %s: %w", pair, err)
	}
	if last == nil {
		return Cursor{Kind: CursorTime, Value: epochFloor}, nil
	}
	return Cursor{Kind: CursorID, Value: last.TradeID}, nil
}
