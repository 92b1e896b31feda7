package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createGroupsTableSQL = `CREATE TABLE IF NOT EXISTS tracked_groups (
        id             bigserial PRIMARY KEY,
        name           text NOT NULL UNIQUE,
        symbols        text[] NOT NULL,
        ticker         text NOT NULL,
        status         text NOT NULL DEFAULT '',
        last_run       timestamptz,
        record_count   bigint NOT NULL DEFAULT 0,
        distinct_pairs bigint NOT NULL DEFAULT 0
    );`

	createRecordsTableSQL = `CREATE TABLE IF NOT EXISTS trade_records (
        seq        bigserial PRIMARY KEY,
        group_id   bigint NOT NULL REFERENCES tracked_groups(id) ON DELETE CASCADE,
        trade_id   bigint NOT NULL,
        order_id   bigint NOT NULL,
        trade_date timestamptz NOT NULL,
        pair       text NOT NULL,
        order_type text NOT NULL,
        side       text NOT NULL,
        price      numeric NOT NULL,
        amount     double precision NOT NULL,
        commission numeric NOT NULL,
        total      numeric NOT NULL,
        UNIQUE (group_id, trade_id)
    );`

	createRecordsIndexSQL = `CREATE INDEX IF NOT EXISTS trade_records_group_pair_seq_idx
    ON trade_records (group_id, pair, seq DESC);`

	upsertGroupSQL = `INSERT INTO tracked_groups (name, symbols, ticker)
    VALUES ($1, $2, $3)
    ON CONFLICT (name) DO UPDATE
    SET symbols = EXCLUDED.symbols,
        ticker  = EXCLUDED.ticker
    RETURNING id, name, symbols, ticker, status, last_run, record_count, distinct_pairs;`

	listGroupsSQL = `SELECT
        id, name, symbols, ticker, status, last_run, record_count, distinct_pairs
    FROM tracked_groups
    ORDER BY id;`

	updateGroupStatusSQL = `UPDATE tracked_groups SET status = $2 WHERE id = $1;`

	updateGroupStatsSQL = `UPDATE tracked_groups
    SET record_count = $2, distinct_pairs = $3, last_run = $4
    WHERE id = $1;`

	touchGroupSQL = `UPDATE tracked_groups SET last_run = $2 WHERE id = $1;`

	lastRecordSQL = `SELECT
        seq, trade_id, order_id, trade_date, pair, order_type, side,
        price::text, amount, commission::text, total::text
    FROM trade_records
    WHERE group_id = $1 AND pair = $2
    ORDER BY seq DESC
    LIMIT 1;`

	insertRecordSQL = `INSERT INTO trade_records (
        group_id, trade_id, order_id, trade_date, pair, order_type, side,
        price, amount, commission, total
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (group_id, trade_id) DO NOTHING;`

	pairCountsSQL = `SELECT
        COUNT(*) FILTER (WHERE pair <> ''),
        COUNT(DISTINCT pair) FILTER (WHERE pair <> '')
    FROM trade_records
    WHERE group_id = $1;`

	listRecentRecordsSQL = `SELECT
        seq, trade_id, order_id, trade_date, pair, order_type, side,
        price::text, amount, commission::text, total::text
    FROM trade_records
    WHERE group_id = $1
    ORDER BY seq DESC
    LIMIT $2;`

	listRecordsBetweenSQL = `SELECT
        seq, trade_id, order_id, trade_date, pair, order_type, side,
        price::text, amount, commission::text, total::text
    FROM trade_records
    WHERE group_id = $1
      AND trade_date >= $2
      AND trade_date < $3
    ORDER BY seq;`

	trimRecordsSQL = `DELETE FROM trade_records
    WHERE group_id = $1
      AND seq <= (
        SELECT seq FROM trade_records
        WHERE group_id = $1
        ORDER BY seq DESC
        OFFSET $2 LIMIT 1
      );`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// GroupStore defines operations on tracked group rows.
type GroupStore interface {
	ListGroups(ctx context.Context) ([]TrackedGroup, error)
	UpdateGroupStatus(ctx context.Context, groupID int64, status string) error
	UpdateGroupStats(ctx context.Context, groupID int64, stats GroupStats) error
	TouchGroup(ctx context.Context, groupID int64, at time.Time) error
}

// RecordStore defines operations on the append-only trade rows.
type RecordStore interface {
	LastRecord(ctx context.Context, groupID int64, pair string) (*TradeRecord, error)
	AppendRecords(ctx context.Context, groupID int64, records []TradeRecord) error
	PairCounts(ctx context.Context, groupID int64) (total int64, distinct int64, err error)
}

// AdvisoryLocker exposes the pass-wide mutual exclusion helper.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to groups, trade rows, and the advisory lock.
type Store struct {
	pool    *pgxpool.Pool
	maxRows int
}

// StoreOption tunes Store behaviour.
type StoreOption func(*Store)

// WithMaxRows enables row-capacity trimming: after each append only the
// newest n rows per group are retained. Zero disables trimming.
func WithMaxRows(n int) StoreOption {
	return func(s *Store) { s.maxRows = n }
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables and indexes the engine writes to.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createGroupsTableSQL, createRecordsTableSQL, createRecordsIndexSQL} {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("ensure schema: %w", execErr)
		}
	}
	return nil
}

// UpsertGroup registers a declared group, updating symbols and ticker while
// preserving status, stats, and the last-run timestamp.
func (s *Store) UpsertGroup(ctx context.Context, name string, symbols []string, ticker string) (TrackedGroup, error) {
	pool, err := s.getPool()
	if err != nil {
		return TrackedGroup{}, err
	}
	row := pool.QueryRow(ctx, upsertGroupSQL, name, symbols, ticker)
	group, scanErr := scanGroupRow(row)
	if scanErr != nil {
		return TrackedGroup{}, fmt.Errorf("upsert group: %w", scanErr)
	}
	return group, nil
}

// ListGroups returns all tracked groups in declaration order.
func (s *Store) ListGroups(ctx context.Context) ([]TrackedGroup, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listGroupsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list groups: %w", queryErr)
	}
	defer rows.Close()

	groups := make([]TrackedGroup, 0)
	for rows.Next() {
		group, scanErr := scanGroupRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		groups = append(groups, group)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return groups, nil
}

// UpdateGroupStatus writes the group's free-text status cell.
func (s *Store) UpdateGroupStatus(ctx context.Context, groupID int64, status string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateGroupStatusSQL, groupID, status); execErr != nil {
		return fmt.Errorf("update group status: %w", execErr)
	}
	return nil
}

// UpdateGroupStats writes recomputed counters and the last-sync timestamp.
func (s *Store) UpdateGroupStats(ctx context.Context, groupID int64, stats GroupStats) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateGroupStatsSQL, groupID, stats.RecordCount, stats.DistinctPairs, stats.LastSync); execErr != nil {
		return fmt.Errorf("update group stats: %w", execErr)
	}
	return nil
}

// TouchGroup moves only the last-sync timestamp; the heartbeat for passes
// that found nothing new.
func (s *Store) TouchGroup(ctx context.Context, groupID int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, touchGroupSQL, groupID, at); execErr != nil {
		return fmt.Errorf("touch group: %w", execErr)
	}
	return nil
}

// LastRecord returns the most recently appended record for a pair, or nil
// when the pair has never been stored. First runs hit the nil path.
func (s *Store) LastRecord(ctx context.Context, groupID int64, pair string) (*TradeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, lastRecordSQL, groupID, pair)
	record, scanErr := scanRecordRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last record: %w", scanErr)
	}
	return &record, nil
}

// AppendRecords inserts records in order. Inserts are pipelined but not
// wrapped in a transaction: a partial append is safe because cursors are
// derived from what was durably stored. Duplicate trade ids are skipped.
func (s *Store) AppendRecords(ctx context.Context, groupID int64, records []TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insertRecordSQL,
			groupID,
			r.TradeID,
			r.OrderID,
			r.Date,
			r.Pair,
			r.OrderType,
			r.Side,
			r.Price.String(),
			r.Amount,
			r.Commission.String(),
			r.Total.String(),
		)
	}

	results := pool.SendBatch(ctx, batch)
	for range records {
		if _, execErr := results.Exec(); execErr != nil {
			_ = results.Close()
			return fmt.Errorf("append records: %w", execErr)
		}
	}
	if closeErr := results.Close(); closeErr != nil {
		return fmt.Errorf("append records: %w", closeErr)
	}

	if s.maxRows > 0 {
		if _, execErr := pool.Exec(ctx, trimRecordsSQL, groupID, s.maxRows); execErr != nil {
			return fmt.Errorf("trim records: %w", execErr)
		}
	}
	return nil
}

// PairCounts scans the stored pair column: total non-empty entries and
// distinct pair values.
func (s *Store) PairCounts(ctx context.Context, groupID int64) (int64, int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, 0, err
	}
	var total, distinct int64
	if scanErr := pool.QueryRow(ctx, pairCountsSQL, groupID).Scan(&total, &distinct); scanErr != nil {
		return 0, 0, fmt.Errorf("pair counts: %w", scanErr)
	}
	return total, distinct, nil
}

// ListRecentRecords returns the newest records first.
func (s *Store) ListRecentRecords(ctx context.Context, groupID int64, limit int) ([]TradeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRecordsSQL, groupID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent records: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows, limit)
}

// ListRecordsBetween returns records whose trade date falls in [from, to).
func (s *Store) ListRecordsBetween(ctx context.Context, groupID int64, from, to time.Time) ([]TradeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecordsBetweenSQL, groupID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list records between: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows, 0)
}

// TryAdvisoryLock attempts to acquire the pass-wide postgres advisory lock
// and returns a release func. The lock pins its session until released.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Unlock is best effort; releasing the session drops the lock anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func collectRecords(rows pgx.Rows, sizeHint int) ([]TradeRecord, error) {
	records := make([]TradeRecord, 0, sizeHint)
	for rows.Next() {
		record, scanErr := scanRecordRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanGroupRow(row pgx.Row) (TrackedGroup, error) {
	var g TrackedGroup
	if err := row.Scan(
		&g.ID,
		&g.Name,
		&g.Symbols,
		&g.Ticker,
		&g.Status,
		&g.LastRun,
		&g.RecordCount,
		&g.DistinctPairs,
	); err != nil {
		return TrackedGroup{}, err
	}
	return g, nil
}

func scanRecordRow(row pgx.Row) (TradeRecord, error) {
	var (
		r             TradeRecord
		priceStr      string
		commissionStr string
		totalStr      string
	)

	if err := row.Scan(
		&r.Seq,
		&r.TradeID,
		&r.OrderID,
		&r.Date,
		&r.Pair,
		&r.OrderType,
		&r.Side,
		&priceStr,
		&r.Amount,
		&commissionStr,
		&totalStr,
	); err != nil {
		return TradeRecord{}, err
	}

	var convErr error
	r.Price, convErr = decimal.NewFromString(priceStr)
	if convErr != nil {
		return TradeRecord{}, fmt.Errorf("parse price: %w", convErr)
	}
	r.Commission, convErr = decimal.NewFromString(commissionStr)
	if convErr != nil {
		return TradeRecord{}, fmt.Errorf("parse commission: %w", convErr)
	}
	r.Total, convErr = decimal.NewFromString(totalStr)
	if convErr != nil {
		return TradeRecord{}, fmt.Errorf("parse total: %w", convErr)
	}

	return r, nil
}
