package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"xalpha/internal/model"
)

const (
	upsertSignalSQL = `INSERT INTO signals (
        id,
        author,
        avatar_url,
        raw_content,
        summary,
        assets,
        signal_type,
        sentiment,
        source_url,
        tags,
        created_at,
        published_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (id) DO UPDATE
    SET
        author       = EXCLUDED.author,
        avatar_url   = EXCLUDED.avatar_url,
        raw_content  = EXCLUDED.raw_content,
        summary      = EXCLUDED.summary,
        assets       = EXCLUDED.assets,
        signal_type  = EXCLUDED.signal_type,
        sentiment    = EXCLUDED.sentiment,
        source_url   = EXCLUDED.source_url,
        tags         = EXCLUDED.tags,
        published_at = EXCLUDED.published_at;`

	signalExistsSQL = `SELECT EXISTS (SELECT 1 FROM signals WHERE id = $1);`
	seenExistsSQL   = `SELECT EXISTS (SELECT 1 FROM seen_items WHERE id = $1);`

	markSeenSQL = `INSERT INTO seen_items (id, seen_at)
    SELECT UNNEST($1::text[]), NOW()
    ON CONFLICT (id) DO NOTHING;`

	countSignalsSQL = `SELECT COUNT(*), COALESCE(SUM(sentiment), 0) FROM signals;`

	countBySignalTypeSQL = `SELECT signal_type, COUNT(*) FROM signals GROUP BY signal_type;`

	listAuthorsSQL = `SELECT author, COUNT(*), MAX(created_at)
    FROM signals
    GROUP BY author
    ORDER BY COUNT(*) DESC, author;`

	upsertMetadataSQL = `INSERT INTO metadata (key, value, updated_at)
    VALUES ($1, $2, NOW())
    ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at;`

	selectMetadataSQL = `SELECT value FROM metadata WHERE key = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	assetMatch:  func(ph string) string { return ph + " = ANY(assets)" },
	timeArg:     func(t time.Time) any { return t.UTC() },
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
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
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Exists reports whether a signal with id is stored.
func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, signalExistsSQL, id)
}

// Seen reports whether id is in the seen ledger.
func (s *PostgresStore) Seen(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, seenExistsSQL, id)
}

func (s *PostgresStore) exists(ctx context.Context, query, id string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var found bool
	if scanErr := pool.QueryRow(ctx, query, id).Scan(&found); scanErr != nil {
		return false, fmt.Errorf("lookup %s: %w", id, scanErr)
	}
	return found, nil
}

// SaveSignal upserts a signal, keeping the first created_at.
func (s *PostgresStore) SaveSignal(ctx context.Context, signal model.Signal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSignalSQL,
		signal.ID,
		signal.Author,
		signal.AvatarURL,
		signal.RawContent,
		signal.Summary,
		nonNil(signal.Assets),
		string(signal.SignalType),
		signal.Sentiment,
		signal.SourceURL,
		nonNil(signal.Tags),
		signal.CreatedAt.UTC(),
		signal.PublishedAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert signal: %w", execErr)
	}
	return nil
}

// MarkSeen records ids in the seen ledger.
func (s *PostgresStore) MarkSeen(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markSeenSQL, ids); execErr != nil {
		return fmt.Errorf("mark seen: %w", execErr)
	}
	return nil
}

// QuerySignals lists signals matching q, newest first.
func (s *PostgresStore) QuerySignals(ctx context.Context, q Query) ([]model.Signal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query, args := buildSignalQuery(q, postgresDialect)
	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query signals: %w", queryErr)
	}
	defer rows.Close()

	signals := make([]model.Signal, 0)
	for rows.Next() {
		signal, scanErr := scanPostgresSignal(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		signals = append(signals, signal)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return signals, nil
}

// Stats aggregates signal counts and the checkpoint.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	pool, err := s.getPool()
	if err != nil {
		return Stats{}, err
	}

	var total, sum int64
	if scanErr := pool.QueryRow(ctx, countSignalsSQL).Scan(&total, &sum); scanErr != nil {
		return Stats{}, fmt.Errorf("count signals: %w", scanErr)
	}
	st := newStats(total, sum)

	rows, queryErr := pool.Query(ctx, countBySignalTypeSQL)
	if queryErr != nil {
		return Stats{}, fmt.Errorf("count by signal type: %w", queryErr)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			signalType string
			count      int64
		)
		if err := rows.Scan(&signalType, &count); err != nil {
			return Stats{}, err
		}
		st.BySignalType[model.SignalType(signalType)] = count
	}
	if rows.Err() != nil {
		return Stats{}, rows.Err()
	}

	st.LastScanTime, err = s.Checkpoint(ctx)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Authors lists per-author signal counts, most active first.
func (s *PostgresStore) Authors(ctx context.Context) ([]AuthorCount, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAuthorsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list authors: %w", queryErr)
	}
	defer rows.Close()

	authors := make([]AuthorCount, 0)
	for rows.Next() {
		var ac AuthorCount
		if err := rows.Scan(&ac.Author, &ac.Signals, &ac.LastSignalAt); err != nil {
			return nil, err
		}
		ac.LastSignalAt = ac.LastSignalAt.UTC()
		authors = append(authors, ac)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return authors, nil
}

// SetCheckpoint overwrites the last scan time.
func (s *PostgresStore) SetCheckpoint(ctx context.Context, t time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertMetadataSQL, checkpointKey, formatCheckpoint(t)); execErr != nil {
		return fmt.Errorf("set checkpoint: %w", execErr)
	}
	return nil
}

// Checkpoint returns the last scan time, or nil before the first cycle.
func (s *PostgresStore) Checkpoint(ctx context.Context) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var value string
	scanErr := pool.QueryRow(ctx, selectMetadataSQL, checkpointKey).Scan(&value)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read checkpoint: %w", scanErr)
	}
	return parseCheckpoint(value)
}

func scanPostgresSignal(rows pgx.Rows) (model.Signal, error) {
	var (
		signal     model.Signal
		signalType string
	)
	if err := rows.Scan(
		&signal.ID,
		&signal.Author,
		&signal.AvatarURL,
		&signal.RawContent,
		&signal.Summary,
		&signal.Assets,
		&signalType,
		&signal.Sentiment,
		&signal.SourceURL,
		&signal.Tags,
		&signal.CreatedAt,
		&signal.PublishedAt,
	); err != nil {
		return model.Signal{}, err
	}
	signal.SignalType = model.SignalType(signalType)
	signal.Assets = nonNil(signal.Assets)
	signal.Tags = nonNil(signal.Tags)
	signal.CreatedAt = signal.CreatedAt.UTC()
	signal.PublishedAt = signal.PublishedAt.UTC()
	return signal, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func formatCheckpoint(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseCheckpoint(value string) (*time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint %q: %w", value, err)
	}
	t = t.UTC()
	return &t, nil
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
