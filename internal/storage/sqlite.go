package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"xalpha/internal/config"
	"xalpha/internal/model"
)

// sqliteTimeLayout is fixed width so stored timestamps order lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

const (
	sqliteUpsertSignalSQL = `INSERT INTO signals (
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
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
    ON CONFLICT (id) DO UPDATE
    SET
        author       = excluded.author,
        avatar_url   = excluded.avatar_url,
        raw_content  = excluded.raw_content,
        summary      = excluded.summary,
        assets       = excluded.assets,
        signal_type  = excluded.signal_type,
        sentiment    = excluded.sentiment,
        source_url   = excluded.source_url,
        tags         = excluded.tags,
        published_at = excluded.published_at;`

	sqliteSignalExistsSQL = `SELECT EXISTS (SELECT 1 FROM signals WHERE id = ?);`
	sqliteSeenExistsSQL   = `SELECT EXISTS (SELECT 1 FROM seen_items WHERE id = ?);`
	sqliteMarkSeenSQL     = `INSERT OR IGNORE INTO seen_items (id, seen_at) VALUES (?, ?);`

	sqliteCountSignalsSQL      = `SELECT COUNT(*), COALESCE(SUM(sentiment), 0) FROM signals;`
	sqliteCountBySignalTypeSQL = `SELECT signal_type, COUNT(*) FROM signals GROUP BY signal_type;`
	sqliteListAuthorsSQL       = `SELECT author, COUNT(*), MAX(created_at)
    FROM signals
    GROUP BY author
    ORDER BY COUNT(*) DESC, author;`

	sqliteUpsertMetadataSQL = `INSERT INTO metadata (key, value, updated_at)
    VALUES (?, ?, ?)
    ON CONFLICT (key) DO UPDATE
    SET value = excluded.value, updated_at = excluded.updated_at;`
	sqliteSelectMetadataSQL = `SELECT value FROM metadata WHERE key = ?;`
)

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	assetMatch: func(ph string) string {
		return "EXISTS (SELECT 1 FROM json_each(signals.assets) WHERE json_each.value = " + ph + ")"
	},
	timeArg: func(t time.Time) any { return formatSQLiteTime(t) },
}

// SQLiteStore is the local file Store on the pure-Go sqlite driver.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database file at cfg.Path.
func OpenSQLite(cfg config.DatabaseConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; callers never hold rows across queries
	db.SetMaxOpenConns(1)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, path: cfg.Path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, sqliteSignalExistsSQL, id)
}

func (s *SQLiteStore) Seen(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, sqliteSeenExistsSQL, id)
}

func (s *SQLiteStore) exists(ctx context.Context, query, id string) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	var found bool
	if scanErr := db.QueryRowContext(ctx, query, id).Scan(&found); scanErr != nil {
		return false, fmt.Errorf("lookup %s: %w", id, scanErr)
	}
	return found, nil
}

// SaveSignal upserts a signal, keeping the first created_at.
func (s *SQLiteStore) SaveSignal(ctx context.Context, signal model.Signal) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	assets, err := json.Marshal(nonNil(signal.Assets))
	if err != nil {
		return fmt.Errorf("encode assets: %w", err)
	}
	tags, err := json.Marshal(nonNil(signal.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, execErr := db.ExecContext(ctx, sqliteUpsertSignalSQL,
		signal.ID,
		signal.Author,
		signal.AvatarURL,
		signal.RawContent,
		signal.Summary,
		string(assets),
		string(signal.SignalType),
		signal.Sentiment,
		signal.SourceURL,
		string(tags),
		formatSQLiteTime(signal.CreatedAt),
		formatSQLiteTime(signal.PublishedAt),
	)
	if execErr != nil {
		return fmt.Errorf("upsert signal: %w", execErr)
	}
	return nil
}

// MarkSeen records ids in the seen ledger in one transaction.
func (s *SQLiteStore) MarkSeen(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark seen: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteMarkSeenSQL)
	if err != nil {
		return fmt.Errorf("prepare mark seen: %w", err)
	}
	defer stmt.Close()

	now := formatSQLiteTime(time.Now())
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, now); err != nil {
			return fmt.Errorf("mark seen %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark seen: %w", err)
	}
	return nil
}

// QuerySignals lists signals matching q, newest first.
func (s *SQLiteStore) QuerySignals(ctx context.Context, q Query) ([]model.Signal, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	query, args := buildSignalQuery(q, sqliteDialect)
	rows, queryErr := db.QueryContext(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query signals: %w", queryErr)
	}
	defer rows.Close()

	signals := make([]model.Signal, 0)
	for rows.Next() {
		signal, scanErr := scanSQLiteSignal(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		signals = append(signals, signal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return signals, nil
}

// Stats aggregates signal counts and the checkpoint.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	db, err := s.getDB()
	if err != nil {
		return Stats{}, err
	}

	var total, sum int64
	if scanErr := db.QueryRowContext(ctx, sqliteCountSignalsSQL).Scan(&total, &sum); scanErr != nil {
		return Stats{}, fmt.Errorf("count signals: %w", scanErr)
	}
	st := newStats(total, sum)

	rows, queryErr := db.QueryContext(ctx, sqliteCountBySignalTypeSQL)
	if queryErr != nil {
		return Stats{}, fmt.Errorf("count by signal type: %w", queryErr)
	}
	for rows.Next() {
		var (
			signalType string
			count      int64
		)
		if err := rows.Scan(&signalType, &count); err != nil {
			rows.Close()
			return Stats{}, err
		}
		st.BySignalType[model.SignalType(signalType)] = count
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return Stats{}, rowsErr
	}

	st.LastScanTime, err = s.Checkpoint(ctx)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Authors lists per-author signal counts, most active first.
func (s *SQLiteStore) Authors(ctx context.Context) ([]AuthorCount, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.QueryContext(ctx, sqliteListAuthorsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list authors: %w", queryErr)
	}
	defer rows.Close()

	authors := make([]AuthorCount, 0)
	for rows.Next() {
		var (
			ac   AuthorCount
			last string
		)
		if err := rows.Scan(&ac.Author, &ac.Signals, &last); err != nil {
			return nil, err
		}
		if ac.LastSignalAt, err = parseSQLiteTime(last); err != nil {
			return nil, err
		}
		authors = append(authors, ac)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return authors, nil
}

// SetCheckpoint overwrites the last scan time.
func (s *SQLiteStore) SetCheckpoint(ctx context.Context, t time.Time) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, execErr := db.ExecContext(ctx, sqliteUpsertMetadataSQL, checkpointKey, formatCheckpoint(t), formatSQLiteTime(time.Now())); execErr != nil {
		return fmt.Errorf("set checkpoint: %w", execErr)
	}
	return nil
}

// Checkpoint returns the last scan time, or nil before the first cycle.
func (s *SQLiteStore) Checkpoint(ctx context.Context) (*time.Time, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var value string
	scanErr := db.QueryRowContext(ctx, sqliteSelectMetadataSQL, checkpointKey).Scan(&value)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read checkpoint: %w", scanErr)
	}
	return parseCheckpoint(value)
}

func scanSQLiteSignal(rows *sql.Rows) (model.Signal, error) {
	var (
		signal     model.Signal
		assets     string
		tags       string
		signalType string
		createdAt  string
		published  string
	)
	if err := rows.Scan(
		&signal.ID,
		&signal.Author,
		&signal.AvatarURL,
		&signal.RawContent,
		&signal.Summary,
		&assets,
		&signalType,
		&signal.Sentiment,
		&signal.SourceURL,
		&tags,
		&createdAt,
		&published,
	); err != nil {
		return model.Signal{}, err
	}

	if err := json.Unmarshal([]byte(assets), &signal.Assets); err != nil {
		return model.Signal{}, fmt.Errorf("decode assets of %s: %w", signal.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &signal.Tags); err != nil {
		return model.Signal{}, fmt.Errorf("decode tags of %s: %w", signal.ID, err)
	}
	signal.Assets = nonNil(signal.Assets)
	signal.Tags = nonNil(signal.Tags)
	signal.SignalType = model.SignalType(signalType)

	var err error
	if signal.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return model.Signal{}, err
	}
	if signal.PublishedAt, err = parseSQLiteTime(published); err != nil {
		return model.Signal{}, err
	}
	return signal, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(value string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

var _ Store = (*SQLiteStore)(nil)
