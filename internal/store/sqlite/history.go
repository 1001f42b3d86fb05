// Package sqlite provides an optional local SQLite store for crawl run
// history and per-URL fetch records, grounded on
// internal/database/crawldb.go's CrawlDB (schema creation, connection pool
// tuning, timestamp-format tolerance).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

// HistoryDB stores crawl run history and fetch records for a single crawl
// state directory.
type HistoryDB struct {
	db *sql.DB
}

// Open opens or creates a sqlite database at dbPath, mirroring CrawlDB.Open's
// single-writer connection pool tuning.
func Open(dbPath string) (*HistoryDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	h := &HistoryDB{db: db}
	if err := h.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return h, nil
}

// Close closes the underlying database connection.
func (h *HistoryDB) Close() error {
	return h.db.Close()
}

func (h *HistoryDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fetches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		host TEXT NOT NULL,
		status_code INTEGER,
		mode TEXT NOT NULL,
		error_kind TEXT,
		duration_ms INTEGER,
		bytes INTEGER,
		fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_fetches_host ON fetches(host);
	CREATE INDEX IF NOT EXISTS idx_fetches_fetched_at ON fetches(fetched_at);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		ended_at DATETIME,
		stats_json TEXT
	);
	`
	_, err := h.db.ExecContext(context.Background(), schema)
	return err
}

// RecordFetch appends one fetch outcome to the history table.
func (h *HistoryDB) RecordFetch(ctx context.Context, rec crawlcore.URLRecord, result crawlcore.FetchResult, errKind crawlcore.ErrorKind) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO fetches (url, host, status_code, mode, error_kind, duration_ms, bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.URL, rec.Host, result.StatusCode, string(result.Mode), string(errKind),
		result.Duration.Milliseconds(), len(result.Body),
	)
	if err != nil {
		return fmt.Errorf("insert fetch record: %w", err)
	}
	return nil
}

// StartRun inserts a new run row and returns its ID.
func (h *HistoryDB) StartRun(ctx context.Context) (int64, error) {
	res, err := h.db.ExecContext(ctx, `INSERT INTO runs (started_at) VALUES (CURRENT_TIMESTAMP)`)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return res.LastInsertId()
}

// EndRun finalizes a run row with closing stats.
func (h *HistoryDB) EndRun(ctx context.Context, runID int64, stats crawlcore.CrawlStats) error {
	encoded, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = h.db.ExecContext(ctx, `
		UPDATE runs SET ended_at = CURRENT_TIMESTAMP, stats_json = ? WHERE id = ?`,
		string(encoded), runID,
	)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	return nil
}

// HostFetchCount returns how many fetches have been recorded for host,
// useful for resume-time host-level rate estimation.
func (h *HistoryDB) HostFetchCount(ctx context.Context, host string) (int, error) {
	var count int
	err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fetches WHERE host = ?`, host).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count host fetches: %w", err)
	}
	return count, nil
}
