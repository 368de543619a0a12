// Package sqlite implements auditindex.Index over an embedded SQLite
// database, for the lite deployment profile (single node, no external
// dependency): WAL mode, foreign keys on, 0600 permissions, append-only
// inserts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xolohq/xolo/internal/auditindex/auditrecord"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xolometrics"
)

// Index implements auditindex.Index over a single-file SQLite database.
type Index struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *xolometrics.DBMetrics
	path    string
	mu      sync.RWMutex
}

// New opens (creating if necessary) the SQLite database at path and
// ensures its schema exists. path must not contain ".." or fall under a
// handful of system directories.
func New(ctx context.Context, path string, metrics *xolometrics.DBMetrics, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("invalid path contains '..': %s", path)
	}
	for _, prefix := range []string{"/etc", "/sys", "/proc", "/dev"} {
		if strings.HasPrefix(path, prefix) {
			return nil, fmt.Errorf("forbidden path prefix %s: %s", prefix, path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit index directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit index: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite audit index: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	idx := &Index{db: db, logger: logger, metrics: metrics, path: path}
	if err := idx.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0o600); err != nil {
		logger.Warn("failed to set audit index file permissions to 0600", "path", path, "error", err)
	}

	idx.metrics.SetSQLiteFileSize(idx.fileSize())
	logger.Info("sqlite audit index opened", "path", path)
	return idx, nil
}

func (idx *Index) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    slug    TEXT NOT NULL,
    time    INTEGER NOT NULL,
    admin   TEXT NOT NULL,
    host    TEXT NOT NULL,
    version TEXT,
    message TEXT,
    attrib  TEXT,
    old     TEXT,
    new     TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_slug  ON audit_entries(slug);
CREATE INDEX IF NOT EXISTS idx_audit_entries_admin ON audit_entries(admin);
CREATE INDEX IF NOT EXISTS idx_audit_entries_time  ON audit_entries(time);
`
	if _, err := idx.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize audit index schema: %w", err)
	}
	return nil
}

// Append implements auditindex.Index.
func (idx *Index) Append(ctx context.Context, slug string, entry xolo.ChangelogEntry) error {
	start := time.Now()
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	oldJSON, err := marshalOptional(entry.Old)
	if err != nil {
		idx.metrics.RecordOperation("append", "sqlite", "error", time.Since(start), "validation")
		return fmt.Errorf("marshal changelog old value: %w", err)
	}
	newJSON, err := marshalOptional(entry.New)
	if err != nil {
		idx.metrics.RecordOperation("append", "sqlite", "error", time.Since(start), "validation")
		return fmt.Errorf("marshal changelog new value: %w", err)
	}

	_, err = idx.db.ExecContext(ctx, `
INSERT INTO audit_entries (slug, time, admin, host, version, message, attrib, old, new)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		slug, entry.Time.UnixMilli(), entry.Admin, entry.Host, entry.Version, entry.Message, entry.Attrib, oldJSON, newJSON,
	)
	if err != nil {
		idx.metrics.RecordOperation("append", "sqlite", "error", time.Since(start), "connection")
		return fmt.Errorf("insert audit entry for %s: %w", slug, err)
	}
	idx.metrics.RecordOperation("append", "sqlite", "success", time.Since(start), "")
	return nil
}

// Query implements auditindex.Index.
func (idx *Index) Query(ctx context.Context, filter auditrecord.Filter) ([]auditrecord.Record, error) {
	start := time.Now()
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	query := `SELECT slug, time, admin, host, version, message, attrib, old, new FROM audit_entries WHERE 1=1`
	var args []interface{}

	if filter.Slug != "" {
		query += " AND slug = ?"
		args = append(args, filter.Slug)
	}
	if filter.Admin != "" {
		query += " AND admin = ?"
		args = append(args, filter.Admin)
	}
	if !filter.Since.IsZero() {
		query += " AND time >= ?"
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		query += " AND time < ?"
		args = append(args, filter.Until.UnixMilli())
	}
	query += " ORDER BY time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		idx.metrics.RecordOperation("query", "sqlite", "error", time.Since(start), "connection")
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var records []auditrecord.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			idx.metrics.RecordOperation("query", "sqlite", "error", time.Since(start), "validation")
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		idx.metrics.RecordOperation("query", "sqlite", "error", time.Since(start), "connection")
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	idx.metrics.RecordOperation("query", "sqlite", "success", time.Since(start), "")
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (auditrecord.Record, error) {
	var rec auditrecord.Record
	var timeMs int64
	var old, new sql.NullString

	if err := row.Scan(&rec.Slug, &timeMs, &rec.Admin, &rec.Host, &rec.Version, &rec.Message, &rec.Attrib, &old, &new); err != nil {
		return rec, fmt.Errorf("scan audit entry: %w", err)
	}
	rec.Time = time.UnixMilli(timeMs).UTC()
	if old.Valid && old.String != "" {
		if err := json.Unmarshal([]byte(old.String), &rec.Old); err != nil {
			return rec, fmt.Errorf("unmarshal audit entry old value: %w", err)
		}
	}
	if new.Valid && new.String != "" {
		if err := json.Unmarshal([]byte(new.String), &rec.New); err != nil {
			return rec, fmt.Errorf("unmarshal audit entry new value: %w", err)
		}
	}
	return rec, nil
}

func marshalOptional(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Health implements auditindex.Index.
func (idx *Index) Health(ctx context.Context) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.db.PingContext(ctx); err != nil {
		idx.metrics.RecordHealthCheck("sqlite", false)
		return fmt.Errorf("sqlite audit index health check failed: %w", err)
	}
	idx.metrics.RecordHealthCheck("sqlite", true)
	return nil
}

// Close implements auditindex.Index.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.db == nil {
		return nil
	}
	err := idx.db.Close()
	idx.db = nil
	return err
}

func (idx *Index) fileSize() int64 {
	info, err := os.Stat(idx.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
