package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xolohq/xolo/internal/auditindex/auditrecord"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xolometrics"
)

// Index implements auditindex.Index over a pooled Postgres connection.
type Index struct {
	pool    *pool
	logger  *slog.Logger
	metrics *xolometrics.DBMetrics
}

// New connects to Postgres, runs the audit index's schema migration (see
// migrate.go), and returns a ready Index.
func New(ctx context.Context, cfg *Config, metrics *xolometrics.DBMetrics, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := newPool(cfg, logger)
	if err := p.connect(ctx); err != nil {
		return nil, err
	}

	idx := &Index{pool: p, logger: logger, metrics: metrics}
	if err := migrate(ctx, cfg.DSN(), logger); err != nil {
		p.disconnect()
		return nil, fmt.Errorf("migrate postgres audit index: %w", err)
	}
	return idx, nil
}

// Append implements auditindex.Index.
func (idx *Index) Append(ctx context.Context, slug string, entry xolo.ChangelogEntry) error {
	start := time.Now()

	oldJSON, err := marshalOptional(entry.Old)
	if err != nil {
		idx.metrics.RecordOperation("append", "postgres", "error", time.Since(start), "validation")
		return fmt.Errorf("marshal changelog old value: %w", err)
	}
	newJSON, err := marshalOptional(entry.New)
	if err != nil {
		idx.metrics.RecordOperation("append", "postgres", "error", time.Since(start), "validation")
		return fmt.Errorf("marshal changelog new value: %w", err)
	}

	_, err = idx.pool.exec(ctx, `
INSERT INTO audit_entries (slug, entry_time, admin, host, version, message, attrib, old, new)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		slug, entry.Time.UTC(), entry.Admin, entry.Host, entry.Version, entry.Message, entry.Attrib, oldJSON, newJSON,
	)
	if err != nil {
		idx.metrics.RecordOperation("append", "postgres", "error", time.Since(start), "connection")
		return fmt.Errorf("insert audit entry for %s: %w", slug, err)
	}
	idx.metrics.RecordOperation("append", "postgres", "success", time.Since(start), "")
	idx.reportPoolStats()
	return nil
}

// Query implements auditindex.Index.
func (idx *Index) Query(ctx context.Context, filter auditrecord.Filter) ([]auditrecord.Record, error) {
	start := time.Now()

	query := `SELECT slug, entry_time, admin, host, version, message, attrib, old, new FROM audit_entries WHERE TRUE`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Slug != "" {
		query += " AND slug = " + arg(filter.Slug)
	}
	if filter.Admin != "" {
		query += " AND admin = " + arg(filter.Admin)
	}
	if !filter.Since.IsZero() {
		query += " AND entry_time >= " + arg(filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += " AND entry_time < " + arg(filter.Until.UTC())
	}
	query += " ORDER BY entry_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := idx.pool.query(ctx, query, args...)
	if err != nil {
		idx.metrics.RecordOperation("query", "postgres", "error", time.Since(start), "connection")
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var records []auditrecord.Record
	for rows.Next() {
		var rec auditrecord.Record
		var old, new []byte
		if err := rows.Scan(&rec.Slug, &rec.Time, &rec.Admin, &rec.Host, &rec.Version, &rec.Message, &rec.Attrib, &old, &new); err != nil {
			idx.metrics.RecordOperation("query", "postgres", "error", time.Since(start), "validation")
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		rec.Time = rec.Time.UTC()
		if len(old) > 0 {
			if err := json.Unmarshal(old, &rec.Old); err != nil {
				return nil, fmt.Errorf("unmarshal audit entry old value: %w", err)
			}
		}
		if len(new) > 0 {
			if err := json.Unmarshal(new, &rec.New); err != nil {
				return nil, fmt.Errorf("unmarshal audit entry new value: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		idx.metrics.RecordOperation("query", "postgres", "error", time.Since(start), "connection")
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	idx.metrics.RecordOperation("query", "postgres", "success", time.Since(start), "")
	return records, nil
}

// Health implements auditindex.Index.
func (idx *Index) Health(ctx context.Context) error {
	if err := idx.pool.ping(ctx); err != nil {
		idx.metrics.RecordHealthCheck("postgres", false)
		return fmt.Errorf("postgres audit index health check failed: %w", err)
	}
	idx.metrics.RecordHealthCheck("postgres", true)
	return nil
}

// Close implements auditindex.Index.
func (idx *Index) Close() error {
	idx.pool.disconnect()
	return nil
}

func (idx *Index) reportPoolStats() {
	s := idx.pool.stats()
	idx.metrics.SetConnectionStats(s.TotalConns, s.IdleConns, s.InUseConns)
}

func marshalOptional(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
