// Package postgres implements auditindex.Index over Postgres via pgx, for
// the standard deployment profile (HA-ready, shared across replicas).
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pool wraps a pgxpool.Pool with the lifecycle and stats surface Index
// needs, kept as a thin layer over the pgx pool.
type pool struct {
	cfg      *Config
	logger   *slog.Logger
	pgx      *pgxpool.Pool
	isClosed atomic.Bool
}

// PoolStats mirrors pgxpool.Stat's fields the audit index reports through
// xolometrics.DBMetrics.SetConnectionStats.
type PoolStats struct {
	TotalConns int32
	IdleConns  int32
	InUseConns int32
}

func newPool(cfg *Config, logger *slog.Logger) *pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &pool{cfg: cfg, logger: logger}
}

func (p *pool) connect(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid postgres config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(p.cfg.DSN())
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolConfig.MaxConns = p.cfg.MaxConns
	poolConfig.MinConns = p.cfg.MinConns
	poolConfig.MaxConnLifetime = p.cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = p.cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = p.cfg.HealthCheckPeriod

	connectCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	pp, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pp.Ping(connectCtx); err != nil {
		pp.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	p.pgx = pp
	p.logger.Info("postgres audit index connected", "host", p.cfg.Host, "database", p.cfg.Database)
	return nil
}

func (p *pool) disconnect() {
	if p.isClosed.CompareAndSwap(false, true) && p.pgx != nil {
		p.pgx.Close()
	}
}

func (p *pool) exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return p.pgx.Exec(ctx, sql, args...)
}

func (p *pool) query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return p.pgx.Query(ctx, sql, args...)
}

func (p *pool) ping(ctx context.Context) error {
	if p.isClosed.Load() || p.pgx == nil {
		return fmt.Errorf("postgres pool is closed")
	}
	return p.pgx.Ping(ctx)
}

func (p *pool) stats() PoolStats {
	if p.pgx == nil {
		return PoolStats{}
	}
	s := p.pgx.Stat()
	return PoolStats{
		TotalConns: s.TotalConns(),
		IdleConns:  s.IdleConns(),
		InUseConns: s.AcquiredConns(),
	}
}
