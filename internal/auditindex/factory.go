package auditindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xolohq/xolo/internal/auditindex/postgres"
	"github.com/xolohq/xolo/internal/auditindex/sqlite"
	"github.com/xolohq/xolo/internal/xoloconfig"
	"github.com/xolohq/xolo/internal/xolometrics"
)

// New builds the Index matching cfg's profile. It returns (nil, nil) when
// cfg.AuditIndex.Enabled is false — callers forward changelog appends to
// the index only when it is non-nil, so a disabled index is simply a no-op
// rather than a distinct code path.
func New(ctx context.Context, cfg xoloconfig.Config, dbMetrics *xolometrics.DBMetrics, logger *slog.Logger) (Index, error) {
	if !cfg.AuditIndex.Enabled {
		return nil, nil
	}

	switch {
	case cfg.IsLiteProfile():
		idx, err := sqlite.New(ctx, cfg.AuditIndex.SQLitePath, dbMetrics, logger)
		if err != nil {
			return nil, &ErrBackendInit{Backend: "sqlite", Cause: err}
		}
		return idx, nil

	case cfg.IsStandardProfile():
		pgCfg := postgres.DefaultConfig()
		if cfg.AuditIndex.PostgresURL != "" {
			parsed, err := postgres.ParseURL(cfg.AuditIndex.PostgresURL)
			if err != nil {
				return nil, &ErrBackendInit{Backend: "postgres", Cause: err}
			}
			pgCfg = parsed
		}
		if cfg.AuditIndex.MaxConnections > 0 {
			pgCfg.MaxConns = int32(cfg.AuditIndex.MaxConnections)
		}
		if cfg.AuditIndex.MinConnections > 0 {
			pgCfg.MinConns = int32(cfg.AuditIndex.MinConnections)
		}
		if cfg.AuditIndex.MaxConnLifetime > 0 {
			pgCfg.MaxConnLifetime = cfg.AuditIndex.MaxConnLifetime
		}
		if cfg.AuditIndex.ConnectTimeout > 0 {
			pgCfg.ConnectTimeout = cfg.AuditIndex.ConnectTimeout
		}

		idx, err := postgres.New(ctx, pgCfg, dbMetrics, logger)
		if err != nil {
			return nil, &ErrBackendInit{Backend: "postgres", Cause: err}
		}
		return idx, nil

	default:
		return nil, &ErrInvalidProfile{Profile: string(cfg.Profile), Cause: fmt.Errorf("unknown deployment profile")}
	}
}
