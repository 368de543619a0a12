package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xolohq/xolo/internal/api"
	"github.com/xolohq/xolo/internal/api/authsvc"
	"github.com/xolohq/xolo/internal/auditindex"
	"github.com/xolohq/xolo/internal/catalog"
	"github.com/xolohq/xolo/internal/changelog"
	"github.com/xolohq/xolo/internal/clientdata"
	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/lockmgr"
	"github.com/xolohq/xolo/internal/pkgdeletion"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/scheduler"
	"github.com/xolohq/xolo/internal/store"
	"github.com/xolohq/xolo/internal/watch"
	"github.com/xolohq/xolo/internal/xoloconfig"
	"github.com/xolohq/xolo/internal/xolometrics"
	"github.com/xolohq/xolo/internal/xolotitle"
	"github.com/xolohq/xolo/internal/xoloversion"
	"github.com/xolohq/xolo/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Xolo admin API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// runServe wires every collaborator in dependency order — store first
// (nothing else can run without it), then locking, then the two external
// clients, then the workflow services that depend on all of the above, and
// finally the HTTP layer and the scheduler that drives it over loopback.
func runServe() error {
	cfg, err := xoloconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, levelVar, logWriter := logger.NewDynamic(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)
	log.Info("starting xolo-server", "profile", cfg.Profile)

	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		return fmt.Errorf("create store data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Store.ProgressDir, 0o755); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}

	st, err := store.New(cfg.Store.DataDir, cfg.Cache.MaxEntries)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	metrics := xolometrics.Default()
	workflowMetrics := metrics.Workflow()

	auditIdx, err := auditindex.New(context.Background(), *cfg, metrics.DB(), log)
	if err != nil {
		return fmt.Errorf("open audit index: %w", err)
	}
	if auditIdx != nil {
		defer auditIdx.Close()
	}

	cl := changelog.New(st, workflowMetrics).WithIndex(auditIdx)

	locks := lockmgr.New(cfg.Lock.TTL, cfg.Lock.SweepInterval, workflowMetrics)
	defer locks.Stop()

	var rdb *redis.Client
	var clusterLock *lockmgr.ClusterLock
	if cfg.UsesClusterLock() {
		rdb = redis.NewClient(&redis.Options{
			Addr:            cfg.Redis.Addr,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			PoolSize:        cfg.Redis.PoolSize,
			DialTimeout:     cfg.Redis.DialTimeout,
			ReadTimeout:     cfg.Redis.ReadTimeout,
			WriteTimeout:    cfg.Redis.WriteTimeout,
			MaxRetries:      cfg.Redis.MaxRetries,
			MinRetryBackoff: cfg.Redis.MinRetryBackoff,
			MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
		})
		clusterLock = lockmgr.NewClusterLock(rdb, cfg.Scheduler.ClusterLockKey, &lockmgr.ClusterConfig{
			TTL:            cfg.Lock.TTL,
			MaxRetries:     cfg.Lock.MaxRetries,
			RetryInterval:  cfg.Lock.RetryInterval,
			AcquireTimeout: cfg.Lock.AcquireTimeout,
			ReleaseTimeout: cfg.Lock.ReleaseTimeout,
			ValuePrefix:    cfg.Lock.ValuePrefix,
		}, log)
	}

	catalogClient := catalog.NewHTTPClient(catalog.Config{
		BaseURL:         cfg.Catalog.BaseURL,
		Token:           os.Getenv("XOLO_CATALOG_TOKEN"),
		Timeout:         cfg.Catalog.Timeout,
		RateLimitPerSec: cfg.Catalog.RateLimitPerSec,
		RateLimitBurst:  cfg.Catalog.RateLimitBurst,
	}, log)

	fleetClient := fleet.NewHTTPClient(fleet.Config{
		BaseURL:         cfg.Fleet.BaseURL,
		Token:           os.Getenv("XOLO_FLEET_TOKEN"),
		Timeout:         cfg.Fleet.Timeout,
		RateLimitPerSec: cfg.Fleet.RateLimitPerSec,
		RateLimitBurst:  cfg.Fleet.RateLimitBurst,
	}, log)

	watchers := watch.NewRegistry(workflowMetrics, log)
	deletions := pkgdeletion.New(cfg.Fleet.DeletionWorkers, cfg.Fleet.DeletionQueueSize, fleetClient, log, workflowMetrics)

	versions := xoloversion.New(st, cl, locks, catalogClient, fleetClient, watchers, deletions, workflowMetrics, log, cfg.Fleet.ObjectPrefix, cfg.Lock.AcquireTimeout)
	titles := xolotitle.New(st, cl, locks, catalogClient, fleetClient, watchers, versions, workflowMetrics, log, cfg.Fleet.ObjectPrefix, cfg.Lock.AcquireTimeout)

	builder := clientdata.New(st, fleetClient, cfg.ClientData, log)

	cleanup := scheduler.NewCleanup(st, titles, versions, scheduler.CleanupConfig{
		DeprecatedLifetimeDays: cfg.Scheduler.DeprecatedLifetimeDays,
		KeepSkippedVersions:    cfg.Scheduler.KeepSkippedVersions,
		PilotNotifyAfterDays:   cfg.Scheduler.PilotNotifyAfterDays,
	}, log)

	internalToken := cfg.Server.InternalToken
	if internalToken == "" {
		internalToken, err = generateInternalToken()
		if err != nil {
			return fmt.Errorf("generate internal token: %w", err)
		}
	}

	loopbackURL := fmt.Sprintf("http://127.0.0.1:%d/maint/cleanup-internal", cfg.Server.Port)
	sched := scheduler.New(scheduler.Config{
		TickInterval:           cfg.Scheduler.TickInterval,
		CleanupHour:            cfg.Scheduler.CleanupHour,
		MinHoursBetweenCleanup: cfg.Scheduler.MinHoursBetweenCleanup,
		LoopbackURL:            loopbackURL,
		InternalToken:          internalToken,
		UseClusterLock:         cfg.UsesClusterLock(),
		ClusterLock:            clusterLock,
	}, workflowMetrics, log)

	authMgr := authsvc.New(fleetClient, cfg.Auth, internalToken)

	var shuttingDown atomic.Bool

	var bus *progress.Bus
	if rdb != nil {
		bus = progress.NewBus(rdb, log)
	}

	srv := &api.Server{
		Config:      cfg.Server,
		Store:       st,
		Changelog:   cl,
		Titles:      titles,
		Versions:    versions,
		ClientData:  builder,
		Scheduler:   sched,
		Cleanup:     cleanup,
		Auth:        authMgr,
		Metrics:     metrics,
		Logger:      log,
		ProgressDir: cfg.Store.ProgressDir,
		ProgressBus: bus,
		AuditIndex:  auditIdx,
		Shutdown:    shuttingDown.Load,
		LogLevel:    levelVar,
		LogWriter:   logWriter,
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.NewRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case sig := <-quit:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serveErr:
		log.Error("http server failed", "error", err)
		return err
	}

	shuttingDown.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	sched.Stop(shutdownCtx)
	deletions.Shutdown(shutdownCtx)
	watchers.Shutdown(shutdownCtx)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return err
	}

	log.Info("xolo-server exited cleanly")
	return nil
}

// generateInternalToken mints the per-process 128-hex bearer token
// internal-route callers (the Scheduler's own loopback call) must present,
// used when server.internal_token is left unset in config.
func generateInternalToken() (string, error) {
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
