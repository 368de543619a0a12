// Package xoloconfig is Xolo's viper-backed configuration: a single
// nested Config struct loaded once at startup, validated, and passed down
// by value.
package xoloconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level process configuration.
type Config struct {
	// Profile selects the audit-index backend: "lite" (embedded SQLite, no
	// external dependencies) or "standard" (Postgres + Redis, HA-ready).
	Profile DeploymentProfile `mapstructure:"profile"`

	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Fleet      FleetConfig      `mapstructure:"fleet"`
	Lock       LockConfig       `mapstructure:"lock"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	AuditIndex AuditIndexConfig `mapstructure:"audit_index"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Auth       AuthConfig       `mapstructure:"auth"`
	ClientData ClientDataConfig `mapstructure:"client_data"`
}

// DeploymentProfile selects which audit-index backend and lock
// implementation a process runs with.
type DeploymentProfile string

const (
	// ProfileLite: embedded SQLite audit index, in-process LockManager only
	// (no cluster lock, single replica). Development and small fleets.
	ProfileLite DeploymentProfile = "lite"
	// ProfileStandard: Postgres audit index, Redis-backed ClusterLock for
	// scheduler leader election across replicas.
	ProfileStandard DeploymentProfile = "standard"
)

// ServerConfig is the admin HTTP API's listener configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	InternalToken           string        `mapstructure:"internal_token"`

	// RateLimitPerMinute/RateLimitBurst bound inbound requests per client
	// (session cookie or source IP), independent of the outbound rate limits
	// CatalogConfig/FleetConfig apply to calls this server makes out.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst"`
}

// StoreConfig locates the on-disk title/version JSON layout.
type StoreConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	BackupSubdir string `mapstructure:"backup_subdir"`
	ProgressDir  string `mapstructure:"progress_dir"`
}

// CatalogConfig points at the upstream Patch Catalog service.
type CatalogConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// FleetConfig points at the downstream Fleet Management service.
type FleetConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RateLimitPerSec   float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
	MaxRetries        int           `mapstructure:"max_retries"`
	DeletionWorkers   int           `mapstructure:"deletion_workers"`
	DeletionQueueSize int           `mapstructure:"deletion_queue_size"`

	// ObjectPrefix namespaces every Fleet/Catalog side-object Xolo creates
	// for a title (xolo.ObjectName), so multiple Xolo deployments can share
	// one Fleet instance without name collisions.
	ObjectPrefix string `mapstructure:"object_prefix"`
}

// LockConfig governs the in-process LockManager and the Redis ClusterLock.
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
	ValuePrefix    string        `mapstructure:"value_prefix"`
}

// SchedulerConfig drives the scheduler's cleanup timer and its hourly gate.
type SchedulerConfig struct {
	TickInterval           time.Duration `mapstructure:"tick_interval"`
	CleanupHour            int           `mapstructure:"cleanup_hour"`
	MinHoursBetweenCleanup int           `mapstructure:"min_hours_between_cleanup"`
	PilotNotifyAfterDays   int           `mapstructure:"pilot_notify_after_days"`
	ClusterLockKey         string        `mapstructure:"cluster_lock_key"`

	// DeprecatedLifetimeDays <= 0 disables deprecated-version cleanup
	// entirely; otherwise a version deprecated longer ago than this is
	// deleted end to end on the next cleanup cycle.
	DeprecatedLifetimeDays int `mapstructure:"deprecated_lifetime_days"`
	// KeepSkippedVersions, when true, exempts skipped versions from
	// cleanup (they are otherwise deleted unconditionally).
	KeepSkippedVersions bool `mapstructure:"keep_skipped_versions"`
}

// AuditIndexConfig selects and connects the optional SQL mirror of the
// changelog.
type AuditIndexConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	PostgresURL     string        `mapstructure:"postgres_url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig is used by the ClusterLock and the progress-stream pub/sub
// fan-out; both are optional and only wired when Profile is "standard".
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig exposes internal/xolometrics over HTTP.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CacheConfig sizes the Store's read-through LRU.
type CacheConfig struct {
	MaxEntries    int           `mapstructure:"max_entries"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// AuthConfig names the Jamf group that grants server-admin routes and the
// groups allowed to read/write titles at all.
type AuthConfig struct {
	AdminGroup    string   `mapstructure:"admin_group"`
	AllowedGroups []string `mapstructure:"allowed_groups"`
}

// ClientDataConfig configures internal/clientdata's snapshot build.
// PackagingTool and UploadTool are external shell-outs Xolo does not
// implement itself: it neither signs packages nor transports installers.
type ClientDataConfig struct {
	// OutputDir holds the built snapshot JSON and package artifact before
	// UploadTool ships it.
	OutputDir string `mapstructure:"output_dir"`

	// PackagingTool is invoked as `<tool> <snapshot.json> <output-pkg-path>`
	// to produce the signed package containing the JSON plus the client
	// executable.
	PackagingTool string `mapstructure:"packaging_tool"`
	// ClientExecutable is bundled into the package alongside the snapshot.
	ClientExecutable string `mapstructure:"client_executable"`

	// UploadTool is invoked as `<tool> <package-path>` to ship the built
	// package to its distribution point.
	UploadTool string `mapstructure:"upload_tool"`

	// ForcedExclusionGroupID is appended to every title's excluded-groups
	// list in the built snapshot regardless of that title's own
	// configuration — e.g. a fleet-wide quarantine or decommissioned-device
	// group that must never receive client data.
	ForcedExclusionGroupID string `mapstructure:"forced_exclusion_group_id"`

	// DeploymentPolicyID names the Fleet policy whose run logs are flushed
	// after a successful upload, so stale results from the previous
	// snapshot don't linger.
	DeploymentPolicyID string `mapstructure:"deployment_policy_id"`

	// DeveloperMode skips the packaging/upload shell-outs entirely,
	// leaving only the JSON snapshot on disk — "Skipped
	// when developer-mode flag is set."
	DeveloperMode bool `mapstructure:"developer_mode"`

	// ToolTimeout bounds each of the packaging and upload shell-outs.
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
}

// Load reads configPath (if non-empty) as YAML, layers environment
// variables on top, and validates the result.
func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("XOLO")

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("profile", "lite")

	viper.SetDefault("server.port", 8443)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")
	viper.SetDefault("server.rate_limit_per_minute", 600)
	viper.SetDefault("server.rate_limit_burst", 50)

	viper.SetDefault("store.data_dir", "/var/lib/xolo/titles")
	viper.SetDefault("store.backup_subdir", "backups")
	viper.SetDefault("store.progress_dir", "/var/lib/xolo/progress")

	viper.SetDefault("catalog.timeout", "15s")
	viper.SetDefault("catalog.rate_limit_per_sec", 5.0)
	viper.SetDefault("catalog.rate_limit_burst", 10)
	viper.SetDefault("catalog.max_retries", 3)

	viper.SetDefault("fleet.timeout", "15s")
	viper.SetDefault("fleet.rate_limit_per_sec", 5.0)
	viper.SetDefault("fleet.rate_limit_burst", 10)
	viper.SetDefault("fleet.max_retries", 3)
	viper.SetDefault("fleet.deletion_workers", 4)
	viper.SetDefault("fleet.deletion_queue_size", 256)
	viper.SetDefault("fleet.object_prefix", "xolo-")

	viper.SetDefault("lock.ttl", "60m")
	viper.SetDefault("lock.sweep_interval", "5m")
	viper.SetDefault("lock.max_retries", 3)
	viper.SetDefault("lock.retry_interval", "200ms")
	viper.SetDefault("lock.acquire_timeout", "30s")
	viper.SetDefault("lock.release_timeout", "2s")
	viper.SetDefault("lock.value_prefix", "xolo-lock")

	viper.SetDefault("scheduler.tick_interval", "1h")
	viper.SetDefault("scheduler.cleanup_hour", 2)
	viper.SetDefault("scheduler.min_hours_between_cleanup", 23)
	viper.SetDefault("scheduler.pilot_notify_after_days", 180)
	viper.SetDefault("scheduler.cluster_lock_key", "xolo:scheduler:leader")
	viper.SetDefault("scheduler.deprecated_lifetime_days", 30)
	viper.SetDefault("scheduler.keep_skipped_versions", false)

	viper.SetDefault("audit_index.enabled", true)
	viper.SetDefault("audit_index.sqlite_path", "/var/lib/xolo/auditindex.db")
	viper.SetDefault("audit_index.max_connections", 10)
	viper.SetDefault("audit_index.min_connections", 1)
	viper.SetDefault("audit_index.max_conn_lifetime", "1h")
	viper.SetDefault("audit_index.connect_timeout", "10s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("cache.max_entries", 2000)
	viper.SetDefault("cache.enable_metrics", true)
	viper.SetDefault("cache.ttl", "0s")

	viper.SetDefault("auth.admin_group", "xolo-admins")

	viper.SetDefault("client_data.output_dir", "/var/lib/xolo/client-data")
	viper.SetDefault("client_data.developer_mode", false)
	viper.SetDefault("client_data.tool_timeout", "5m")
}

// Validate checks invariants Load can't express as viper defaults.
func (c *Config) Validate() error {
	if err := c.validateProfile(); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir cannot be empty")
	}
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.base_url cannot be empty")
	}
	if c.Fleet.BaseURL == "" {
		return fmt.Errorf("fleet.base_url cannot be empty")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log.level cannot be empty")
	}
	return nil
}

func (c *Config) validateProfile() error {
	if c.Profile != ProfileLite && c.Profile != ProfileStandard {
		return fmt.Errorf("invalid deployment profile: %s (must be %q or %q)", c.Profile, ProfileLite, ProfileStandard)
	}
	if c.AuditIndex.Enabled {
		if c.IsStandardProfile() && c.AuditIndex.PostgresURL == "" {
			return fmt.Errorf("standard profile with audit_index.enabled requires audit_index.postgres_url")
		}
		if c.IsLiteProfile() && c.AuditIndex.SQLitePath == "" {
			return fmt.Errorf("lite profile with audit_index.enabled requires audit_index.sqlite_path")
		}
	}
	return nil
}

// IsLiteProfile reports whether the process runs embedded-storage-only.
func (c *Config) IsLiteProfile() bool { return c.Profile == ProfileLite }

// IsStandardProfile reports whether the process runs HA-ready, with
// Postgres and Redis.
func (c *Config) IsStandardProfile() bool { return c.Profile == ProfileStandard }

// UsesClusterLock reports whether the Scheduler must acquire the Redis
// ClusterLock before running cleanup, vs. running unconditionally as the
// sole replica.
func (c *Config) UsesClusterLock() bool { return c.IsStandardProfile() }
