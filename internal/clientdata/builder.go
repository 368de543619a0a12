package clientdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/store"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloconfig"
	"github.com/xolohq/xolo/internal/xoloerr"
)

// Builder owns the process-wide snapshot build; its mutex excludes
// concurrent snapshots. It shells out to external packaging/upload tools
// under a context deadline and reports through the same *slog.Logger the
// rest of Xolo uses.
type Builder struct {
	store  *store.Store
	fleet  fleet.Client
	cfg    xoloconfig.ClientDataConfig
	logger *slog.Logger

	mu sync.Mutex
}

// New builds a Builder. logger may be nil (defaults to slog.Default()).
func New(st *store.Store, fleetClient fleet.Client, cfg xoloconfig.ClientDataConfig, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: st, fleet: fleetClient, cfg: cfg, logger: logger}
}

// Result reports what a Build run produced, for the /update-client-data
// response and for tests.
type Result struct {
	SnapshotPath string
	PackagePath  string
	TitleCount   int
	Skipped      bool // true when DeveloperMode skipped packaging/upload
}

// Build snapshots every title and its versions, writes the JSON document,
// and — unless DeveloperMode is set — shells out to the configured
// packaging and upload tools and flushes the deployment policy's run logs.
// Only one Build runs at a time; a concurrent caller blocks until the
// in-flight one finishes.
func (b *Builder) Build(ctx context.Context) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := b.snapshot()
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return Result{}, xoloerr.Wrap(xoloerr.Server, "create client-data output dir", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Result{}, xoloerr.Wrap(xoloerr.Server, "marshal client-data snapshot", err)
	}

	snapshotPath := filepath.Join(b.cfg.OutputDir, "client-data.json")
	if err := os.WriteFile(snapshotPath, data, 0o644); err != nil {
		return Result{}, xoloerr.Wrap(xoloerr.Server, "write client-data snapshot", err)
	}
	b.logger.Info("wrote client-data snapshot", "path", snapshotPath, "titles", len(snap.Titles))

	if b.cfg.DeveloperMode {
		b.logger.Info("developer mode: skipping client-data packaging and upload")
		return Result{SnapshotPath: snapshotPath, TitleCount: len(snap.Titles), Skipped: true}, nil
	}

	packagePath := filepath.Join(b.cfg.OutputDir, "client-data.pkg")
	if err := b.runTool(ctx, b.cfg.PackagingTool, snapshotPath, b.cfg.ClientExecutable, packagePath); err != nil {
		return Result{}, xoloerr.Wrap(xoloerr.Server, "package client data", err)
	}

	if err := b.runTool(ctx, b.cfg.UploadTool, packagePath); err != nil {
		return Result{}, xoloerr.Wrap(xoloerr.Unavailable, "upload client data", err)
	}

	if b.cfg.DeploymentPolicyID != "" {
		if err := b.fleet.FlushPolicyLogs(ctx, b.cfg.DeploymentPolicyID); err != nil {
			b.logger.Warn("flush deployment policy logs failed", "policy", b.cfg.DeploymentPolicyID, "error", err)
		}
	}

	return Result{SnapshotPath: snapshotPath, PackagePath: packagePath, TitleCount: len(snap.Titles)}, nil
}

func (b *Builder) snapshot() (Snapshot, error) {
	slugs, err := b.store.EnumerateTitles()
	if err != nil {
		return Snapshot{}, xoloerr.Wrap(xoloerr.Server, "enumerate titles for client-data snapshot", err)
	}

	titles := make(map[string]TitleSnapshot, len(slugs))
	for _, slug := range slugs {
		t, err := b.store.LoadTitle(slug)
		if err != nil {
			return Snapshot{}, err
		}

		vs, err := b.loadVersions(slug, t.VersionOrder)
		if err != nil {
			return Snapshot{}, err
		}

		titles[slug] = titleSnapshot(t, vs, b.cfg.ForcedExclusionGroupID)
	}

	return Snapshot{Titles: titles}, nil
}

func (b *Builder) loadVersions(slug string, versionOrder []string) ([]*xolo.Version, error) {
	out := make([]*xolo.Version, 0, len(versionOrder))
	for _, version := range versionOrder {
		v, err := b.store.LoadVersion(slug, version)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// runTool invokes name with args under a bounded context, logging combined
// output on failure so operators can see why packaging or upload failed.
func (b *Builder) runTool(ctx context.Context, name string, args ...string) error {
	if name == "" {
		return fmt.Errorf("no tool configured")
	}
	timeout := b.cfg.ToolTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, string(out))
	}
	return nil
}
