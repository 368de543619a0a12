// Package changelog implements Xolo's append-only per-title journal: one
// newline-delimited JSON file per title, a backup
// copy taken before every mutation, and a final archival rename on title
// delete.
package changelog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xolohq/xolo/internal/xolo"
)

// pathProvider is the subset of internal/store.Store the changelog needs,
// declared locally so this package never imports the store's full surface.
type pathProvider interface {
	ChangelogPath(slug string) string
	BackupsDir() string
}

// appendMetrics is satisfied by internal/xolometrics.WorkflowMetrics.
type appendMetrics interface {
	IncAppend(action string)
}

// auditIndex is the subset of internal/auditindex.Index the changelog
// forwards appends to, declared locally so this package never imports
// auditindex's full surface (and so package auditindex, which already
// depends on nothing in this package, stays free to be the one importing
// changelog if it ever needs to, without a cycle).
type auditIndex interface {
	Append(ctx context.Context, slug string, entry xolo.ChangelogEntry) error
}

// Manager serializes reads and writes to each title's changelog file with a
// per-title lock's "changelog RWLock".
type Manager struct {
	paths   pathProvider
	metrics appendMetrics
	index   auditIndex

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// New builds a Manager. metrics may be nil. The returned Manager never
// mirrors to an audit index; call WithIndex to opt in.
func New(paths pathProvider, metrics appendMetrics) *Manager {
	return &Manager{
		paths:   paths,
		metrics: metrics,
		locks:   make(map[string]*sync.RWMutex),
	}
}

// WithIndex returns m with idx set as its optional SQL mirror
// (internal/auditindex). idx may be nil, in which
// case mirroring is a no-op — matching the "rebuildable, never
// authoritative" contract: the changelog file always commits first, the
// index is forwarded to only after that succeeds, and a mirror failure is
// logged, never returned to the caller.
func (m *Manager) WithIndex(idx auditIndex) *Manager {
	m.index = idx
	return m
}

func (m *Manager) lockFor(slug string) *sync.RWMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[slug]
	if !ok {
		l = &sync.RWMutex{}
		m.locks[slug] = l
	}
	return l
}

// Append writes one entry to a title's changelog. It first copies the
// current file to its backup path (overwritten on every call except the
// final delete, see Finalize), then appends the new line — this keeps a
// best-effort "previous state" snapshot available even mid-mutation.
//
// This operation never re-enters its own read path: the backup step is a
// raw byte copy, not a parse-and-rewrite, so a plain (non-reentrant)
// per-title mutex is sufficient.
func (m *Manager) Append(slug string, entry xolo.ChangelogEntry) error {
	lock := m.lockFor(slug)
	lock.Lock()
	defer lock.Unlock()

	path := m.paths.ChangelogPath(slug)
	if err := m.backupLocked(slug, path); err != nil {
		return err
	}

	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal changelog entry for %s: %w", slug, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open changelog for %s: %w", slug, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append changelog entry for %s: %w", slug, err)
	}
	if m.metrics != nil {
		m.metrics.IncAppend(changelogAction(entry))
	}
	m.mirrorToIndex(slug, entry)
	return nil
}

// mirrorToIndex best-effort forwards entry to the optional SQL index after
// the changelog file append has already committed. Failures are logged and
// swallowed: the changelog file is the system of record, so a mirror outage
// must never fail the caller's workflow.
func (m *Manager) mirrorToIndex(slug string, entry xolo.ChangelogEntry) {
	if m.index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.index.Append(ctx, slug, entry); err != nil {
		slog.Warn("audit index mirror failed", "slug", slug, "error", err)
	}
}

func changelogAction(entry xolo.ChangelogEntry) string {
	if entry.Attrib != "" {
		return "attribute_change"
	}
	if entry.Message != "" {
		return "message"
	}
	return "unknown"
}

// backupPath returns the per-title backup file path. Finalize uses a
// timestamped variant so the final pre-delete snapshot is never
// overwritten by a later title reusing the slug.
func (m *Manager) backupPath(slug string) string {
	return filepath.Join(m.paths.BackupsDir(), slug+".jsonl.bak")
}

func (m *Manager) backupLocked(slug, path string) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to back up yet (title's first changelog entry)
		}
		return fmt.Errorf("open changelog for backup %s: %w", slug, err)
	}
	defer src.Close()

	if err := os.MkdirAll(m.paths.BackupsDir(), 0o755); err != nil {
		return fmt.Errorf("create backups dir: %w", err)
	}
	dst, err := os.Create(m.backupPath(slug))
	if err != nil {
		return fmt.Errorf("create backup for %s: %w", slug, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy changelog backup for %s: %w", slug, err)
	}
	return nil
}

// Read parses every entry in a title's changelog, in file order.
func (m *Manager) Read(slug string) ([]xolo.ChangelogEntry, error) {
	lock := m.lockFor(slug)
	lock.RLock()
	defer lock.RUnlock()

	f, err := os.Open(m.paths.ChangelogPath(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open changelog for %s: %w", slug, err)
	}
	defer f.Close()

	var entries []xolo.ChangelogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry xolo.ChangelogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("parse changelog line for %s: %w", slug, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan changelog for %s: %w", slug, err)
	}
	return entries, nil
}

// Finalize appends a final "Title Deleted" entry, then renames the
// changelog file into the backups directory with a timestamp suffix so it
// survives the title directory's removal.
func (m *Manager) Finalize(slug, admin, host string) error {
	if err := m.Append(slug, xolo.ChangelogEntry{
		Admin:   admin,
		Host:    host,
		Message: "Title Deleted",
	}); err != nil {
		return err
	}

	lock := m.lockFor(slug)
	lock.Lock()
	defer lock.Unlock()

	src := m.paths.ChangelogPath(slug)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	if err := os.MkdirAll(m.paths.BackupsDir(), 0o755); err != nil {
		return fmt.Errorf("create backups dir: %w", err)
	}
	dst := filepath.Join(m.paths.BackupsDir(), fmt.Sprintf("%s-%d.jsonl", slug, time.Now().UTC().Unix()))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("archive changelog for %s: %w", slug, err)
	}
	return nil
}
