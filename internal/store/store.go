// Package store implements Xolo's on-disk title/version layout: one
// directory per title under a configured data directory, atomic rename
// writes, and a small LRU read cache in front of the filesystem.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloerr"
)

const (
	titlesDir       = "titles"
	versionsDir     = "versions"
	backupsDir      = "backups"
	titleFileSuffix = ".json"

	versionScriptFile   = "version-script"
	uninstallScriptFile = "uninstall-script"
	iconFilePrefix      = "self-service-icon"
)

// Store is the authoritative on-disk persistence layer. The set of
// subdirectories under titlesDir is the authoritative list of existing
// titles — EnumerateTitles derives its answer
// directly from a directory listing, never from a cache.
type Store struct {
	root string

	mu          sync.Mutex // guards directory-structure changes (mkdir/rmdir/rename)
	titleCache  *lru.Cache[string, *xolo.Title]
	versionCache *lru.Cache[string, *xolo.Version]
}

// New builds a Store rooted at dataDir, with an LRU cache sized cacheSize
// entries for titles and versions each. cacheSize <= 0 disables caching.
func New(dataDir string, cacheSize int) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, titlesDir), 0o755); err != nil {
		return nil, fmt.Errorf("create titles dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dataDir, backupsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create backups dir: %w", err)
	}

	s := &Store{root: dataDir}
	if cacheSize > 0 {
		tc, err := lru.New[string, *xolo.Title](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create title cache: %w", err)
		}
		vc, err := lru.New[string, *xolo.Version](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create version cache: %w", err)
		}
		s.titleCache = tc
		s.versionCache = vc
	}
	return s, nil
}

func (s *Store) titleDir(slug string) string {
	return filepath.Join(s.root, titlesDir, slug)
}

func (s *Store) titlePath(slug string) string {
	return filepath.Join(s.titleDir(slug), slug+titleFileSuffix)
}

func (s *Store) versionDir(slug string) string {
	return filepath.Join(s.titleDir(slug), versionsDir)
}

func (s *Store) versionPath(slug, version string) string {
	return filepath.Join(s.versionDir(slug), version+titleFileSuffix)
}

func (s *Store) changelogPath(slug string) string {
	return filepath.Join(s.titleDir(slug), "changelog.jsonl")
}

func (s *Store) versionScriptPath(slug string) string {
	return filepath.Join(s.titleDir(slug), versionScriptFile)
}

func (s *Store) uninstallScriptPath(slug string) string {
	return filepath.Join(s.titleDir(slug), uninstallScriptFile)
}

func versionCacheKey(slug, version string) string { return slug + "/" + version }

// EnumerateTitles lists every title slug by reading titlesDir's
// subdirectories directly — this directory listing is the sole source of
// truth for "which titles exist".
func (s *Store) EnumerateTitles() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, titlesDir))
	if err != nil {
		return nil, fmt.Errorf("enumerate titles: %w", err)
	}
	slugs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			slugs = append(slugs, e.Name())
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// TitleExists reports whether slug has an on-disk directory.
func (s *Store) TitleExists(slug string) bool {
	info, err := os.Stat(s.titleDir(slug))
	return err == nil && info.IsDir()
}

// LoadTitle reads titles/<slug>/<slug>.json.
func (s *Store) LoadTitle(slug string) (*xolo.Title, error) {
	if s.titleCache != nil {
		if t, ok := s.titleCache.Get(slug); ok {
			cp := *t
			return &cp, nil
		}
	}

	data, err := os.ReadFile(s.titlePath(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xoloerr.NotFoundf("title %q not found", slug)
		}
		return nil, fmt.Errorf("read title %s: %w", slug, err)
	}
	var t xolo.Title
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, xoloerr.InvalidDataf("title %s is corrupt: %v", slug, err)
	}
	if s.titleCache != nil {
		s.titleCache.Add(slug, &t)
	}
	return &t, nil
}

// SaveTitle atomically writes titles/<slug>/<slug>.json, creating the
// title's directory tree on first save. Callers must hold the title's
// lockmgr lock; the store does not lock for them.
func (s *Store) SaveTitle(t *xolo.Title) error {
	s.mu.Lock()
	if err := os.MkdirAll(s.versionDir(t.Slug), 0o755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("create title dir for %s: %w", t.Slug, err)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal title %s: %w", t.Slug, err)
	}
	if err := atomicWrite(s.titlePath(t.Slug), data); err != nil {
		return fmt.Errorf("write title %s: %w", t.Slug, err)
	}
	if s.titleCache != nil {
		cp := *t
		s.titleCache.Add(t.Slug, &cp)
	}
	return nil
}

// DeleteTitleDir removes a title's entire directory tree. Callers must have
// already finalized and relocated the changelog (see internal/changelog).
func (s *Store) DeleteTitleDir(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.titleDir(slug)); err != nil {
		return fmt.Errorf("remove title dir %s: %w", slug, err)
	}
	if s.titleCache != nil {
		s.titleCache.Remove(slug)
	}
	return nil
}

// LoadVersion reads titles/<slug>/versions/<version>.json.
func (s *Store) LoadVersion(slug, version string) (*xolo.Version, error) {
	key := versionCacheKey(slug, version)
	if s.versionCache != nil {
		if v, ok := s.versionCache.Get(key); ok {
			cp := *v
			return &cp, nil
		}
	}

	data, err := os.ReadFile(s.versionPath(slug, version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xoloerr.NotFoundf("version %s/%s not found", slug, version)
		}
		return nil, fmt.Errorf("read version %s/%s: %w", slug, version, err)
	}
	var v xolo.Version
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, xoloerr.InvalidDataf("version %s/%s is corrupt: %v", slug, version, err)
	}
	if s.versionCache != nil {
		s.versionCache.Add(key, &v)
	}
	return &v, nil
}

// SaveVersion atomically writes titles/<slug>/versions/<version>.json.
func (s *Store) SaveVersion(v *xolo.Version) error {
	s.mu.Lock()
	if err := os.MkdirAll(s.versionDir(v.Title), 0o755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("create version dir for %s: %w", v.Title, err)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal version %s/%s: %w", v.Title, v.Version, err)
	}
	if err := atomicWrite(s.versionPath(v.Title, v.Version), data); err != nil {
		return fmt.Errorf("write version %s/%s: %w", v.Title, v.Version, err)
	}
	if s.versionCache != nil {
		cp := *v
		s.versionCache.Add(versionCacheKey(v.Title, v.Version), &cp)
	}
	return nil
}

// DeleteVersion removes a version's JSON file.
func (s *Store) DeleteVersion(slug, version string) error {
	if err := os.Remove(s.versionPath(slug, version)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove version %s/%s: %w", slug, version, err)
	}
	if s.versionCache != nil {
		s.versionCache.Remove(versionCacheKey(slug, version))
	}
	return nil
}

// EnumerateVersions lists version identifiers present on disk for a title,
// independent of the title's own VersionOrder (used for consistency checks
// and repair).
func (s *Store) EnumerateVersions(slug string) ([]string, error) {
	entries, err := os.ReadDir(s.versionDir(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("enumerate versions for %s: %w", slug, err)
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == titleFileSuffix {
			versions = append(versions, e.Name()[:len(e.Name())-len(titleFileSuffix)])
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// atomicWrite writes data to a temp file in the same directory as path,
// then renames it into place — the rename is atomic on POSIX filesystems,
// so readers never observe a partially-written file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	return nil
}
