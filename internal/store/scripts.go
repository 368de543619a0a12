package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xolohq/xolo/internal/xoloerr"
)

// WriteVersionScript persists a title's extension-attribute detection
// script to titles/<slug>/version-script.
func (s *Store) WriteVersionScript(slug, content string) error {
	s.mu.Lock()
	if err := os.MkdirAll(s.titleDir(slug), 0o755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("create title dir for %s: %w", slug, err)
	}
	s.mu.Unlock()
	return atomicWrite(s.versionScriptPath(slug), []byte(content))
}

// ReadVersionScript reads back a title's EA script.
func (s *Store) ReadVersionScript(slug string) (string, error) {
	data, err := os.ReadFile(s.versionScriptPath(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return "", xoloerr.NotFoundf("title %s has no version script", slug)
		}
		return "", fmt.Errorf("read version script for %s: %w", slug, err)
	}
	return string(data), nil
}

// DeleteVersionScript removes titles/<slug>/version-script, used when a
// title's requirement switches from EA-based to app-based.
func (s *Store) DeleteVersionScript(slug string) error {
	if err := os.Remove(s.versionScriptPath(slug)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove version script for %s: %w", slug, err)
	}
	return nil
}

// WriteUninstallScript persists titles/<slug>/uninstall-script.
func (s *Store) WriteUninstallScript(slug, content string) error {
	s.mu.Lock()
	if err := os.MkdirAll(s.titleDir(slug), 0o755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("create title dir for %s: %w", slug, err)
	}
	s.mu.Unlock()
	return atomicWrite(s.uninstallScriptPath(slug), []byte(content))
}

// ReadUninstallScript reads back titles/<slug>/uninstall-script.
func (s *Store) ReadUninstallScript(slug string) (string, error) {
	data, err := os.ReadFile(s.uninstallScriptPath(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return "", xoloerr.NotFoundf("title %s has no uninstall script", slug)
		}
		return "", fmt.Errorf("read uninstall script for %s: %w", slug, err)
	}
	return string(data), nil
}

// DeleteUninstallScript removes titles/<slug>/uninstall-script.
func (s *Store) DeleteUninstallScript(slug string) error {
	if err := os.Remove(s.uninstallScriptPath(slug)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove uninstall script for %s: %w", slug, err)
	}
	return nil
}

// WriteIcon persists a title's self-service icon under a filename whose
// fixed prefix identifies it regardless of extension. Any previously
// stored icon with a different extension is removed first, so exactly one
// icon file exists per title.
func (s *Store) WriteIcon(slug string, ext string, data []byte) (string, error) {
	s.mu.Lock()
	if err := os.MkdirAll(s.titleDir(slug), 0o755); err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("create title dir for %s: %w", slug, err)
	}
	s.mu.Unlock()

	if err := s.DeleteIcon(slug); err != nil {
		return "", err
	}
	name := iconFilePrefix + "." + ext
	if err := atomicWrite(filepath.Join(s.titleDir(slug), name), data); err != nil {
		return "", fmt.Errorf("write icon for %s: %w", slug, err)
	}
	return name, nil
}

// LocateIcon finds the title's icon file by its fixed filename prefix,
// regardless of extension. Returns "" if no icon is present.
func (s *Store) LocateIcon(slug string) (string, error) {
	entries, err := os.ReadDir(s.titleDir(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("list title dir for %s: %w", slug, err)
	}
	prefix := iconFilePrefix + "."
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			return e.Name(), nil
		}
	}
	return "", nil
}

// DeleteIcon removes any existing self-service icon file for slug.
func (s *Store) DeleteIcon(slug string) error {
	existing, err := s.LocateIcon(slug)
	if err != nil {
		return err
	}
	if existing == "" {
		return nil
	}
	if err := os.Remove(filepath.Join(s.titleDir(slug), existing)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove icon for %s: %w", slug, err)
	}
	return nil
}

// ChangelogPath exposes the per-title changelog file path for
// internal/changelog, which owns reading/writing/rotating it.
func (s *Store) ChangelogPath(slug string) string {
	return s.changelogPath(slug)
}

// BackupsDir exposes the backup directory root for internal/changelog's
// final rename-to-backup step on title delete.
func (s *Store) BackupsDir() string {
	return filepath.Join(s.root, backupsDir)
}
