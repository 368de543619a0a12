// Package auditindex implements the optional SQL mirror of Xolo's
// changelog. internal/changelog is the system
// of record — a per-title append-only file — and stays authoritative on
// its own even when this package is unavailable; auditindex exists so an
// operator can run ad hoc queries ("every change Alice made last week",
// "every freeze/thaw on this title") without scanning every title's
// changelog file.
//
// Two backends share the Index interface below: internal/auditindex/sqlite
// for the lite profile (embedded, no external dependency) and
// internal/auditindex/postgres for the standard profile (HA-ready, shared
// across replicas).
package auditindex

import (
	"context"

	"github.com/xolohq/xolo/internal/auditindex/auditrecord"
	"github.com/xolohq/xolo/internal/xolo"
)

// Record is one indexed changelog entry, named by the title it belongs to
// so a query spanning titles can still attribute each row. Aliased from
// internal/auditindex/auditrecord so both backend packages can use the
// exact same type without importing this package (which would cycle back
// through factory.go).
type Record = auditrecord.Record

// Filter narrows a Query. A zero-value Filter matches every record, newest
// first, with no limit. Aliased from internal/auditindex/auditrecord, see
// Record.
type Filter = auditrecord.Filter

// Index is the queryable mirror's surface. Both backends satisfy it.
type Index interface {
	// Append indexes one changelog entry. Callers treat failures as
	// non-fatal: the changelog file is already the durable record.
	Append(ctx context.Context, slug string, entry xolo.ChangelogEntry) error

	// Query returns records matching filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Record, error)

	// Health reports whether the backend is currently reachable.
	Health(ctx context.Context) error

	// Close releases the backend's connection(s).
	Close() error
}
