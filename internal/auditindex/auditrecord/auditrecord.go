// Package auditrecord holds the query-surface types shared by
// internal/auditindex and its two backends (internal/auditindex/sqlite,
// internal/auditindex/postgres). It exists only to break the import cycle
// that would otherwise appear if each backend imported internal/auditindex
// directly for these two types: internal/auditindex already imports both
// backend packages to pick one by deployment profile, so the backends
// import this leaf package instead and internal/auditindex re-exports its
// types by alias.
package auditrecord

import (
	"time"

	"github.com/xolohq/xolo/internal/xolo"
)

// Record is one indexed changelog entry, named by the title it belongs to
// so a query spanning titles can still attribute each row.
type Record struct {
	Slug string `json:"slug"`
	xolo.ChangelogEntry
}

// Filter narrows a Query. A zero-value Filter matches every record, newest
// first, with no limit.
type Filter struct {
	Slug   string    // exact title slug, empty matches all titles
	Admin  string    // exact admin identity, empty matches all admins
	Since  time.Time // inclusive lower bound on entry.Time, zero for no bound
	Until  time.Time // exclusive upper bound on entry.Time, zero for no bound
	Limit  int       // 0 means unbounded
	Offset int
}
