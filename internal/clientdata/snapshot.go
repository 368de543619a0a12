// Package clientdata builds the snapshot artifact endpoint agents
// consume: one JSON document describing every title and its
// versions, packaged with a client executable and shipped through
// external packaging/upload tools Xolo does not implement itself.
package clientdata

import (
	"github.com/xolohq/xolo/internal/xolo"
)

// Snapshot is the root document built on every update-client-data run.
type Snapshot struct {
	Titles map[string]TitleSnapshot `json:"titles"`
}

// TitleSnapshot mirrors a title's configuration plus its versions and the
// fully-resolved excluded-groups list a client needs to decide whether it
// is in scope.
type TitleSnapshot struct {
	DisplayName string `json:"display_name"`
	Publisher   string `json:"publisher"`

	AppName       string `json:"app_name,omitempty"`
	AppBundleID   string `json:"app_bundle_id,omitempty"`
	VersionScript string `json:"version_script,omitempty"`

	SelfService         bool   `json:"self_service"`
	SelfServiceCategory string `json:"self_service_category,omitempty"`
	Description         string `json:"description,omitempty"`

	PilotGroups   []string `json:"pilot_groups"`
	ReleaseGroups []string `json:"release_groups"`

	// ExcludedGroups is the title's own configured exclusions plus the
	// fleet-wide forced exclusion and the title's frozen group.
	ExcludedGroups []string `json:"excluded_groups"`

	UninstallScript string   `json:"uninstall_script,omitempty"`
	UninstallIDs    []string `json:"uninstall_ids,omitempty"`

	ExpirationDays int `json:"expiration_days"`

	ReleasedVersion string             `json:"released_version,omitempty"`
	Versions        []VersionSnapshot  `json:"versions"`
}

// VersionSnapshot mirrors one version's client-relevant fields. Catalog and
// Fleet side-object identifiers stay server-side; clients only need enough
// to decide applicability and run the installer.
type VersionSnapshot struct {
	Version        string     `json:"version"`
	MinOS          string     `json:"min_os"`
	MaxOS          string     `json:"max_os,omitempty"`
	RebootRequired bool       `json:"reboot_required"`
	Standalone     bool       `json:"standalone"`
	PilotGroups    []string   `json:"pilot_groups,omitempty"`
	KillApps       []xolo.KillApp `json:"killapps,omitempty"`
	State          xolo.ReleaseState `json:"state"`
}

func titleSnapshot(t *xolo.Title, versions []*xolo.Version, forcedExclusionGroupID string) TitleSnapshot {
	excluded := append([]string{}, t.ExcludedGroups...)
	if forcedExclusionGroupID != "" {
		excluded = appendUnique(excluded, forcedExclusionGroupID)
	}
	if t.FleetFrozenGroupID != "" {
		excluded = appendUnique(excluded, t.FleetFrozenGroupID)
	}

	vs := make([]VersionSnapshot, 0, len(versions))
	for _, v := range versions {
		vs = append(vs, VersionSnapshot{
			Version:        v.Version,
			MinOS:          v.MinOS,
			MaxOS:          v.MaxOS,
			RebootRequired: v.RebootRequired,
			Standalone:     v.Standalone,
			PilotGroups:    v.PilotGroups,
			KillApps:       v.KillApps,
			State:          v.State,
		})
	}

	return TitleSnapshot{
		DisplayName:         t.DisplayName,
		Publisher:           t.Publisher,
		AppName:             t.AppName,
		AppBundleID:         t.AppBundleID,
		VersionScript:       t.VersionScript,
		SelfService:         t.SelfService,
		SelfServiceCategory: t.SelfServiceCategory,
		Description:         t.Description,
		PilotGroups:         t.PilotGroups,
		ReleaseGroups:       t.ReleaseGroups,
		ExcludedGroups:      excluded,
		UninstallScript:     t.UninstallScript,
		UninstallIDs:        t.UninstallIDs,
		ExpirationDays:      t.ExpirationDays,
		ReleasedVersion:     t.ReleasedVersion,
		Versions:            vs,
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
