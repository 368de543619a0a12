package xolo

import "time"

// KillApp names an application that must be closed before this version's
// installer runs, identified the way the Catalog and Fleet systems expect:
// a display name paired with a bundle identifier.
type KillApp struct {
	Name     string `json:"name"`
	BundleID string `json:"bundle_id"`
}

// Version is one release of a Title, identified by the pair (title slug,
// version string). It owns its on-disk JSON file and references its parent
// Title only for configuration lookup.
type Version struct {
	Title   string `json:"title" validate:"required"`
	Version string `json:"version" validate:"required"`

	MinOS string `json:"min_os" changelog:"true" validate:"required"`
	MaxOS string `json:"max_os,omitempty" changelog:"true"`

	RebootRequired bool      `json:"reboot_required" changelog:"true"`
	PublishDate    time.Time `json:"publish_date" changelog:"true"`

	// Standalone installers can be deployed without a prior version present;
	// update-only installers require the application to already be present.
	Standalone bool `json:"standalone" changelog:"true"`

	// PilotGroups overrides the title's PilotGroups for this version when
	// non-nil.
	PilotGroups []string `json:"pilot_groups,omitempty" changelog:"true"`

	KillApps []KillApp `json:"killapps,omitempty" changelog:"true"`

	State ReleaseState `json:"state" validate:"required,oneof=pending pilot released deprecated skipped"`

	CreatedAt     time.Time  `json:"created_at"`
	DeprecatedAt  *time.Time `json:"deprecated_at,omitempty"`

	CatalogPatchID       string `json:"catalog_patch_id,omitempty"`
	FleetPackageID       string `json:"fleet_package_id,omitempty"`
	FleetPackageFilename string `json:"fleet_package_filename,omitempty"`
	FleetPatchPolicyID   string `json:"fleet_patch_policy_id,omitempty"`
	FleetManualPolicyID  string `json:"fleet_manual_policy_id,omitempty"`
	FleetAutoPolicyID    string `json:"fleet_auto_policy_id,omitempty"`

	// InstallerLocalPath names a staged installer file on disk (from
	// POST /uploads/pkg) that Create should hand to Fleet.UploadPackage.
	// Request-only: cleared before the version is ever persisted, so it
	// never appears in a stored version's JSON.
	InstallerLocalPath string `json:"installer_local_path,omitempty"`
}

// HasInstaller reports whether an uploaded installer package is attached:
// a version that carries an uploaded installer always has a fleet package
// object.
func (v *Version) HasInstaller() bool {
	return v.FleetPackageID != ""
}

// EffectivePilotGroups returns the version's pilot-group override if set,
// else the title's default.
func (v *Version) EffectivePilotGroups(t *Title) []string {
	if v.PilotGroups != nil {
		return v.PilotGroups
	}
	return t.PilotGroups
}

// AdoptServerFields copies every server-managed field from the stored
// version into v, mirroring Title.AdoptServerFields: an update request
// only carries the admin-editable attributes and must never reset release
// state or catalog/fleet identifiers on re-save.
func (v *Version) AdoptServerFields(stored *Version) {
	v.State = stored.State
	v.CreatedAt = stored.CreatedAt
	v.DeprecatedAt = stored.DeprecatedAt

	v.CatalogPatchID = stored.CatalogPatchID
	v.FleetPackageID = stored.FleetPackageID
	v.FleetPackageFilename = stored.FleetPackageFilename
	v.FleetPatchPolicyID = stored.FleetPatchPolicyID
	v.FleetManualPolicyID = stored.FleetManualPolicyID
	v.FleetAutoPolicyID = stored.FleetAutoPolicyID
}

// IsTerminal reports whether state has no further forward transition
// outside of a rollback (deprecated and skipped are terminal until a
// rollback moves them back to pilot).
func (v *Version) IsTerminal() bool {
	return v.State == StateDeprecated || v.State == StateSkipped
}
