package xolo

import "time"

// Title is a logical software product managed by Xolo, identified by a
// short slug. It owns an ordered sequence of versions (newest first, see
// VersionOrder), a nullable released version, a changelog, and a set of
// catalog/fleet side-objects created on first contact with those systems.
//
// Fields tagged `changelog:"true"` are the attributes internal/xolotitle's
// diff engine compares when computing an update's change set; array fields
// are compared as sorted multisets.
type Title struct {
	Slug        string `json:"slug" validate:"required,min=1,max=128"`
	DisplayName string `json:"display_name" changelog:"true" validate:"required,max=256"`
	Publisher   string `json:"publisher" changelog:"true" validate:"max=256"`

	// Exactly one of (AppName+AppBundleID) or VersionScript is set — see
	// Validate and RequirementOf.
	AppName       string `json:"app_name,omitempty" changelog:"true"`
	AppBundleID   string `json:"app_bundle_id,omitempty" changelog:"true"`
	VersionScript string `json:"version_script,omitempty" changelog:"true"`

	SelfService         bool   `json:"self_service" changelog:"true"`
	SelfServiceCategory string `json:"self_service_category,omitempty" changelog:"true"`
	Description         string `json:"description,omitempty" changelog:"true"`

	// Contact receives the scheduler's monthly unreleased-pilot notice.
	Contact string `json:"contact,omitempty" changelog:"true" validate:"omitempty,email"`

	PilotGroups    []string `json:"pilot_groups" changelog:"true"`
	ReleaseGroups  []string `json:"release_groups" changelog:"true"`
	ExcludedGroups []string `json:"excluded_groups" changelog:"true"`

	// UninstallScript and UninstallIDs are mutually exclusive, mirroring the
	// AppName/VersionScript split.
	UninstallScript string   `json:"uninstall_script,omitempty" changelog:"true"`
	UninstallIDs    []string `json:"uninstall_ids,omitempty" changelog:"true"`

	// ExpirationDays <= 0 disables the expire policy.
	ExpirationDays int `json:"expiration_days" changelog:"true"`

	// VersionOrder holds version identifiers, newest first. It is the
	// authoritative ordering used by the release engine.
	VersionOrder []string `json:"version_order"`

	// ReleasedVersion is empty when no version is currently released.
	ReleasedVersion string `json:"released_version,omitempty"`

	// Catalog/Fleet side-object identifiers, assigned on first contact with
	// those systems and thereafter stable.
	CatalogTitleID         string `json:"catalog_title_id,omitempty"`
	FleetCategoryID        string `json:"fleet_category_id,omitempty"`
	FleetInstalledGroupID  string `json:"fleet_installed_group_id,omitempty"`
	FleetFrozenGroupID     string `json:"fleet_frozen_group_id,omitempty"`
	FleetPatchTitleID      string `json:"fleet_patch_title_id,omitempty"`
	FleetNormalEAID        string `json:"fleet_normal_ea_id,omitempty"`
	FleetInstallLatestID   string `json:"fleet_install_latest_policy_id,omitempty"`
	FleetUninstallPolicyID string `json:"fleet_uninstall_policy_id,omitempty"`
	FleetExpirePolicyID    string `json:"fleet_expire_policy_id,omitempty"`
	FleetIconID            string `json:"fleet_icon_id,omitempty"`

	// FrozenMembers lists the client principals currently in the frozen
	// static group (Freeze/Thaw), kept in sorted order for deterministic
	// UpdateStaticGroupMembers calls and diffable persisted JSON.
	FrozenMembers []string `json:"frozen_members,omitempty"`

	// IconUploadID names the self-service icon file
	// (titles/<slug>/self-service-icon.<ext>) by its upload-time identifier.
	IconUploadID string `json:"icon_upload_id,omitempty" changelog:"true"`

	// IconLocalPath points at the staged icon file (from POST /uploads/icon)
	// a create/update workflow should persist and push to Fleet.
	// Request-only: cleared before the title is persisted, like
	// Version.InstallerLocalPath.
	IconLocalPath string `json:"icon_local_path,omitempty"`

	CreatedAt time.Time `json:"creation_date"`
	CreatedBy string    `json:"created_by"`
}

// Object suffixes for every Catalog/Fleet side-object Xolo owns for a
// title. A remote name is always a fixed prefix, the title slug, and a
// per-object suffix; the prefix is injected by the caller (xoloconfig's
// fleet object-name prefix) rather than hardcoded here.
const (
	SuffixInstalledGroup = "installed"
	SuffixFrozenGroup    = "frozen"
	SuffixNormalEA       = "ea"
	SuffixManualInstall  = "manual-install"
	SuffixAutoInstall    = "auto-install"
	SuffixUninstall      = "uninstall"
	SuffixExpire         = "expire"
	SuffixInstallLatest  = "install-latest"
)

// ObjectName builds a title's namespaced remote object name:
// <prefix><slug>-<suffix>.
func ObjectName(prefix, slug, suffix string) string {
	return prefix + slug + "-" + suffix
}

// HasRequirement reports whether exactly one detection mechanism is
// configured.
func (t *Title) HasRequirement() bool {
	appSet := t.AppName != "" && t.AppBundleID != ""
	scriptSet := t.VersionScript != ""
	return appSet != scriptSet // exactly one, not both, not neither
}

// HasUninstallConfig reports whether at most one uninstall mechanism is
// configured (both absent is valid — no custom uninstall behavior).
func (t *Title) HasUninstallConfig() bool {
	scriptSet := t.UninstallScript != ""
	idsSet := len(t.UninstallIDs) > 0
	return !(scriptSet && idsSet)
}

// IsReleased reports whether version is the title's currently released
// version.
func (t *Title) IsReleased(version string) bool {
	return t.ReleasedVersion != "" && t.ReleasedVersion == version
}

// VersionIndex returns the position of version within VersionOrder, or -1.
func (t *Title) VersionIndex(version string) int {
	for i, v := range t.VersionOrder {
		if v == version {
			return i
		}
	}
	return -1
}

// PrependVersion inserts version at the front of VersionOrder (newest
// first), used by Version.create.
func (t *Title) PrependVersion(version string) {
	t.VersionOrder = append([]string{version}, t.VersionOrder...)
}

// AdoptServerFields copies every server-managed field from the stored
// title into t, so an update request that carries only the admin-editable
// attributes can never wipe catalog/fleet identifiers, version ordering,
// or creation metadata on re-save.
func (t *Title) AdoptServerFields(stored *Title) {
	t.VersionOrder = stored.VersionOrder
	t.ReleasedVersion = stored.ReleasedVersion
	t.FrozenMembers = stored.FrozenMembers
	t.CreatedAt = stored.CreatedAt
	t.CreatedBy = stored.CreatedBy

	t.CatalogTitleID = stored.CatalogTitleID
	t.FleetCategoryID = stored.FleetCategoryID
	t.FleetInstalledGroupID = stored.FleetInstalledGroupID
	t.FleetFrozenGroupID = stored.FleetFrozenGroupID
	t.FleetPatchTitleID = stored.FleetPatchTitleID
	t.FleetNormalEAID = stored.FleetNormalEAID
	t.FleetInstallLatestID = stored.FleetInstallLatestID
	t.FleetUninstallPolicyID = stored.FleetUninstallPolicyID
	t.FleetExpirePolicyID = stored.FleetExpirePolicyID
	t.FleetIconID = stored.FleetIconID
}

// RemoveVersion deletes version from VersionOrder, preserving order.
func (t *Title) RemoveVersion(version string) {
	out := t.VersionOrder[:0]
	for _, v := range t.VersionOrder {
		if v != version {
			out = append(out, v)
		}
	}
	t.VersionOrder = out
}
