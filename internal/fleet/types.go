package fleet

import (
	"context"

	"github.com/xolohq/xolo/internal/xolo"
)

// GroupKind distinguishes a smart group (computed membership, used for
// "installed") from a static group (explicit membership, used for
// "frozen").
type GroupKind string

const (
	GroupSmart  GroupKind = "smart"
	GroupStatic GroupKind = "static"
)

// PolicyKind names the Fleet policy families.
type PolicyKind string

const (
	PolicyManualInstall PolicyKind = "manual_install"
	PolicyAutoInstall   PolicyKind = "auto_install"
	PolicyPatch         PolicyKind = "patch"
	PolicyUninstall     PolicyKind = "uninstall"
	PolicyExpire        PolicyKind = "expire"
	PolicyClientData    PolicyKind = "client_data"
)

// Scope describes a policy's targeting: groups to include plus groups to
// exclude, used by manual-install, auto-install, uninstall, and expire
// policies.
type Scope struct {
	TargetGroupIDs   []string `json:"target_group_ids"`
	ExcludedGroupIDs []string `json:"excluded_group_ids,omitempty"`
}

// PackageSpec is the payload for CreatePackage.
type PackageSpec struct {
	Filename  string `json:"filename"`
	CategoryID string `json:"category_id,omitempty"`
}

// Package is what Fleet reports back about a package object.
type Package struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// PolicySpec is the payload shared by the various CreateXPolicy calls; not
// every field applies to every kind (e.g. AllowDowngrade only matters for
// patch policies).
type PolicySpec struct {
	Name            string     `json:"name"`
	Kind            PolicyKind `json:"kind"`
	Scope           Scope      `json:"scope"`
	PackageID       string     `json:"package_id,omitempty"`
	Enabled         bool       `json:"enabled"`
	RebootRequired  bool       `json:"reboot_required,omitempty"`
	AllowDowngrade  bool       `json:"allow_downgrade,omitempty"`
	SelfService     bool       `json:"self_service,omitempty"`
	ExpirationDays  int        `json:"expiration_days,omitempty"`
	UninstallScript string     `json:"uninstall_script,omitempty"`
	UninstallIDs    []string   `json:"uninstall_ids,omitempty"`
}

// PolicyUpdate is a partial update applied to an existing policy.
type PolicyUpdate struct {
	Scope          *Scope  `json:"scope,omitempty"`
	PackageID      *string `json:"package_id,omitempty"`
	Enabled        *bool   `json:"enabled,omitempty"`
	RebootRequired *bool   `json:"reboot_required,omitempty"`
	AllowDowngrade *bool   `json:"allow_downgrade,omitempty"`
	SelfService    *bool   `json:"self_service,omitempty"`
	ExpirationDays *int    `json:"expiration_days,omitempty"`
}

// EACriteria is the payload for upserting a title's duplicate "normal" EA
// (the non-patch-subscribed copy used by Fleet smart-group criteria).
type EACriteria struct {
	Name   string `json:"name"`
	Script string `json:"script"`
}

// EAAcceptance reports whether Fleet has acknowledged a Catalog-side EA
// change, polled by the EA-acceptance watcher.
type EAAcceptance struct {
	TitleSlug string `json:"title_slug"`
	Accepted  bool   `json:"accepted"`
}

// InstalledGroupCriteria builds the smart-group membership rule for a
// title's "installed" group from its Requirement, switching on Kind.
func InstalledGroupCriteria(req xolo.Requirement, normalEAName string) map[string]interface{} {
	switch req.Kind {
	case xolo.RequirementApp:
		return map[string]interface{}{
			"type":       "application_bundle_id",
			"bundle_id":  req.AppBundleID,
		}
	default:
		return map[string]interface{}{
			"type": "extension_attribute",
			"name": normalEAName,
		}
	}
}

// Session is what Fleet returns for a validated admin credential: the
// principal identifier internal/api stores in the session cookie and later
// passes to IsGroupMember for authorization.
type Session struct {
	Principal string `json:"principal"`
}

// Client is the narrow interface onto the downstream Fleet Management
// service. Like internal/catalog.Client, it is opened
// per-request by the calling workflow.
type Client interface {
	// Login validates username/password against Fleet's own identity
	// endpoint, by attempting a credential-validated connection to the
	// upstream identity provider. A non-nil error means the
	// credential was rejected or Fleet was unreachable; internal/api maps
	// both to 401 since no session can be established either way.
	Login(ctx context.Context, username, password string) (Session, error)

	EnsureCategory(ctx context.Context, name string) (categoryID string, err error)

	CreateGroup(ctx context.Context, name string, kind GroupKind, criteria map[string]interface{}) (groupID string, err error)
	UpdateGroupCriteria(ctx context.Context, groupID string, criteria map[string]interface{}) error
	UpdateStaticGroupMembers(ctx context.Context, groupID string, memberIDs []string) error
	DeleteGroup(ctx context.Context, groupID string) error

	CreatePackage(ctx context.Context, spec PackageSpec) (Package, error)
	UpdatePackage(ctx context.Context, packageID string, spec PackageSpec) error
	DeletePackage(ctx context.Context, packageID string) error
	UploadPackage(ctx context.Context, packageID, localPath string) error

	CreatePolicy(ctx context.Context, spec PolicySpec) (policyID string, err error)
	UpdatePolicy(ctx context.Context, policyID string, patch PolicyUpdate) error
	EnablePolicy(ctx context.Context, policyID string) error
	DisablePolicy(ctx context.Context, policyID string) error
	DeletePolicy(ctx context.Context, policyID string) error

	ActivatePatchTitle(ctx context.Context, slug, catalogTitleID string) (fleetPatchTitleID string, err error)
	DeactivatePatchTitle(ctx context.Context, fleetPatchTitleID string) error
	AssignPatchPackage(ctx context.Context, fleetPatchTitleID, version, packageID string) error

	UpsertNormalEA(ctx context.Context, criteria EACriteria) (eaID string, err error)
	DeleteEA(ctx context.Context, eaID string) error
	EAAcceptanceStatus(ctx context.Context, titleSlug string) (EAAcceptance, error)
	AcceptEA(ctx context.Context, titleSlug string) error

	UploadIcon(ctx context.Context, localPath string) (iconID string, err error)

	DeployMDM(ctx context.Context, deviceGroupID, packageID string) error

	IsGroupMember(ctx context.Context, groupID, principal string) (bool, error)

	FlushPolicyLogs(ctx context.Context, policyID string) error
}
