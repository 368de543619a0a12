package xolo

// RequirementKind distinguishes the two mutually exclusive ways Xolo can
// detect whether a title is installed on a client: reading an application's
// bundle identifier, or running an extension-attribute script and parsing
// its output. Every place that dispatches on detection mechanism (catalog
// component creation, Fleet installed-group criteria, the EA-acceptance
// watcher, client-data output) switches on this tag.
type RequirementKind string

const (
	RequirementApp RequirementKind = "app"
	RequirementEA  RequirementKind = "ea"
)

func (k RequirementKind) Valid() bool {
	switch k {
	case RequirementApp, RequirementEA:
		return true
	default:
		return false
	}
}

func (k RequirementKind) String() string { return string(k) }

// Requirement is a tagged union: app detection (name + bundle id) or a
// detection script. Exactly one of the two branches is populated, selected
// by Kind.
type Requirement struct {
	Kind RequirementKind

	// AppName and AppBundleID are set when Kind == RequirementApp.
	AppName     string
	AppBundleID string

	// Script is the extension-attribute source, set when Kind == RequirementEA.
	Script string
}

// NewAppRequirement builds an app-based Requirement.
func NewAppRequirement(name, bundleID string) Requirement {
	return Requirement{Kind: RequirementApp, AppName: name, AppBundleID: bundleID}
}

// NewEARequirement builds a script-based Requirement.
func NewEARequirement(script string) Requirement {
	return Requirement{Kind: RequirementEA, Script: script}
}

// RequirementOf derives a Title's Requirement from its stored fields.
// Exactly one of (AppName+AppBundleID) or VersionScript must be non-empty;
// callers validate that invariant separately (see Title.Validate).
func RequirementOf(t *Title) Requirement {
	if t.AppName != "" || t.AppBundleID != "" {
		return NewAppRequirement(t.AppName, t.AppBundleID)
	}
	return NewEARequirement(t.VersionScript)
}

// TransitionKind classifies how a title's requirement changed between two
// RequirementOf snapshots.
type TransitionKind string

const (
	TransitionNone     TransitionKind = "none"
	TransitionAppToEA  TransitionKind = "app_to_ea"
	TransitionEAToApp  TransitionKind = "ea_to_app"
	TransitionUpdateApp TransitionKind = "update_app"
	TransitionUpdateEA  TransitionKind = "update_ea"
)

// ClassifyTransition compares the requirement before and after an update.
func ClassifyTransition(before, after Requirement) TransitionKind {
	switch {
	case before.Kind == RequirementApp && after.Kind == RequirementEA:
		return TransitionAppToEA
	case before.Kind == RequirementEA && after.Kind == RequirementApp:
		return TransitionEAToApp
	case before.Kind == RequirementApp && after.Kind == RequirementApp:
		if before.AppName != after.AppName || before.AppBundleID != after.AppBundleID {
			return TransitionUpdateApp
		}
		return TransitionNone
	case before.Kind == RequirementEA && after.Kind == RequirementEA:
		if before.Script != after.Script {
			return TransitionUpdateEA
		}
		return TransitionNone
	default:
		return TransitionNone
	}
}
