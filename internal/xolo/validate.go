package xolo

import (
	"github.com/go-playground/validator/v10"

	"github.com/xolohq/xolo/internal/xoloerr"
)

var validate = validator.New()

// Validate checks struct tags and Title's business-rule invariants:
// exactly one detection mechanism, at most one uninstall mechanism.
func (t *Title) Validate() error {
	if err := validate.Struct(t); err != nil {
		return xoloerr.InvalidDataf("title %s failed validation: %v", t.Slug, err)
	}
	if !t.HasRequirement() {
		return xoloerr.MissingDataf("title %s must configure exactly one of (app_name+app_bundle_id) or version_script", t.Slug)
	}
	if !t.HasUninstallConfig() {
		return xoloerr.InvalidDataf("title %s may not set both uninstall_script and uninstall_ids", t.Slug)
	}
	return nil
}

// Validate checks struct tags and Version's business-rule invariants.
func (v *Version) Validate() error {
	if err := validate.Struct(v); err != nil {
		return xoloerr.InvalidDataf("version %s/%s failed validation: %v", v.Title, v.Version, err)
	}
	if !v.State.Valid() {
		return xoloerr.InvalidDataf("version %s/%s has invalid state %q", v.Title, v.Version, v.State)
	}
	return nil
}
