package catalog

import (
	"context"

	"github.com/xolohq/xolo/internal/xolo"
)

// TitleSpec is the payload for CreateTitle.
type TitleSpec struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"display_name"`
	Publisher   string `json:"publisher"`
}

// TitlePatch is the payload for UpdateTitle — only non-zero fields are
// applied, mirroring Title.update's attribute-level diff.
type TitlePatch struct {
	DisplayName *string `json:"display_name,omitempty"`
	Publisher   *string `json:"publisher,omitempty"`
}

// PatchAttrs is the payload for CreatePatch/UpdatePatch.
type PatchAttrs struct {
	Version     string `json:"version"`
	MinOS       string `json:"min_os"`
	MaxOS       string `json:"max_os,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`
	Standalone  bool   `json:"standalone"`
}

// Visibility reports whether a patch version is visible yet to clients,
// polled by the patch-visibility watcher.
type Visibility struct {
	Version string `json:"version"`
	Visible bool   `json:"visible"`
}

// Client is the narrow interface onto the upstream Patch Catalog
// service. Connections are opened per-request by the caller
// (internal/xolotitle, internal/xoloversion) and torn down at request end —
// the HTTPClient implementation below is itself stateless aside from its
// pooled http.Client and rate limiter.
type Client interface {
	TitleExists(ctx context.Context, slug string) (bool, error)
	CreateTitle(ctx context.Context, spec TitleSpec) (catalogTitleID string, err error)
	UpdateTitle(ctx context.Context, slug string, patch TitlePatch) error
	DeleteTitle(ctx context.Context, slug string) error

	SetRequirement(ctx context.Context, slug string, req xolo.Requirement) error

	CreatePatch(ctx context.Context, slug string, attrs PatchAttrs) (catalogPatchID string, err error)
	UpdatePatch(ctx context.Context, slug, version string, attrs PatchAttrs) error
	EnablePatch(ctx context.Context, slug, version string) error
	DeletePatch(ctx context.Context, slug, version string) error

	SetPatchComponent(ctx context.Context, slug, version string, req xolo.Requirement) error
	SetPatchCapabilities(ctx context.Context, slug, version, minOS, maxOS string) error
	SetPatchKillApps(ctx context.Context, slug, version string, killApps []xolo.KillApp) error

	PatchVisibility(ctx context.Context, slug, version string) (Visibility, error)
}
