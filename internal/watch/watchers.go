package watch

import (
	"context"
	"time"
)

// Watcher kind labels, used both as metrics dimensions and as the
// Registry's dedup key prefix.
const (
	KindPatchVisibility = "patch_visibility"
	KindEAAcceptance    = "ea_acceptance"
)

// Default poll intervals and budgets for the two watcher kinds
const (
	PatchVisibilityInterval = 15 * time.Second
	PatchVisibilityBudget   = 60 * time.Minute

	EAAcceptanceInterval = 30 * time.Second
	EAAcceptanceBudget   = 60 * time.Minute
)

// StartPatchVisibility polls isVisible every PatchVisibilityInterval until
// it reports true or PatchVisibilityBudget elapses. On success it invokes
// onVisible (assign the package to the patch version in Fleet, then create
// the patch policy). onTimeout is called with an alert-level log already
// emitted by the registry.
func (r *Registry) StartPatchVisibility(
	ctx context.Context,
	titleSlug, version string,
	isVisible func(ctx context.Context) (bool, error),
	onVisible func(ctx context.Context) error,
	onTimeout func(),
) bool {
	key := titleSlug + "/" + version
	return r.Start(ctx, KindPatchVisibility, key, PatchVisibilityInterval, PatchVisibilityBudget,
		func(ctx context.Context) (bool, error) {
			visible, err := isVisible(ctx)
			if err != nil || !visible {
				return false, err
			}
			if err := onVisible(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		onTimeout,
	)
}

// StartEAAcceptance polls hasAccepted (Fleet reports accepted=false once
// it has noticed the Catalog-side change) every
// EAAcceptanceInterval until it returns false (meaning "not yet accepted,
// submit acceptance now") or the budget elapses.
func (r *Registry) StartEAAcceptance(
	ctx context.Context,
	titleSlug string,
	hasAccepted func(ctx context.Context) (bool, error),
	submitAcceptance func(ctx context.Context) error,
	onTimeout func(),
) bool {
	return r.Start(ctx, KindEAAcceptance, titleSlug, EAAcceptanceInterval, EAAcceptanceBudget,
		func(ctx context.Context) (bool, error) {
			accepted, err := hasAccepted(ctx)
			if err != nil {
				return false, err
			}
			if accepted {
				return false, nil // still waiting for Fleet to notice the change
			}
			if err := submitAcceptance(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		onTimeout,
	)
}
