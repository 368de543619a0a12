package xolotitle

import (
	"context"
	"sort"
	"time"

	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloerr"
)

const (
	workflowTitleFreeze = "title_freeze"
	workflowTitleThaw   = "title_thaw"
)

// Freeze adds principal (a client identifier as Fleet understands it) to a
// title's frozen static group, exempting that one client from future
// auto-install and expire policies without touching the title's other
// scoping. Routes POST /titles/<slug>/freeze; the frozen
// group itself is created once in Create and never recreated here.
func (s *Service) Freeze(ctx context.Context, admin, host, slug, principal string, prog progress.Reporter) (*xolo.Title, error) {
	return s.setFrozenMembership(ctx, admin, host, slug, principal, true, workflowTitleFreeze, "Frozen "+principal, prog)
}

// Thaw removes principal from a title's frozen static group. Routes POST
// /titles/<slug>/thaw.
func (s *Service) Thaw(ctx context.Context, admin, host, slug, principal string, prog progress.Reporter) (*xolo.Title, error) {
	return s.setFrozenMembership(ctx, admin, host, slug, principal, false, workflowTitleThaw, "Thawed "+principal, prog)
}

func (s *Service) setFrozenMembership(ctx context.Context, admin, host, slug, principal string, add bool, workflow, message string, prog progress.Reporter) (*xolo.Title, error) {
	start := time.Now()
	_, release, err := s.acquireTitleLock(ctx, slug)
	if err != nil {
		s.observe(workflow, "lock_timeout", start)
		return nil, err
	}
	defer release()

	t, err := s.Store.LoadTitle(slug)
	if err != nil {
		s.observe(workflow, "error", start)
		return nil, err
	}
	if t.FleetFrozenGroupID == "" {
		s.observe(workflow, "error", start)
		return nil, xoloerr.MissingDataf("title %q has no frozen group provisioned", slug)
	}

	members := t.FrozenMembers
	if add {
		members = addMember(members, principal)
	} else {
		members = removeMember(members, principal)
	}

	report(prog, "updating frozen group for %s", slug)
	if err := s.Fleet.UpdateStaticGroupMembers(ctx, t.FleetFrozenGroupID, members); err != nil {
		s.observe(workflow, "error", start)
		return nil, err
	}
	t.FrozenMembers = members

	if err := s.Store.SaveTitle(t); err != nil {
		s.observe(workflow, "error", start)
		return nil, err
	}

	if err := s.Changelog.Append(slug, xolo.ChangelogEntry{
		Admin: admin, Host: host, Message: message,
	}); err != nil {
		s.Logger.Warn("changelog append failed after freeze/thaw", "title", slug, "error", err)
	}

	s.observe(workflow, "success", start)
	return t, nil
}

func addMember(members []string, principal string) []string {
	for _, m := range members {
		if m == principal {
			return members
		}
	}
	out := append(append([]string{}, members...), principal)
	sort.Strings(out)
	return out
}

func removeMember(members []string, principal string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != principal {
			out = append(out, m)
		}
	}
	return out
}
