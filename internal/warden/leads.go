package warden

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/roles"
)

// ErrSuperseded is returned when a queued access change no longer matches the member's
// current roles.
var ErrSuperseded = errors.New("superseded by a newer role change")

// SyncAllLeadRoles brings every member's category and master lead roles in line with the
// bucket-lead roles they hold.
func (e *Engine) SyncAllLeadRoles(ctx context.Context) error {
	members, err := e.platform.Members(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch members: %w", err)
	}
	changed := 0
	for _, m := range members {
		if m.Bot {
			continue
		}
		if _, n := e.syncLeadRoles(ctx, m); n > 0 {
			changed++
		}
	}
	e.logger.Info("lead_roles_synced", "members", len(members), "changed", changed)
	return nil
}

// expandLeads returns the role set the member should hold once the lead hierarchy is
// applied.
func (e *Engine) expandLeads(set roles.Set) roles.Set {
	out := roles.NewSet(set.IDs()...)
	for id, want := range e.classifier.LeadRoles(set) {
		if want {
			out[id] = struct{}{}
		} else {
			delete(out, id)
		}
	}
	return out
}

// syncLeadRoles adds and removes managed lead roles for m. It returns the roles the member
// holds afterwards and the number of changes made. Failed changes are logged and left out
// of the returned set.
func (e *Engine) syncLeadRoles(ctx context.Context, m platform.Member) (roles.Set, int) {
	held := roles.NewSet(m.Roles.IDs()...)
	want := e.classifier.LeadRoles(m.Roles)

	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n := 0
	for _, id := range ids {
		switch {
		case want[id] && !held.Has(id):
			if err := e.retry.Do(ctx, "add_role", func(ctx context.Context) error {
				return e.platform.AddRole(ctx, m.ID, id)
			}); err != nil {
				e.logger.Warn("lead_role_add_failed", "user_id", m.ID, "role_id", id, "error", err)
				continue
			}
			held[id] = struct{}{}
			n++
			e.logger.Info("lead_role_added", "user_id", m.ID, "role_id", id)
		case !want[id] && held.Has(id):
			if err := e.retry.Do(ctx, "remove_role", func(ctx context.Context) error {
				return e.platform.RemoveRole(ctx, m.ID, id)
			}); err != nil {
				e.logger.Warn("lead_role_remove_failed", "user_id", m.ID, "role_id", id, "error", err)
				continue
			}
			delete(held, id)
			n++
			e.logger.Info("lead_role_removed", "user_id", m.ID, "role_id", id)
		}
	}
	return held, n
}

// leadSubset keeps only the roles that grant access to review threads.
func (e *Engine) leadSubset(set roles.Set) roles.Set {
	out := roles.NewSet()
	for id := range set {
		if e.classifier.IsBucketLeadRole(id) {
			out[id] = struct{}{}
			continue
		}
		if _, ok := e.classifier.CategoryByLeadRole(id); ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// leadRolesChanged reports whether an update touched any access-granting role. A missing
// before snapshot counts as a change.
func (e *Engine) leadRolesChanged(before, after roles.Set) bool {
	if before == nil {
		return true
	}
	return !e.leadSubset(e.expandLeads(before)).Equal(e.leadSubset(e.expandLeads(after)))
}

// accessStep is one membership change applied for a lead.
type accessStep struct {
	threadID string
	add      bool
}

// AccessResult reports what UpdateLeadAccess did.
type AccessResult struct {
	Added      []string // thread ids
	Removed    []string
	Superseded bool
	Reverted   int
}

// UpdateLeadAccess brings a member's access to every open review in line with the lead
// roles they held when the change was observed (trigger). It runs under the member's lock.
// Before every step the member is re-fetched; if their access roles no longer match
// trigger the steps already applied are reversed and ErrSuperseded is returned.
func (e *Engine) UpdateLeadAccess(ctx context.Context, userID string, trigger roles.Set) (AccessResult, error) {
	unlock, err := e.locks.Lock(ctx, userID)
	if err != nil {
		return AccessResult{}, err
	}
	defer unlock()

	want := e.leadSubset(e.expandLeads(trigger))
	current := func() (bool, error) {
		m, err := e.platform.Member(ctx, userID)
		if errors.Is(err, platform.ErrNotFound) {
			return want.Equal(roles.NewSet()), nil
		}
		if err != nil {
			return false, err
		}
		return e.leadSubset(e.expandLeads(m.Roles)).Equal(want), nil
	}

	var res AccessResult
	if ok, err := current(); err != nil {
		return res, fmt.Errorf("failed to re-fetch member: %w", err)
	} else if !ok {
		res.Superseded = true
		e.logger.Info("lead_access_superseded", "user_id", userID, "applied", 0, "reverted", 0)
		return res, ErrSuperseded
	}

	var applied []accessStep
	for _, rec := range e.registry.Snapshot() {
		if !rec.Open() || rec.UserID == userID {
			continue
		}
		entitled, known := e.entitled(rec, want)
		if !known {
			// Bucket unknown until the pending migration settles; leave membership alone.
			e.logger.Debug("lead_access_bucket_unknown", "user_id", userID, "thread_id", rec.ThreadID)
			continue
		}

		members, err := e.platform.ThreadMembers(ctx, rec.ThreadID)
		if errors.Is(err, platform.ErrNotFound) {
			continue
		}
		if err != nil {
			e.logger.Warn("lead_access_members_failed", "thread_id", rec.ThreadID, "error", err)
			continue
		}
		present := contains(members, userID)
		if present == entitled {
			continue
		}

		ok, err := current()
		if err != nil {
			e.logger.Warn("lead_access_refetch_failed", "user_id", userID, "error", err)
			continue
		}
		if !ok {
			res.Superseded = true
			res.Reverted = e.revert(ctx, userID, applied)
			e.logger.Info("lead_access_superseded", "user_id", userID, "applied", len(applied), "reverted", res.Reverted)
			return res, ErrSuperseded
		}

		step := accessStep{threadID: rec.ThreadID, add: entitled}
		if err := e.applyStep(ctx, userID, step); err != nil {
			e.logger.Warn("lead_access_step_failed", "user_id", userID, "thread_id", rec.ThreadID, "add", entitled, "error", err)
			continue
		}
		applied = append(applied, step)
		if step.add {
			res.Added = append(res.Added, rec.ThreadID)
		} else {
			res.Removed = append(res.Removed, rec.ThreadID)
		}
	}

	if len(applied) > 0 {
		e.logger.Info("lead_access_updated", "user_id", userID, "added", len(res.Added), "removed", len(res.Removed))
	}
	return res, nil
}

// entitled reports whether a holder of leads may see the review: they need the category
// lead role and the lead role of the owner's bucket. known is false when the record's
// bucket cannot be resolved in its category.
func (e *Engine) entitled(rec registry.Record, leads roles.Set) (entitled, known bool) {
	b, ok := e.classifier.Bucket(rec.BucketRoleID)
	if !ok || b.Category != rec.Category {
		return false, false
	}
	return leads.Has(rec.LeadRoleID) && leads.Has(b.LeadRoleID), true
}

func (e *Engine) applyStep(ctx context.Context, userID string, s accessStep) error {
	name := "remove_member"
	if s.add {
		name = "add_member"
	}
	return e.retry.Do(ctx, name, func(ctx context.Context) error {
		if s.add {
			return e.platform.AddThreadMember(ctx, s.threadID, userID)
		}
		return e.platform.RemoveThreadMember(ctx, s.threadID, userID)
	})
}

// revert undoes applied steps newest first and returns how many were undone.
func (e *Engine) revert(ctx context.Context, userID string, applied []accessStep) int {
	n := 0
	for i := len(applied) - 1; i >= 0; i-- {
		inverse := accessStep{threadID: applied[i].threadID, add: !applied[i].add}
		if err := e.applyStep(ctx, userID, inverse); err != nil {
			e.logger.Error("lead_access_revert_failed", "user_id", userID, "thread_id", inverse.threadID, "error", err)
			continue
		}
		n++
	}
	return n
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
