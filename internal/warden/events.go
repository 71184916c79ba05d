package warden

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/warden/internal/lifecycle"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/roles"
)

// OnMemberUpdate syncs the member's lead hierarchy, updates their access to other
// members' reviews and schedules a repair of their own review when their bucket changed.
func (e *Engine) OnMemberUpdate(ctx context.Context, ev platform.MemberUpdate) {
	if ev.Member.Bot {
		return
	}
	uid := ev.Member.ID
	log := e.logger.With("user_id", uid)

	m, err := e.platform.Member(ctx, uid)
	if errors.Is(err, platform.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn("member_refetch_failed", "error", err)
		m = ev.Member
	}
	e.syncLeadRoles(ctx, m)

	if e.leadRolesChanged(ev.Before, ev.Member.Roles) {
		res, err := e.UpdateLeadAccess(ctx, uid, ev.Member.Roles)
		switch {
		case errors.Is(err, ErrSuperseded):
			log.Info("lead_access_skipped", "reverted", res.Reverted)
		case err != nil:
			log.Warn("lead_access_failed", "error", err)
		}
	}

	rec, ok := e.registry.Get(uid)
	if !ok {
		return
	}
	if bucketRolesChanged(e.classifier, ev.Before, ev.Member.Roles) {
		e.ownerChanges.Trigger(uid)
	}
	if ev.Before != nil && !e.classifier.HasGuildRole(ev.Before) && e.classifier.HasGuildRole(m.Roles) && !rec.Open() {
		res, err := e.ctl.Open(ctx, uid)
		if err != nil {
			log.Warn("guild_return_reopen_failed", "error", err)
			return
		}
		log.Info("guild_return_reopened", "thread_id", res.ThreadID, "outcome", string(res.Outcome))
	}
}

// bucketRolesChanged reports whether the bucket roles differ between two snapshots.
func bucketRolesChanged(c *roles.Classifier, before, after roles.Set) bool {
	if before == nil {
		return true
	}
	pick := func(s roles.Set) roles.Set {
		out := roles.NewSet()
		for id := range s {
			if _, ok := c.Bucket(id); ok {
				out[id] = struct{}{}
			}
		}
		return out
	}
	return !pick(before).Equal(pick(after))
}

// handleOwnerChange runs once a burst of role updates for an owner has settled.
func (e *Engine) handleOwnerChange(uid string) {
	ctx := e.baseContext()
	if ctx.Err() != nil {
		return
	}
	unlock, err := e.locks.Lock(ctx, uid)
	if err != nil {
		return
	}
	defer unlock()

	report, err := e.ctl.Repair(ctx, uid, lifecycle.RepairOptions{})
	log := e.logger.With("user_id", uid)
	switch {
	case errors.Is(err, lifecycle.ErrNoReview):
	case errors.Is(err, lifecycle.ErrOperationPending):
		log.Info("owner_change_deferred")
		e.ownerChanges.Trigger(uid)
	case err != nil:
		log.Warn("owner_change_failed", "error", err)
	case report.Outcome == lifecycle.RepairUnclassified:
		log.Info("owner_change_waiting", "reason", report.Err.Error())
	default:
		log.Info("owner_change_applied", "outcome", string(report.Outcome), "renamed", report.Rename.Renamed)
	}
}

// OnMemberRemove closes the departed member's open review.
func (e *Engine) OnMemberRemove(ctx context.Context, ev platform.MemberRemove) {
	rec, ok := e.registry.Get(ev.UserID)
	if !ok || !rec.Open() {
		return
	}
	outcome, err := e.ctl.CloseAs(ctx, ev.UserID, fmt.Sprintf("Closed: <@%s> has left the server.", ev.UserID))
	if err != nil {
		e.logger.Warn("departed_close_failed", "user_id", ev.UserID, "error", err)
		return
	}
	e.logger.Info("departed_review_closed", "user_id", ev.UserID, "outcome", string(outcome))
}

// OnThreadUpdate follows archive and lock changes made outside the bot and reverts titles
// that lose the owner suffix.
func (e *Engine) OnThreadUpdate(ctx context.Context, ev platform.ThreadUpdate) {
	rec, ok := e.registry.FindByThread(ev.After.ID)
	if !ok || e.ctl.Pending(rec.UserID) {
		return
	}
	log := e.logger.With("user_id", rec.UserID, "thread_id", rec.ThreadID)
	after := ev.After

	wasOpen := rec.Open()
	nowOpen := !after.Archived && !after.Locked
	switch {
	case wasOpen && !nowOpen:
		e.registry.Update(rec.UserID, func(r *registry.Record) {
			if after.Archived && !r.Archived {
				r.ArchivedAt = e.now()
			}
			r.Archived, r.Locked = after.Archived, after.Locked
		})
		log.Info("review_closed_externally", "archived", after.Archived, "locked", after.Locked)
	case !wasOpen && nowOpen:
		_, err := e.ctl.Reopen(ctx, rec.UserID, "Thread reopened.")
		switch {
		case errors.Is(err, lifecycle.ErrOperationPending):
		case err != nil:
			log.Warn("external_reopen_failed", "error", err)
		default:
			log.Info("review_reopened_externally")
		}
	}

	if owner, ok := lifecycle.ParseOwner(after.Name); ok && owner == rec.UserID {
		return
	}
	if ev.Before != nil && ev.Before.Name == after.Name {
		return
	}
	e.revertTitle(ctx, rec, ev)
}

func (e *Engine) revertTitle(ctx context.Context, rec registry.Record, ev platform.ThreadUpdate) {
	log := e.logger.With("user_id", rec.UserID, "thread_id", rec.ThreadID)
	_, err := e.ctl.Rename(ctx, rec.UserID)
	if err != nil && ev.Before != nil {
		log.Warn("title_rename_failed", "error", err)
		err = e.retry.Do(ctx, "rename_thread", func(ctx context.Context) error {
			return e.platform.RenameThread(ctx, rec.ThreadID, ev.Before.Name)
		})
	}
	if err != nil {
		log.Warn("title_revert_failed", "error", err)
		return
	}
	log.Info("title_reverted", "attempted", ev.After.Name)

	if e.cfg.Channels.Notifications == "" {
		return
	}
	admin := "Admins"
	if e.cfg.AdminUserID != "" {
		admin = "<@" + e.cfg.AdminUserID + ">"
	}
	content := fmt.Sprintf("%s: the title of <#%s> was changed to %q and has been reverted.", admin, rec.ThreadID, ev.After.Name)
	if _, err := e.platform.Send(ctx, e.cfg.Channels.Notifications, platform.OutgoingMessage{Content: content}); err != nil {
		log.Warn("title_revert_notify_failed", "error", err)
	}
}

// OnThreadDelete drops the record backed by a deleted thread. Deletions the bot started
// itself are ignored once the record has moved on.
func (e *Engine) OnThreadDelete(ctx context.Context, ev platform.ThreadDelete) {
	rec, ok := e.registry.FindByThread(ev.ThreadID)
	if e.ctl.DeletionInFlight(ev.ThreadID) && !ok {
		e.logger.Debug("planned_delete_observed", "thread_id", ev.ThreadID)
		return
	}
	if !ok {
		return
	}
	if e.registry.DeleteIfThread(rec.UserID, ev.ThreadID) {
		e.logger.Info("review_dropped", "user_id", rec.UserID, "thread_id", ev.ThreadID, "reason", "thread deleted")
		e.metrics.LifecycleOp("drop", "external_delete")
	}
}
