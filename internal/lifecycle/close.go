package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/registry"
)

// CloseOutcome describes what Close did.
type CloseOutcome string

const (
	CloseClosed        CloseOutcome = "closed"
	CloseAlreadyClosed CloseOutcome = "already_closed"
)

// Closer roles, reported in the thread note.
const (
	ClosedByOwner  = "Thread Owner"
	ClosedByLead   = "Class Lead"
	ClosedByAdmin  = "Administrator"
	ClosedBySystem = "System"
)

// CanClose reports the role under which actor may close the owner's review, or "".
func (c *Controller) CanClose(rec registry.Record, actor platform.Member) string {
	switch {
	case actor.Administrator || (c.opts.AdminUserID != "" && actor.ID == c.opts.AdminUserID):
		return ClosedByAdmin
	case actor.Roles.Has(rec.LeadRoleID):
		return ClosedByLead
	case actor.ID == rec.UserID:
		return ClosedByOwner
	}
	return ""
}

// Close archives and locks the owner's review on behalf of actor, who must be the owner,
// a holder of the category lead role or an administrator.
func (c *Controller) Close(ctx context.Context, ownerID string, actor platform.Member) (CloseOutcome, error) {
	rec, ok := c.registry.Get(ownerID)
	if !ok {
		return "", ErrNoReview
	}
	as := c.CanClose(rec, actor)
	if as == "" {
		c.metrics.LifecycleOp("close", "forbidden")
		return "", ErrForbidden
	}

	release, err := c.acquire(ownerID)
	if err != nil {
		return "", err
	}
	defer release()

	// A migration may have repointed the review while the marker was being taken.
	if rec, ok = c.registry.Get(ownerID); !ok {
		return "", ErrNoReview
	}
	if as = c.CanClose(rec, actor); as == "" {
		c.metrics.LifecycleOp("close", "forbidden")
		return "", ErrForbidden
	}

	note := fmt.Sprintf("This thread was closed by <@%s> (%s).", actor.ID, as)
	return c.close(ctx, rec, note, actor.ID, as)
}

// CloseAs closes the owner's review without a permission check, leaving note in the thread.
func (c *Controller) CloseAs(ctx context.Context, ownerID, note string) (CloseOutcome, error) {
	release, err := c.acquire(ownerID)
	if err != nil {
		return "", err
	}
	defer release()

	rec, ok := c.registry.Get(ownerID)
	if !ok {
		return "", ErrNoReview
	}
	return c.close(ctx, rec, note, "", ClosedBySystem)
}

func (c *Controller) close(ctx context.Context, rec registry.Record, note, actorID, as string) (CloseOutcome, error) {
	thread, err := c.thread(ctx, rec.ThreadID)
	if errors.Is(err, platform.ErrNotFound) {
		c.purge(rec, "thread missing on close")
		return "", ErrThreadGone
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch thread %s: %w", rec.ThreadID, err)
	}

	if thread.Archived && thread.Locked {
		c.registry.Update(rec.UserID, func(r *registry.Record) {
			if !r.Archived {
				r.ArchivedAt = c.now()
			}
			r.Archived, r.Locked = true, true
		})
		return CloseAlreadyClosed, nil
	}

	if note != "" {
		if _, err := c.send(ctx, thread.ID, platform.OutgoingMessage{Content: note, SuppressMentions: true}); err != nil {
			c.logger.Warn("close_note_failed", "thread_id", thread.ID, "error", err)
		}
	}

	// Lock, then archive.
	if !thread.Locked {
		if err := c.opts.Retry.Do(ctx, "lock", func(ctx context.Context) error {
			return c.platform.SetLocked(ctx, thread.ID, true)
		}); err != nil {
			return "", fmt.Errorf("failed to lock thread %s: %w", thread.ID, err)
		}
	}
	if !thread.Archived {
		if err := c.opts.Retry.Do(ctx, "archive", func(ctx context.Context) error {
			return c.platform.SetArchived(ctx, thread.ID, true)
		}); err != nil {
			c.registry.Update(rec.UserID, func(r *registry.Record) { r.Locked = true })
			return "", fmt.Errorf("failed to archive thread %s: %w", thread.ID, err)
		}
	}

	c.registry.Update(rec.UserID, func(r *registry.Record) {
		r.Archived, r.Locked = true, true
		r.ArchivedAt = c.now()
	})
	c.metrics.LifecycleOp("close", string(CloseClosed))
	c.logger.Info("review_closed", "user_id", rec.UserID, "thread_id", thread.ID, "closed_by", actorID, "as", as)
	return CloseClosed, nil
}
