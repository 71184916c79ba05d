package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/warden/internal/identity"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/reconcile"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/roles"
	"github.com/google/uuid"
)

// OpenOutcome describes what Open did.
type OpenOutcome string

const (
	OpenCreated     OpenOutcome = "created"
	OpenReopened    OpenOutcome = "reopened"
	OpenAlreadyOpen OpenOutcome = "already_open"
	OpenReadded     OpenOutcome = "readded"
)

// OpenResult is returned by Open.
type OpenResult struct {
	Outcome  OpenOutcome
	ThreadID string
	Sync     reconcile.Result
}

// Open gives the user an open review thread, creating one if needed.
// An unset name blocks creation but not reopening an existing thread.
func (c *Controller) Open(ctx context.Context, userID string) (OpenResult, error) {
	release, err := c.acquire(userID)
	if err != nil {
		return OpenResult{}, err
	}
	defer release()

	if rec, ok := c.registry.Get(userID); ok {
		res, handled, err := c.openExisting(ctx, rec)
		if err != nil || handled {
			return res, err
		}
	}

	member, err := c.member(ctx, userID)
	if err != nil {
		return OpenResult{}, fmt.Errorf("failed to fetch member %s: %w", userID, err)
	}

	class, err := c.classifier.Classify(member.Roles)
	if err != nil {
		c.logger.Info("review_open_blocked", "user_id", userID, "error", err)
		return OpenResult{}, err
	}

	res := c.names.Resolve(ctx, userID)
	switch res.State {
	case identity.StateFailed:
		c.metrics.LifecycleOp("open", "name_lookup_failed")
		return OpenResult{}, fmt.Errorf("%w: %v", ErrNameLookupFailed, res.Err)
	case identity.StateUnset:
		c.metrics.LifecycleOp("open", "name_unset")
		return OpenResult{}, ErrNameUnset
	}

	thread, sync, err := c.create(ctx, member, class, res.Name)
	if err != nil {
		c.metrics.LifecycleOp("open", "failed")
		return OpenResult{}, err
	}

	c.registry.Put(registry.Record{
		UserID:       userID,
		ThreadID:     thread.ID,
		Category:     class.Category.Name,
		ChannelID:    class.Category.ChannelID,
		LeadRoleID:   class.Category.LeadRoleID,
		BucketRoleID: class.Bucket.RoleID,
	})
	c.metrics.LifecycleOp("open", string(OpenCreated))
	c.logger.Info("review_opened", "user_id", userID, "thread_id", thread.ID, "category", class.Category.Name, "bucket", class.Bucket.Name)
	return OpenResult{Outcome: OpenCreated, ThreadID: thread.ID, Sync: sync}, nil
}

// openExisting handles a user who already has a record. handled is false when the thread
// has vanished and a new one should be created.
func (c *Controller) openExisting(ctx context.Context, rec registry.Record) (OpenResult, bool, error) {
	thread, err := c.thread(ctx, rec.ThreadID)
	if errors.Is(err, platform.ErrNotFound) {
		c.purge(rec, "thread missing on open")
		return OpenResult{}, false, nil
	}
	if err != nil {
		return OpenResult{}, true, fmt.Errorf("failed to fetch thread %s: %w", rec.ThreadID, err)
	}

	if thread.Archived || thread.Locked {
		sync, err := c.reopen(ctx, rec, thread, "Thread reopened.")
		if err != nil {
			return OpenResult{}, true, err
		}
		c.metrics.LifecycleOp("open", string(OpenReopened))
		return OpenResult{Outcome: OpenReopened, ThreadID: thread.ID, Sync: sync}, true, nil
	}

	members, err := c.platform.ThreadMembers(ctx, thread.ID)
	if err != nil {
		return OpenResult{}, true, fmt.Errorf("failed to fetch members of thread %s: %w", thread.ID, err)
	}
	for _, id := range members {
		if id == rec.UserID {
			return OpenResult{Outcome: OpenAlreadyOpen, ThreadID: thread.ID}, true, nil
		}
	}

	err = c.opts.Retry.Do(ctx, "add_member", func(ctx context.Context) error {
		return c.platform.AddThreadMember(ctx, thread.ID, rec.UserID)
	})
	if err != nil {
		return OpenResult{}, true, fmt.Errorf("failed to re-add %s to thread %s: %w", rec.UserID, thread.ID, err)
	}
	c.metrics.LifecycleOp("open", string(OpenReadded))
	c.logger.Info("review_owner_readded", "user_id", rec.UserID, "thread_id", thread.ID)
	return OpenResult{Outcome: OpenReadded, ThreadID: thread.ID}, true, nil
}

// create makes a new thread for the member and seeds it. On any failure the thread is
// deleted again so nothing is left behind.
func (c *Controller) create(ctx context.Context, member platform.Member, class roles.Classification, name string) (platform.Thread, reconcile.Result, error) {
	log := c.logger.With("op_id", uuid.NewString(), "user_id", member.ID)
	title := FormatTitle(name, class.Bucket.Name, member.ID)

	thread, err := c.platform.CreateThread(ctx, class.Category.ChannelID, title)
	if err != nil {
		return platform.Thread{}, reconcile.Result{}, fmt.Errorf("failed to create thread: %w", err)
	}
	log.Info("thread_created", "thread_id", thread.ID, "title", title)

	sync, err := c.seed(ctx, thread, member, class)
	if err != nil {
		if derr := c.deleteThread(context.WithoutCancel(ctx), thread.ID); derr != nil {
			log.Error("thread_cleanup_failed", "thread_id", thread.ID, "error", derr)
		} else {
			log.Warn("thread_cleaned_up", "thread_id", thread.ID, "error", err)
		}
		return platform.Thread{}, reconcile.Result{}, err
	}
	return thread, sync, nil
}

// seed posts the close button and brings in the owner and matching leads.
// Failing to add the owner fails the seed.
func (c *Controller) seed(ctx context.Context, thread platform.Thread, member platform.Member, class roles.Classification) (reconcile.Result, error) {
	_, err := c.send(ctx, thread.ID, platform.OutgoingMessage{
		Content: "Click the button below to close this review thread:",
		Buttons: []platform.Button{closeButton(member.ID)},
	})
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("failed to post close button: %w", err)
	}

	target := reconcile.Target{ThreadID: thread.ID, OwnerID: member.ID, Category: class.Category, Bucket: class.Bucket}
	sync, err := c.reconciler.Sync(ctx, target)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("failed to seed thread members: %w", err)
	}
	for _, f := range sync.Failed {
		if f.UserID == member.ID {
			return reconcile.Result{}, fmt.Errorf("failed to add owner to thread: %w", f.Err)
		}
	}
	return sync, nil
}

// Reopen unarchives and unlocks the user's thread and resyncs its membership.
func (c *Controller) Reopen(ctx context.Context, userID, note string) (reconcile.Result, error) {
	release, err := c.acquire(userID)
	if err != nil {
		return reconcile.Result{}, err
	}
	defer release()

	rec, ok := c.registry.Get(userID)
	if !ok {
		return reconcile.Result{}, ErrNoReview
	}
	thread, err := c.thread(ctx, rec.ThreadID)
	if errors.Is(err, platform.ErrNotFound) {
		c.purge(rec, "thread missing on reopen")
		return reconcile.Result{}, ErrThreadGone
	}
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("failed to fetch thread %s: %w", rec.ThreadID, err)
	}
	return c.reopen(ctx, rec, thread, note)
}

// reopen runs a full membership resync rather than an incremental one since membership
// may have drifted arbitrarily while the thread was closed.
func (c *Controller) reopen(ctx context.Context, rec registry.Record, thread platform.Thread, note string) (reconcile.Result, error) {
	if thread.Archived {
		if err := c.opts.Retry.Do(ctx, "unarchive", func(ctx context.Context) error {
			return c.platform.SetArchived(ctx, thread.ID, false)
		}); err != nil {
			return reconcile.Result{}, fmt.Errorf("failed to unarchive thread %s: %w", thread.ID, err)
		}
	}
	if thread.Locked {
		if err := c.opts.Retry.Do(ctx, "unlock", func(ctx context.Context) error {
			return c.platform.SetLocked(ctx, thread.ID, false)
		}); err != nil {
			return reconcile.Result{}, fmt.Errorf("failed to unlock thread %s: %w", thread.ID, err)
		}
	}

	c.registry.Update(rec.UserID, func(r *registry.Record) {
		r.Archived = false
		r.Locked = false
		r.ArchivedAt = time.Time{}
	})

	var sync reconcile.Result
	if class, ok := c.threadClass(ctx, rec); ok {
		var err error
		sync, err = c.reconciler.Sync(ctx, c.target(rec, class))
		if err != nil {
			c.logger.Warn("reopen_sync_failed", "user_id", rec.UserID, "thread_id", thread.ID, "error", err)
		}
	} else {
		c.logger.Info("reopen_sync_skipped", "user_id", rec.UserID, "thread_id", thread.ID)
	}

	if note != "" {
		if _, err := c.send(ctx, thread.ID, platform.OutgoingMessage{Content: note, SuppressMentions: true}); err != nil {
			c.logger.Warn("reopen_note_failed", "thread_id", thread.ID, "error", err)
		}
	}
	c.metrics.LifecycleOp("reopen", "ok")
	c.logger.Info("review_reopened", "user_id", rec.UserID, "thread_id", thread.ID, "added", len(sync.Added), "removed", len(sync.Removed))
	return sync, nil
}

// threadClass determines the (category, bucket) a thread's membership should follow: the
// owner's live classification when it matches the thread's category, otherwise the bucket
// recorded for the thread.
func (c *Controller) threadClass(ctx context.Context, rec registry.Record) (roles.Classification, bool) {
	if member, err := c.member(ctx, rec.UserID); err == nil {
		if class, err := c.classifier.Classify(member.Roles); err == nil && class.Category.Name == rec.Category {
			return class, true
		}
	}
	b, ok := c.classifier.Bucket(rec.BucketRoleID)
	if !ok || b.Category != rec.Category {
		return roles.Classification{}, false
	}
	cat, _ := c.classifier.Category(b.Category)
	return roles.Classification{Category: cat, Bucket: b}, true
}
