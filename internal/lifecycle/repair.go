package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/reconcile"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/roles"
)

// promptScanDepth is how many recent messages are checked for an existing migration prompt.
const promptScanDepth = 10

// RenameResult is returned by Rename.
type RenameResult struct {
	Renamed       bool
	Title         string
	BucketChanged bool
	Sync          reconcile.Result
}

// Rename brings the thread title in line with the owner's bucket and name, and resyncs
// bucket leads when the bucket changed within the same category.
func (c *Controller) Rename(ctx context.Context, userID string) (RenameResult, error) {
	release, err := c.acquire(userID)
	if err != nil {
		return RenameResult{}, err
	}
	defer release()

	rec, ok := c.registry.Get(userID)
	if !ok {
		return RenameResult{}, ErrNoReview
	}
	member, err := c.member(ctx, userID)
	if err != nil {
		return RenameResult{}, fmt.Errorf("failed to fetch member %s: %w", userID, err)
	}
	class, err := c.classifier.Classify(member.Roles)
	if err != nil {
		return RenameResult{}, err
	}
	if class.Category.Name != rec.Category {
		return RenameResult{}, ErrCategoryChanged
	}
	thread, err := c.thread(ctx, rec.ThreadID)
	if errors.Is(err, platform.ErrNotFound) {
		c.purge(rec, "thread missing on rename")
		return RenameResult{}, ErrThreadGone
	}
	if err != nil {
		return RenameResult{}, fmt.Errorf("failed to fetch thread %s: %w", rec.ThreadID, err)
	}
	return c.rename(ctx, rec, thread, member, class)
}

func (c *Controller) rename(ctx context.Context, rec registry.Record, thread platform.Thread, member platform.Member, class roles.Classification) (RenameResult, error) {
	name, err := c.displayName(ctx, member)
	if err != nil {
		return RenameResult{}, err
	}

	res := RenameResult{Title: FormatTitle(name, class.Bucket.Name, rec.UserID)}
	if thread.Name != res.Title {
		if err := c.opts.Retry.Do(ctx, "rename_thread", func(ctx context.Context) error {
			return c.platform.RenameThread(ctx, thread.ID, res.Title)
		}); err != nil {
			return res, fmt.Errorf("failed to rename thread %s: %w", thread.ID, err)
		}
		res.Renamed = true
		c.metrics.LifecycleOp("rename", "ok")
		c.logger.Info("thread_renamed", "user_id", rec.UserID, "thread_id", thread.ID, "from", thread.Name, "to", res.Title)
	}

	if rec.BucketRoleID != class.Bucket.RoleID {
		res.BucketChanged = rec.BucketRoleID != ""
		rec, _ = c.registry.Update(rec.UserID, func(r *registry.Record) {
			r.BucketRoleID = class.Bucket.RoleID
			r.PendingCategory = ""
		})
		if res.BucketChanged && rec.Open() {
			res.Sync, err = c.reconciler.Sync(ctx, c.target(rec, class))
			if err != nil {
				return res, fmt.Errorf("failed to resync leads of thread %s: %w", thread.ID, err)
			}
		}
	}
	return res, nil
}

// RepairOptions tunes Repair.
type RepairOptions struct {
	// FullSync reconciles membership of open threads even when nothing else changed.
	FullSync bool
	// Members is a guild member snapshot reused across repairs; nil fetches per call.
	Members []platform.Member
}

// RepairOutcome describes what Repair found.
type RepairOutcome string

const (
	RepairOK               RepairOutcome = "ok"
	RepairDropped          RepairOutcome = "dropped"
	RepairOwnerMissing     RepairOutcome = "owner_missing"
	RepairUnclassified     RepairOutcome = "unclassified"
	RepairMigrationFlagged RepairOutcome = "migration_flagged"
	RepairMigrated         RepairOutcome = "migrated"
)

// RepairReport is returned by Repair.
type RepairReport struct {
	Outcome        RepairOutcome
	StateCorrected bool
	Rename         RenameResult
	Migrate        *MigrateResult
	Sync           reconcile.Result
	Err            error // classification error for RepairUnclassified
}

// Repair re-derives the desired state of the user's review and fixes drift: a vanished
// thread drops the record, stale archive flags are corrected, a category change is offered
// as a migration (or performed when auto-migrate is on), the title is refreshed and
// membership is resynced.
func (c *Controller) Repair(ctx context.Context, userID string, opts RepairOptions) (RepairReport, error) {
	release, err := c.acquire(userID)
	if err != nil {
		return RepairReport{}, err
	}
	defer release()

	rec, ok := c.registry.Get(userID)
	if !ok {
		return RepairReport{}, ErrNoReview
	}

	thread, err := c.thread(ctx, rec.ThreadID)
	if errors.Is(err, platform.ErrNotFound) {
		c.purge(rec, "thread missing on repair")
		return RepairReport{Outcome: RepairDropped}, nil
	}
	if err != nil {
		return RepairReport{}, fmt.Errorf("failed to fetch thread %s: %w", rec.ThreadID, err)
	}

	var report RepairReport
	if thread.Archived != rec.Archived || thread.Locked != rec.Locked {
		rec, _ = c.registry.Update(userID, func(r *registry.Record) {
			if thread.Archived && !r.Archived {
				r.ArchivedAt = c.now()
			}
			if !thread.Archived {
				r.ArchivedAt = time.Time{}
			}
			r.Archived, r.Locked = thread.Archived, thread.Locked
		})
		report.StateCorrected = true
	}

	member, err := c.member(ctx, userID)
	if errors.Is(err, platform.ErrNotFound) {
		report.Outcome = RepairOwnerMissing
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("failed to fetch member %s: %w", userID, err)
	}

	class, err := c.classifier.Classify(member.Roles)
	if err != nil {
		report.Outcome = RepairUnclassified
		report.Err = err
		return report, nil
	}

	if class.Category.Name != rec.Category {
		if c.opts.AutoMigrate && rec.Open() {
			mres, err := c.migrate(ctx, rec, member, class)
			report.Migrate = &mres
			if err != nil {
				return report, err
			}
			report.Outcome = RepairMigrated
			return report, nil
		}
		if err := c.promptMigration(ctx, rec, class.Category.Name); err != nil {
			return report, err
		}
		report.Outcome = RepairMigrationFlagged
		return report, nil
	}

	if rec.PendingCategory != "" {
		rec, _ = c.registry.Update(userID, func(r *registry.Record) { r.PendingCategory = "" })
	}

	report.Rename, err = c.rename(ctx, rec, thread, member, class)
	if err != nil {
		return report, err
	}
	report.Outcome = RepairOK

	if opts.FullSync && rec.Open() && !report.Rename.BucketChanged {
		target := c.target(rec, class)
		if opts.Members != nil {
			report.Sync, err = c.reconciler.SyncWith(ctx, target, opts.Members)
		} else {
			report.Sync, err = c.reconciler.Sync(ctx, target)
		}
		if err != nil {
			return report, fmt.Errorf("failed to resync thread %s: %w", thread.ID, err)
		}
	}
	return report, nil
}

// promptMigration records the pending category and posts a one-time prompt in the
// thread offering to move it.
func (c *Controller) promptMigration(ctx context.Context, rec registry.Record, to string) error {
	if rec.PendingCategory != to {
		c.registry.Update(rec.UserID, func(r *registry.Record) { r.PendingCategory = to })
	}
	if !rec.Open() {
		return nil
	}
	if !c.prompted.TryAdd(rec.UserID) {
		return nil
	}

	recent, err := c.platform.Messages(ctx, rec.ThreadID, promptScanDepth, "")
	if err != nil {
		c.prompted.Remove(rec.UserID)
		return fmt.Errorf("failed to read recent messages of %s: %w", rec.ThreadID, err)
	}
	update := UpdateButtonID(rec.Category, to, rec.UserID)
	for _, msg := range recent {
		for _, id := range msg.Components {
			if id == update {
				return nil
			}
		}
	}

	_, err = c.send(ctx, rec.ThreadID, platform.OutgoingMessage{
		Content: fmt.Sprintf("Weapon role change detected! Would you like to move this thread to match your new role?\n\nFrom: %s\nTo: %s", rec.Category, to),
		Buttons: []platform.Button{
			{CustomID: update, Label: "Move Thread", Style: platform.ButtonPrimary},
			{CustomID: CancelUpdateButtonID(rec.UserID), Label: "Cancel", Style: platform.ButtonSecondary},
		},
	})
	if err != nil {
		c.prompted.Remove(rec.UserID)
		return fmt.Errorf("failed to post migration prompt: %w", err)
	}
	c.logger.Info("migration_prompted", "user_id", rec.UserID, "thread_id", rec.ThreadID, "from", rec.Category, "to", to)
	return nil
}

// CancelPrompt dismisses a migration prompt. Only the owner may cancel.
func (c *Controller) CancelPrompt(ctx context.Context, ownerID, actorID, channelID, messageID string) error {
	if actorID != ownerID {
		return ErrNotThreadOwner
	}
	c.prompted.Remove(ownerID)
	if messageID == "" {
		return nil
	}
	if err := c.platform.DeleteMessage(ctx, channelID, messageID); err != nil && !errors.Is(err, platform.ErrNotFound) {
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	return nil
}

// UpdateOutcome describes what Update did.
type UpdateOutcome string

const (
	UpdateRenamed   UpdateOutcome = "renamed"
	UpdateUnchanged UpdateOutcome = "unchanged"
	UpdateMigrated  UpdateOutcome = "migrated"
)

// UpdateResult is returned by Update.
type UpdateResult struct {
	Outcome UpdateOutcome
	Rename  RenameResult
	Migrate MigrateResult
}

// Update is the owner's confirmation of a prompt: rename when the category is unchanged,
// migrate otherwise. Only the owner may confirm, and only while the review is open.
func (c *Controller) Update(ctx context.Context, ownerID, actorID string) (UpdateResult, error) {
	if actorID != ownerID {
		return UpdateResult{}, ErrNotThreadOwner
	}
	release, err := c.acquire(ownerID)
	if err != nil {
		return UpdateResult{}, err
	}
	defer release()

	rec, ok := c.registry.Get(ownerID)
	if !ok || !rec.Open() {
		return UpdateResult{}, ErrNoReview
	}
	member, err := c.member(ctx, ownerID)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("failed to fetch member %s: %w", ownerID, err)
	}
	class, err := c.classifier.Classify(member.Roles)
	if err != nil {
		return UpdateResult{}, err
	}

	if class.Category.Name == rec.Category {
		thread, err := c.thread(ctx, rec.ThreadID)
		if errors.Is(err, platform.ErrNotFound) {
			c.purge(rec, "thread missing on update")
			return UpdateResult{}, ErrThreadGone
		}
		if err != nil {
			return UpdateResult{}, fmt.Errorf("failed to fetch thread %s: %w", rec.ThreadID, err)
		}
		rres, err := c.rename(ctx, rec, thread, member, class)
		if err != nil {
			return UpdateResult{}, err
		}
		c.prompted.Remove(ownerID)
		if rres.Renamed {
			return UpdateResult{Outcome: UpdateRenamed, Rename: rres}, nil
		}
		return UpdateResult{Outcome: UpdateUnchanged, Rename: rres}, nil
	}

	mres, err := c.migrate(ctx, rec, member, class)
	if err != nil {
		return UpdateResult{Migrate: mres}, err
	}
	return UpdateResult{Outcome: UpdateMigrated, Migrate: mres}, nil
}
