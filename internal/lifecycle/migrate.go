package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/reconcile"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/roles"
	"github.com/google/uuid"
)

// MaxMessageLength is the platform's message content limit.
const MaxMessageLength = 2000

var migratedLine = regexp.MustCompile(`(?s)^💬 \*\*(.+?)\*\*: (.*)$`)

// MigrateResult is returned by Migrate.
type MigrateResult struct {
	From, To          string
	OldThreadID       string
	NewThreadID       string
	Copied, Total     int
	FailedAttachments int
	ParityMismatch    bool
	OldThreadRetained bool
	Sync              reconcile.Result
}

// Migrate moves the user's review to the category their roles now point at.
func (c *Controller) Migrate(ctx context.Context, userID string) (MigrateResult, error) {
	release, err := c.acquire(userID)
	if err != nil {
		return MigrateResult{}, err
	}
	defer release()

	rec, ok := c.registry.Get(userID)
	if !ok {
		return MigrateResult{}, ErrNoReview
	}
	member, err := c.member(ctx, userID)
	if err != nil {
		return MigrateResult{}, fmt.Errorf("failed to fetch member %s: %w", userID, err)
	}
	class, err := c.classifier.Classify(member.Roles)
	if err != nil {
		return MigrateResult{}, err
	}
	if class.Category.Name == rec.Category {
		return MigrateResult{}, ErrNoMigrationNeeded
	}
	return c.migrate(ctx, rec, member, class)
}

// migrate recreates the review in the target category. The registry points at exactly one
// existing thread on every exit path: the old one until the copy is complete, the new one
// afterwards. A new thread that never became the registry's thread is deleted.
func (c *Controller) migrate(ctx context.Context, rec registry.Record, member platform.Member, class roles.Classification) (MigrateResult, error) {
	log := c.logger.With("op_id", uuid.NewString(), "user_id", rec.UserID, "from", rec.Category, "to", class.Category.Name)
	res := MigrateResult{From: rec.Category, To: class.Category.Name, OldThreadID: rec.ThreadID}

	name, err := c.displayName(ctx, member)
	if err != nil {
		c.metrics.LifecycleOp("migrate", "name_lookup_failed")
		return res, err
	}

	old, err := c.thread(ctx, rec.ThreadID)
	if errors.Is(err, platform.ErrNotFound) {
		c.purge(rec, "thread missing on migrate")
		return res, ErrThreadGone
	}
	if err != nil {
		return res, fmt.Errorf("failed to fetch thread %s: %w", rec.ThreadID, err)
	}

	history, err := platform.History(ctx, c.platform, old.ID)
	if err != nil {
		return res, fmt.Errorf("failed to read history of %s: %w", old.ID, err)
	}

	title := FormatTitle(name, class.Bucket.Name, rec.UserID)
	created, err := c.platform.CreateThread(ctx, class.Category.ChannelID, title)
	if err != nil {
		c.metrics.LifecycleOp("migrate", "failed")
		return res, fmt.Errorf("failed to create thread: %w", err)
	}
	res.NewThreadID = created.ID
	log.Info("migration_started", "old_thread_id", old.ID, "new_thread_id", created.ID, "messages", len(history))

	if err := c.copyInto(ctx, created.ID, member.ID, history, &res); err != nil {
		c.deleteOrphan(ctx, log, created.ID, err)
		c.metrics.LifecycleOp("migrate", "failed")
		return res, err
	}

	c.checkParity(ctx, log, created.ID, history, &res)

	next := rec
	next.ThreadID = created.ID
	next.Category = class.Category.Name
	next.ChannelID = class.Category.ChannelID
	next.LeadRoleID = class.Category.LeadRoleID
	next.BucketRoleID = class.Bucket.RoleID
	next.PendingCategory = ""
	next.Archived, next.Locked = false, false
	c.registry.Put(next)
	c.prompted.Remove(rec.UserID)

	res.Sync, err = c.reconciler.Sync(ctx, c.target(next, class))
	if err != nil {
		log.Error("migration_incomplete", "stage", "member_sync", "old_thread_id", old.ID, "new_thread_id", created.ID, "error", err)
		res.OldThreadRetained = true
		return res, fmt.Errorf("migrated to %s but member sync failed, old thread %s kept: %w", created.ID, old.ID, err)
	}

	if err := c.deleteThread(ctx, old.ID); err != nil {
		log.Error("migration_incomplete", "stage", "delete_old", "old_thread_id", old.ID, "new_thread_id", created.ID, "error", err)
		res.OldThreadRetained = true
	}

	c.metrics.LifecycleOp("migrate", "ok")
	log.Info("review_migrated", "old_thread_id", old.ID, "new_thread_id", created.ID,
		"copied", res.Copied, "total", res.Total, "failed_attachments", res.FailedAttachments)
	return res, nil
}

func (c *Controller) deleteOrphan(ctx context.Context, log *slog.Logger, threadID string, cause error) {
	if err := c.deleteThread(context.WithoutCancel(ctx), threadID); err != nil {
		log.Error("migration_orphan_cleanup_failed", "thread_id", threadID, "cause", cause, "error", err)
		return
	}
	log.Warn("migration_orphan_deleted", "thread_id", threadID, "cause", cause)
}

// copyInto posts the close button then replays history oldest-first with the author
// as a quoted prefix. Bot messages are only replayed when they are themselves migrated
// lines. Attachments are re-uploaded, falling back to their URLs as text.
func (c *Controller) copyInto(ctx context.Context, threadID, ownerID string, history []platform.Message, res *MigrateResult) error {
	if _, err := c.send(ctx, threadID, platform.OutgoingMessage{
		Content: "Click the button below to close this review thread:",
		Buttons: []platform.Button{closeButton(ownerID)},
	}); err != nil {
		return fmt.Errorf("failed to post close button: %w", err)
	}

	for _, msg := range history {
		author, content, ok := c.replayable(msg)
		if !ok {
			continue
		}
		res.Total++
		if err := c.copyMessage(ctx, threadID, author, content, msg.Attachments, res); err != nil {
			return fmt.Errorf("failed to copy message %s: %w", msg.ID, err)
		}
		res.Copied++
	}

	status := fmt.Sprintf("✅ Migration complete!\n• %d/%d messages transferred", res.Copied, res.Total)
	if res.FailedAttachments > 0 {
		status += fmt.Sprintf("\n• ⚠️ %d attachments could not be transferred (URLs included in messages)", res.FailedAttachments)
	}
	status += fmt.Sprintf("\n• Review moved from %s to %s", res.From, res.To)
	if _, err := c.send(ctx, threadID, platform.OutgoingMessage{Content: status, SuppressMentions: true}); err != nil {
		return fmt.Errorf("failed to post migration summary: %w", err)
	}
	return nil
}

func (c *Controller) replayable(msg platform.Message) (author, content string, ok bool) {
	if msg.System {
		return "", "", false
	}
	if msg.AuthorID == c.platform.SelfID() {
		m := migratedLine.FindStringSubmatch(msg.Content)
		if m == nil {
			return "", "", false
		}
		return m[1], m[2], true
	}
	return msg.AuthorName, msg.Content, true
}

func (c *Controller) copyMessage(ctx context.Context, threadID, author, content string, attachments []platform.Attachment, res *MigrateResult) error {
	prefix := fmt.Sprintf("💬 **%s**: ", author)
	chunks := splitContent(content, MaxMessageLength-len(prefix))

	for i, chunk := range chunks {
		msg := platform.OutgoingMessage{Content: prefix + chunk, SuppressMentions: true}
		last := i == len(chunks)-1
		if !last || len(attachments) == 0 {
			if _, err := c.send(ctx, threadID, msg); err != nil {
				return err
			}
			continue
		}

		for _, a := range attachments {
			msg.Files = append(msg.Files, platform.File{Name: a.Filename, URL: a.URL})
		}
		_, err := c.platform.Send(ctx, threadID, msg)
		if err == nil {
			continue
		}
		c.logger.Warn("attachment_upload_failed", "thread_id", threadID, "attachments", len(attachments), "error", err)

		urls := make([]string, 0, len(attachments))
		for _, a := range attachments {
			urls = append(urls, a.URL)
		}
		fallback := platform.OutgoingMessage{
			Content:          truncate(prefix+chunk+"\n\n*Attachments:*\n"+strings.Join(urls, "\n"), MaxMessageLength),
			SuppressMentions: true,
		}
		if _, err := c.send(ctx, threadID, fallback); err != nil {
			return err
		}
		res.FailedAttachments += len(attachments)
	}
	return nil
}

// checkParity compares attachment counts between source and destination and flags a
// mismatch in the new thread without failing the migration.
func (c *Controller) checkParity(ctx context.Context, log *slog.Logger, threadID string, history []platform.Message, res *MigrateResult) {
	source := 0
	for _, msg := range history {
		if _, _, ok := c.replayable(msg); ok {
			source += len(msg.Attachments)
		}
	}

	copied, err := platform.History(ctx, c.platform, threadID)
	if err != nil {
		log.Warn("attachment_parity_unchecked", "thread_id", threadID, "error", err)
		return
	}
	dest := 0
	for _, msg := range copied {
		dest += len(msg.Attachments)
	}

	if dest < source-res.FailedAttachments {
		res.ParityMismatch = true
		c.metrics.ParityMismatch()
		log.Warn("attachment_parity_mismatch", "thread_id", threadID, "source", source, "destination", dest, "failed", res.FailedAttachments)
		warning := fmt.Sprintf("⚠️ Warning: Some attachments may have been missed during migration.\n"+
			"Original thread had %d attachments, new thread has %d.\nPlease verify all important attachments were transferred.", source, dest)
		if _, err := c.send(ctx, threadID, platform.OutgoingMessage{Content: warning, SuppressMentions: true}); err != nil {
			log.Warn("attachment_parity_warning_failed", "thread_id", threadID, "error", err)
		}
	}
}

// splitContent splits s into pieces of at most max bytes on rune boundaries.
// An empty string yields one empty piece.
func splitContent(s string, max int) []string {
	if max < 1 {
		max = 1
	}
	if len(s) <= max {
		return []string{s}
	}
	var out []string
	for len(s) > max {
		cut := max
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = max
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
