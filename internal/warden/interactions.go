package warden

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/warden/internal/lifecycle"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/roles"
)

// Slash command names.
const (
	CommandCheckThread    = "checkthread"
	CommandCleanThreads   = "cleanthreads"
	CommandMissingReviews = "missingreviews"
)

// Commands returns the slash commands the engine answers.
func Commands() []platform.Command {
	return []platform.Command{
		{Name: CommandCheckThread, Description: "Check and repair the review thread this command is used in"},
		{
			Name:        CommandCleanThreads,
			Description: "Close reviews of members without a guild role",
			BoolOptions: map[string]string{"dry_run": "List the reviews that would be closed without closing them"},
			AdminOnly:   true,
		},
		{
			Name:        CommandMissingReviews,
			Description: "List guild members without an active review",
			BoolOptions: map[string]string{"ping": "Mention the members in the report"},
			AdminOnly:   true,
		},
	}
}

// OnInteraction answers button clicks and slash commands. Errors are logged in full and
// answered with a short message.
func (e *Engine) OnInteraction(ctx context.Context, in platform.Interaction, r platform.Responder) {
	log := e.logger.With("user_id", in.User.ID, "custom_id", in.CustomID, "command", in.Command)
	if err := r.Defer(ctx, true); err != nil {
		log.Warn("interaction_defer_failed", "error", err)
		return
	}

	var (
		reply string
		err   error
	)
	switch in.Kind {
	case platform.InteractionButton:
		reply, err = e.handleButton(ctx, in)
	case platform.InteractionCommand:
		reply, err = e.handleCommand(ctx, in)
	default:
		err = fmt.Errorf("unknown interaction kind %d", in.Kind)
	}
	if err != nil {
		log.Warn("interaction_failed", "error", err)
		reply = userMessage(err)
	}
	if err := r.Reply(ctx, reply); err != nil {
		log.Warn("interaction_reply_failed", "error", err)
	}
}

var errUnknownInteraction = errors.New("unknown interaction")

func (e *Engine) handleButton(ctx context.Context, in platform.Interaction) (string, error) {
	action, ok := lifecycle.ParseButton(in.CustomID)
	if !ok {
		return "", fmt.Errorf("%w: button %q", errUnknownInteraction, in.CustomID)
	}
	switch action.Kind {
	case "open":
		res, err := e.ctl.Open(ctx, in.User.ID)
		if err != nil {
			return "", err
		}
		switch res.Outcome {
		case lifecycle.OpenAlreadyOpen:
			return fmt.Sprintf("You already have an active review thread: <#%s>", res.ThreadID), nil
		case lifecycle.OpenReadded:
			return fmt.Sprintf("You have been re-added to your review thread: <#%s>", res.ThreadID), nil
		case lifecycle.OpenReopened:
			return fmt.Sprintf("Your review thread has been reopened: <#%s>", res.ThreadID), nil
		}
		return fmt.Sprintf("Your review thread has been created: <#%s>", res.ThreadID), nil

	case "close":
		outcome, err := e.ctl.Close(ctx, action.UserID, in.User)
		if err != nil {
			return "", err
		}
		if outcome == lifecycle.CloseAlreadyClosed {
			return "This thread is already closed.", nil
		}
		return "Thread closed.", nil

	case "update":
		res, err := e.ctl.Update(ctx, action.UserID, in.User.ID)
		if err != nil {
			return "", err
		}
		switch res.Outcome {
		case lifecycle.UpdateMigrated:
			return fmt.Sprintf("Your review has moved to <#%s>.", res.Migrate.NewThreadID), nil
		case lifecycle.UpdateRenamed:
			return "Thread updated to match your current role.", nil
		}
		return "Your thread already matches your current role.", nil

	case "cancel":
		if err := e.ctl.CancelPrompt(ctx, action.UserID, in.User.ID, in.ChannelID, in.MessageID); err != nil {
			return "", err
		}
		return "Thread update cancelled.", nil
	}
	return "", fmt.Errorf("%w: button kind %q", errUnknownInteraction, action.Kind)
}

func (e *Engine) isAdmin(m platform.Member) bool {
	return m.Administrator || (e.cfg.AdminUserID != "" && m.ID == e.cfg.AdminUserID)
}

func (e *Engine) handleCommand(ctx context.Context, in platform.Interaction) (string, error) {
	switch in.Command {
	case CommandCheckThread:
		return e.checkThread(ctx, in)

	case CommandCleanThreads:
		if !e.isAdmin(in.User) {
			return "", lifecycle.ErrForbidden
		}
		dryRun := e.cfg.DryRun || in.BoolOption("dry_run")
		report, err := e.Sweep(ctx, dryRun)
		if err != nil {
			return "", err
		}
		return formatSweep(report), nil

	case CommandMissingReviews:
		if !e.isAdmin(in.User) {
			return "", lifecycle.ErrForbidden
		}
		missing, err := e.MissingReviews(ctx)
		if err != nil {
			return "", err
		}
		if err := e.postMissingReport(ctx, in.ChannelID, missing, in.BoolOption("ping")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Found %d members without an active review.", len(missing)), nil
	}
	return "", fmt.Errorf("%w: command %q", errUnknownInteraction, in.Command)
}

func (e *Engine) checkThread(ctx context.Context, in platform.Interaction) (string, error) {
	rec, ok := e.registry.FindByThread(in.ChannelID)
	if !ok {
		return "This command must be used inside a review thread.", nil
	}
	if !e.isAdmin(in.User) && !in.User.Roles.Has(rec.LeadRoleID) && in.User.ID != rec.UserID {
		return "", lifecycle.ErrForbidden
	}

	unlock, err := e.locks.Lock(ctx, rec.UserID)
	if err != nil {
		return "", err
	}
	defer unlock()

	report, err := e.ctl.Repair(ctx, rec.UserID, lifecycle.RepairOptions{FullSync: true})
	if err != nil {
		return "", err
	}

	var lines []string
	switch report.Outcome {
	case lifecycle.RepairDropped:
		return "The thread no longer exists; its record was removed.", nil
	case lifecycle.RepairOwnerMissing:
		lines = append(lines, "The thread owner is no longer in the server.")
	case lifecycle.RepairUnclassified:
		lines = append(lines, "The owner's weapon roles could not be classified: "+report.Err.Error()+".")
	case lifecycle.RepairMigrationFlagged:
		lines = append(lines, "The owner's role points at another category; a move has been offered.")
	case lifecycle.RepairMigrated:
		lines = append(lines, fmt.Sprintf("The review was moved to <#%s>.", report.Migrate.NewThreadID))
	}
	if report.StateCorrected {
		lines = append(lines, "Archive state corrected.")
	}
	if report.Rename.Renamed {
		lines = append(lines, "Title updated to "+report.Rename.Title+".")
	}
	sync := report.Sync
	if report.Rename.BucketChanged {
		sync = report.Rename.Sync
	}
	if n := len(sync.Added) + len(sync.Removed); n > 0 {
		lines = append(lines, fmt.Sprintf("Membership fixed: %d added, %d removed.", len(sync.Added), len(sync.Removed)))
	}
	if len(sync.Failed) > 0 {
		lines = append(lines, fmt.Sprintf("%d membership changes failed.", len(sync.Failed)))
	}
	if len(lines) == 0 {
		return "Thread checked: everything is in order.", nil
	}
	return "Thread checked:\n" + strings.Join(lines, "\n"), nil
}

func formatSweep(r SweepReport) string {
	verb := "Closed"
	if r.DryRun {
		verb = "Would close"
	}
	if len(r.Closed) == 0 && len(r.Failed) == 0 {
		return fmt.Sprintf("Checked %d open reviews; nothing to close.", r.Checked)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Checked %d open reviews. %s %d:", r.Checked, verb, len(r.Closed))
	for _, id := range r.Closed {
		b.WriteString(" <@" + id + ">")
	}
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, "\nFailed to close %d:", len(r.Failed))
		for _, id := range r.Failed {
			b.WriteString(" <@" + id + ">")
		}
	}
	return truncateReply(b.String())
}

const maxReplyLength = 2000

func truncateReply(s string) string {
	if len(s) <= maxReplyLength {
		return s
	}
	cut := maxReplyLength - 4
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + " …"
}

// userMessage turns a core error into the text shown to the user.
func userMessage(err error) string {
	switch {
	case errors.Is(err, lifecycle.ErrOperationPending):
		return "An operation on your thread is already in progress. Please wait a moment."
	case errors.Is(err, lifecycle.ErrNameUnset):
		return "Please set your in-game name first, then try again."
	case errors.Is(err, lifecycle.ErrNameLookupFailed):
		return "Your in-game name could not be checked right now. Please try again later."
	case errors.Is(err, roles.ErrNoBucketRole):
		return "You need a weapon role before opening a review."
	case errors.Is(err, roles.ErrAmbiguousBucket):
		return "You have more than one weapon role. Please keep only one and try again."
	case errors.Is(err, lifecycle.ErrNotThreadOwner):
		return "Only the thread owner can do this."
	case errors.Is(err, lifecycle.ErrForbidden):
		return "You do not have permission to do this."
	case errors.Is(err, lifecycle.ErrNoReview):
		return "No review thread was found."
	case errors.Is(err, lifecycle.ErrThreadGone):
		return "That review thread no longer exists."
	case errors.Is(err, lifecycle.ErrNoMigrationNeeded):
		return "Your thread already matches your current role."
	}
	return "Something went wrong. Please try again later."
}
