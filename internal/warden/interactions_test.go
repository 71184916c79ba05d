package warden

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/dyluth/warden/internal/identity"
	"github.com/dyluth/warden/internal/lifecycle"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingResponder struct {
	mu       sync.Mutex
	deferred bool
	replies  []string
}

func (r *recordingResponder) Defer(ctx context.Context, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferred = true
	return nil
}

func (r *recordingResponder) Reply(ctx context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.deferred {
		return fmt.Errorf("reply before defer")
	}
	r.replies = append(r.replies, content)
	return nil
}

func (r *recordingResponder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1]
}

func (h *harness) click(t *testing.T, user platform.Member, customID, channelID, messageID string) string {
	t.Helper()
	r := &recordingResponder{}
	h.engine.OnInteraction(context.Background(), platform.Interaction{
		Kind: platform.InteractionButton, CustomID: customID, ChannelID: channelID, MessageID: messageID, User: user,
	}, r)
	return r.last()
}

func (h *harness) command(t *testing.T, user platform.Member, name, channelID string, options map[string]string) string {
	t.Helper()
	r := &recordingResponder{}
	h.engine.OnInteraction(context.Background(), platform.Interaction{
		Kind: platform.InteractionCommand, Command: name, ChannelID: channelID, Options: options, User: user,
	}, r)
	return r.last()
}

func (h *harness) member(t *testing.T, id string) platform.Member {
	t.Helper()
	m, err := h.fake.Member(context.Background(), id)
	require.NoError(t, err)
	return m
}

func TestOpenButton(t *testing.T) {
	h := newHarness(t)
	h.seedGuild()

	reply := h.click(t, h.member(t, owner), lifecycle.OpenButtonID, openChannel, "")
	rec := h.record(t, owner)
	require.Equal(t, "Your review thread has been created: <#"+rec.ThreadID+">", reply)

	reply = h.click(t, h.member(t, owner), lifecycle.OpenButtonID, openChannel, "")
	require.Equal(t, "You already have an active review thread: <#"+rec.ThreadID+">", reply)
}

func TestOpenButton_ErrorsBecomeUserMessages(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  string
	}{
		{
			name:  "name unset",
			setup: func(h *harness) { h.names.set(owner, identity.Result{State: identity.StateUnset}) },
			want:  "Please set your in-game name first, then try again.",
		},
		{
			name:  "name store outage",
			setup: func(h *harness) { h.names.set(owner, identity.Result{State: identity.StateFailed}) },
			want:  "Your in-game name could not be checked right now. Please try again later.",
		},
		{
			name:  "no weapon role",
			setup: func(h *harness) { h.fake.SetRoles(owner, guildRole) },
			want:  "You need a weapon role before opening a review.",
		},
		{
			name:  "two weapon roles",
			setup: func(h *harness) { h.fake.SetRoles(owner, snsGS, lifeWand, guildRole) },
			want:  "You have more than one weapon role. Please keep only one and try again.",
		},
		{
			name:  "platform failure",
			setup: func(h *harness) { h.fake.FailTimes("create_thread", errTransient, 2) },
			want:  "Something went wrong. Please try again later.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedGuild()
			tt.setup(h)

			reply := h.click(t, h.member(t, owner), lifecycle.OpenButtonID, openChannel, "")
			assert.Equal(t, tt.want, reply)
			assert.Zero(t, h.reg.Len())
			assert.Empty(t, h.fake.ThreadsIn(tankChannel))
		})
	}
}

func TestCloseButton(t *testing.T) {
	h := newHarness(t)
	rec := h.openTank(t)
	h.fake.AddMember("9050", "Bystander", snsSpear, guildRole)

	reply := h.click(t, h.member(t, "9050"), lifecycle.CloseButtonID(owner), rec.ThreadID, "")
	require.Equal(t, "You do not have permission to do this.", reply)
	require.True(t, h.record(t, owner).Open())

	reply = h.click(t, h.member(t, gsLead), lifecycle.CloseButtonID(owner), rec.ThreadID, "")
	require.Equal(t, "Thread closed.", reply)

	reply = h.click(t, h.member(t, owner), lifecycle.CloseButtonID(owner), rec.ThreadID, "")
	require.Equal(t, "This thread is already closed.", reply)
}

func TestUpdateAndCancelButtons(t *testing.T) {
	h := newHarness(t)
	rec := h.openTank(t)
	h.fake.SetRoles(owner, lifeWand, guildRole)
	h.fake.AddMember("9020", "Wand Lead", healerLead, lifeWandLead, masterLead)

	_, err := h.ctl.Repair(context.Background(), owner, lifecycle.RepairOptions{})
	require.NoError(t, err)
	var promptID string
	for _, m := range h.fake.MessagesIn(rec.ThreadID) {
		if len(m.Components) > 0 {
			promptID = m.ID
		}
	}
	require.NotEmpty(t, promptID)

	update := lifecycle.UpdateButtonID("tank", "healer", owner)
	reply := h.click(t, h.member(t, gsLead), update, rec.ThreadID, promptID)
	require.Equal(t, "Only the thread owner can do this.", reply)

	reply = h.click(t, h.member(t, owner), lifecycle.CancelUpdateButtonID(owner), rec.ThreadID, promptID)
	require.Equal(t, "Thread update cancelled.", reply)
	for _, m := range h.fake.MessagesIn(rec.ThreadID) {
		require.NotEqual(t, promptID, m.ID, "prompt deleted")
	}

	reply = h.click(t, h.member(t, owner), update, rec.ThreadID, "")
	moved := h.record(t, owner)
	require.Equal(t, "healer", moved.Category)
	require.Equal(t, "Your review has moved to <#"+moved.ThreadID+">.", reply)
}

func TestUnknownButton(t *testing.T) {
	h := newHarness(t)
	reply := h.click(t, platform.Member{ID: owner}, "something_else", openChannel, "")
	require.Equal(t, "Something went wrong. Please try again later.", reply)
}

func TestCheckThreadCommand(t *testing.T) {
	h := newHarness(t)
	rec := h.openTank(t)

	reply := h.command(t, h.member(t, gsLead), CommandCheckThread, openChannel, nil)
	require.Equal(t, "This command must be used inside a review thread.", reply)

	h.fake.AddMember("9050", "Bystander", snsSpear, guildRole)
	reply = h.command(t, h.member(t, "9050"), CommandCheckThread, rec.ThreadID, nil)
	require.Equal(t, "You do not have permission to do this.", reply)

	reply = h.command(t, h.member(t, gsLead), CommandCheckThread, rec.ThreadID, nil)
	require.Equal(t, "Thread checked: everything is in order.", reply)

	h.fake.SetThreadMembers(rec.ThreadID, owner, spLead)
	reply = h.command(t, h.member(t, gsLead), CommandCheckThread, rec.ThreadID, nil)
	require.Equal(t, "Thread checked:\nMembership fixed: 1 added, 1 removed.", reply)
}

func TestCleanThreadsCommand(t *testing.T) {
	h := newHarness(t)
	h.openTank(t)
	h.fake.SetRoles(owner, snsGS)

	reply := h.command(t, h.member(t, gsLead), CommandCleanThreads, openChannel, nil)
	require.Equal(t, "You do not have permission to do this.", reply)

	h.fake.AddMember(admin, "Admin")
	reply = h.command(t, h.member(t, admin), CommandCleanThreads, openChannel, map[string]string{"dry_run": "true"})
	require.Equal(t, "Checked 1 open reviews. Would close 1: <@9001>", reply)
	require.True(t, h.record(t, owner).Open())

	reply = h.command(t, h.member(t, admin), CommandCleanThreads, openChannel, nil)
	require.Equal(t, "Checked 1 open reviews. Closed 1: <@9001>", reply)
	require.False(t, h.record(t, owner).Open())
}

func TestMissingReviewsCommand(t *testing.T) {
	h := newHarness(t)
	h.openTank(t)
	h.fake.AddMember("9060", "No Review", snsSpear, guildRole)
	h.fake.AddMember("9061", "Officer", guildRole, exemptRole)
	h.fake.AddMember("9062", "Visitor")
	h.fake.PutMember(platform.Member{ID: "9063", Bot: true, Roles: roles.NewSet(guildRole)})
	h.fake.AddMember(admin, "Admin")

	reply := h.command(t, h.member(t, admin), CommandMissingReviews, notifyChannel, map[string]string{"ping": "false"})
	require.Equal(t, "Found 1 members without an active review.", reply)

	posted := h.contents(notifyChannel)
	require.Len(t, posted, 1)
	require.True(t, strings.HasSuffix(posted[0], "<@9060>"))
	require.NotContains(t, posted[0], "9061")
	require.NotContains(t, posted[0], "9063")
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{lifecycle.ErrOperationPending, "An operation on your thread is already in progress. Please wait a moment."},
		{fmt.Errorf("wrapped: %w", lifecycle.ErrThreadGone), "That review thread no longer exists."},
		{&roles.ClassificationError{Err: roles.ErrAmbiguousBucket}, "You have more than one weapon role. Please keep only one and try again."},
		{lifecycle.ErrNoReview, "No review thread was found."},
		{errTransient, "Something went wrong. Please try again later."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, userMessage(tt.err), tt.err.Error())
	}
}

func TestCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range Commands() {
		names[c.Name] = c.AdminOnly
	}
	require.Equal(t, map[string]bool{
		CommandCheckThread:    false,
		CommandCleanThreads:   true,
		CommandMissingReviews: true,
	}, names)
}
