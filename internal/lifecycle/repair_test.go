package lifecycle

import (
	"context"
	"testing"

	"github.com/dyluth/warden/internal/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair_DropsVanishedThread(t *testing.T) {
	h := newHarness(t)
	res := h.openTank(t)
	require.NoError(t, h.fake.DeleteThread(context.Background(), res.ThreadID))

	report, err := h.ctl.Repair(context.Background(), owner, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, RepairDropped, report.Outcome)
	assert.Zero(t, h.reg.Len())
}

func TestRepair_CorrectsArchiveState(t *testing.T) {
	h := newHarness(t)
	res := h.openTank(t)
	require.NoError(t, h.fake.SetArchived(context.Background(), res.ThreadID, true))

	report, err := h.ctl.Repair(context.Background(), owner, RepairOptions{FullSync: true})
	require.NoError(t, err)
	assert.True(t, report.StateCorrected)
	assert.Equal(t, RepairOK, report.Outcome)

	rec := h.record(t)
	assert.True(t, rec.Archived)
	assert.Equal(t, h.clock.Now(), rec.ArchivedAt)
	assert.False(t, report.Sync.Changed(), "closed threads are not resynced")
}

func TestRepair_RevertsTitle(t *testing.T) {
	h := newHarness(t)
	res := h.openTank(t)
	require.NoError(t, h.fake.RenameThread(context.Background(), res.ThreadID, "my cool thread"))

	report, err := h.ctl.Repair(context.Background(), owner, RepairOptions{})
	require.NoError(t, err)
	assert.True(t, report.Rename.Renamed)

	thread, _ := h.fake.GetThread(res.ThreadID)
	assert.Equal(t, "Aeltharion - SnS/GS Review [9001]", thread.Name)
}

func TestRepair_BucketChangeSwapsLeads(t *testing.T) {
	h := newHarness(t)
	res := h.openTank(t)
	h.fake.SetRoles(owner, snsSpear, guildRole)

	report, err := h.ctl.Repair(context.Background(), owner, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, RepairOK, report.Outcome)
	assert.True(t, report.Rename.BucketChanged)
	assert.Equal(t, []string{"9003"}, report.Rename.Sync.Added)
	assert.Equal(t, []string{"9002"}, report.Rename.Sync.Removed)

	assert.Equal(t, []string{"5000", "9001", "9003"}, h.fake.ThreadMemberIDs(res.ThreadID))
	thread, _ := h.fake.GetThread(res.ThreadID)
	assert.Equal(t, "Aeltharion - SnS/Spear Review [9001]", thread.Name)
	assert.Equal(t, snsSpear, h.record(t).BucketRoleID)
}

func TestRepair_UnclassifiedMakesNoChanges(t *testing.T) {
	h := newHarness(t)
	h.openTank(t)
	h.fake.SetRoles(owner, guildRole)
	h.fake.ResetOps()

	report, err := h.ctl.Repair(context.Background(), owner, RepairOptions{FullSync: true})
	require.NoError(t, err)
	assert.Equal(t, RepairUnclassified, report.Outcome)
	assert.ErrorIs(t, report.Err, roles.ErrNoBucketRole)
	assert.Empty(t, h.fake.Ops())
	assert.True(t, h.record(t).Open())
}

func TestRepair_OwnerMissing(t *testing.T) {
	h := newHarness(t)
	h.openTank(t)
	h.fake.RemoveMember(owner)

	report, err := h.ctl.Repair(context.Background(), owner, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, RepairOwnerMissing, report.Outcome)
	assert.Equal(t, 1, h.reg.Len())
}

func TestRepair_FullSyncIsIdempotent(t *testing.T) {
	h := newHarness(t)
	res := h.openTank(t)
	h.fake.SetThreadMembers(res.ThreadID, "5000", "9001", "9003")

	members, err := h.fake.Members(context.Background())
	require.NoError(t, err)
	opts := RepairOptions{FullSync: true, Members: members}

	report, err := h.ctl.Repair(context.Background(), owner, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"9002"}, report.Sync.Added)
	assert.Equal(t, []string{"9003"}, report.Sync.Removed)

	h.fake.ResetOps()
	report, err = h.ctl.Repair(context.Background(), owner, opts)
	require.NoError(t, err)
	assert.False(t, report.Sync.Changed())
	assert.Empty(t, h.fake.Ops())
}

func TestRepair_AutoMigrate(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AutoMigrate = true })
	first := h.openTank(t)
	switchToHealer(h)

	report, err := h.ctl.Repair(context.Background(), owner, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, RepairMigrated, report.Outcome)
	require.NotNil(t, report.Migrate)
	assert.NotEqual(t, first.ThreadID, h.record(t).ThreadID)
	assert.Equal(t, "healer", h.record(t).Category)
}

func TestRepair_AutoMigrateSkipsClosedThreads(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AutoMigrate = true })
	first := h.openTank(t)
	_, err := h.ctl.CloseAs(context.Background(), owner, "")
	require.NoError(t, err)
	switchToHealer(h)
	h.fake.ResetOps()

	report, err := h.ctl.Repair(context.Background(), owner, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, RepairMigrationFlagged, report.Outcome)
	assert.Equal(t, first.ThreadID, h.record(t).ThreadID)
	assert.Equal(t, "healer", h.record(t).PendingCategory)
	assert.Empty(t, h.fake.Ops(), "no prompt in a closed thread")
}

func TestRepair_PromptPostedOnce(t *testing.T) {
	h := newHarness(t)
	h.openTank(t)
	switchToHealer(h)

	for i := 0; i < 3; i++ {
		_, err := h.ctl.Repair(context.Background(), owner, RepairOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.fake.CountOps("send")-1, "one prompt after the close button")

	// The in-memory marker is lost on restart; the thread itself still shows the prompt.
	h.ctl.prompted.Remove(owner)
	_, err := h.ctl.Repair(context.Background(), owner, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, h.fake.CountOps("send"))
}

func TestCancelPrompt(t *testing.T) {
	h := newHarness(t)
	res := h.openTank(t)
	switchToHealer(h)
	_, err := h.ctl.Repair(context.Background(), owner, RepairOptions{})
	require.NoError(t, err)

	msgs := h.fake.MessagesIn(res.ThreadID)
	prompt := msgs[len(msgs)-1]

	err = h.ctl.CancelPrompt(context.Background(), owner, "9002", res.ThreadID, prompt.ID)
	require.ErrorIs(t, err, ErrNotThreadOwner)

	require.NoError(t, h.ctl.CancelPrompt(context.Background(), owner, owner, res.ThreadID, prompt.ID))
	assert.Len(t, h.fake.MessagesIn(res.ThreadID), len(msgs)-1)
	assert.False(t, h.ctl.prompted.Contains(owner))

	require.NoError(t, h.ctl.CancelPrompt(context.Background(), owner, owner, res.ThreadID, prompt.ID),
		"deleting an already deleted prompt is fine")
}

func TestUpdate(t *testing.T) {
	t.Run("only the owner", func(t *testing.T) {
		h := newHarness(t)
		h.openTank(t)
		_, err := h.ctl.Update(context.Background(), owner, "9002")
		assert.ErrorIs(t, err, ErrNotThreadOwner)
	})

	t.Run("same category renames", func(t *testing.T) {
		h := newHarness(t)
		h.openTank(t)
		h.names.set(owner, identityFound("Renamed"))

		res, err := h.ctl.Update(context.Background(), owner, owner)
		require.NoError(t, err)
		assert.Equal(t, UpdateRenamed, res.Outcome)
		assert.Equal(t, "Renamed - SnS/GS Review [9001]", res.Rename.Title)

		res, err = h.ctl.Update(context.Background(), owner, owner)
		require.NoError(t, err)
		assert.Equal(t, UpdateUnchanged, res.Outcome)
	})

	t.Run("closed review", func(t *testing.T) {
		h := newHarness(t)
		h.openTank(t)
		_, err := h.ctl.CloseAs(context.Background(), owner, "")
		require.NoError(t, err)

		_, err = h.ctl.Update(context.Background(), owner, owner)
		assert.ErrorIs(t, err, ErrNoReview)
	})
}
