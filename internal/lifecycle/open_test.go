package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dyluth/warden/internal/identity"
	"github.com/dyluth/warden/internal/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesThread(t *testing.T) {
	h := newHarness(t)
	res := h.openTank(t)

	thread, ok := h.fake.GetThread(res.ThreadID)
	require.True(t, ok)
	assert.Equal(t, tankChannel, thread.ParentID)
	assert.Equal(t, "Aeltharion - SnS/GS Review [9001]", thread.Name)
	assert.Equal(t, []string{"5000", "9001", "9002"}, h.fake.ThreadMemberIDs(res.ThreadID),
		"owner and the matching bucket lead only")

	rec := h.record(t)
	assert.Equal(t, res.ThreadID, rec.ThreadID)
	assert.Equal(t, "tank", rec.Category)
	assert.Equal(t, tankLead, rec.LeadRoleID)
	assert.Equal(t, snsGS, rec.BucketRoleID)
	assert.True(t, rec.Open())

	msgs := h.fake.MessagesIn(res.ThreadID)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{CloseButtonID(owner)}, msgs[0].Components)
	assert.False(t, h.ctl.Pending(owner), "marker released on success")
}

func TestOpen_NameLookupOutage(t *testing.T) {
	h := newHarness(t)
	h.fake.AddMember(owner, "Discord Nick", snsGS)
	h.names.set(owner, identity.Result{State: identity.StateFailed, Err: errors.New("db down")})

	_, err := h.ctl.Open(context.Background(), owner)
	require.ErrorIs(t, err, ErrNameLookupFailed)
	assert.NotErrorIs(t, err, ErrNameUnset, "an outage must not read as an unset name")

	assert.Zero(t, h.fake.CountOps("create_thread"))
	assert.Zero(t, h.reg.Len())
	assert.False(t, h.ctl.Pending(owner))
}

func TestOpen_NameUnset(t *testing.T) {
	h := newHarness(t)
	h.fake.AddMember(owner, "Discord Nick", snsGS)
	h.names.set(owner, identity.Result{State: identity.StateUnset})

	_, err := h.ctl.Open(context.Background(), owner)
	require.ErrorIs(t, err, ErrNameUnset)
	assert.NotErrorIs(t, err, ErrNameLookupFailed)
	assert.Zero(t, h.fake.CountOps("create_thread"))
}

func TestOpen_ClassificationBlocks(t *testing.T) {
	tests := []struct {
		name    string
		roles   []string
		wantErr error
	}{
		{name: "no bucket role", roles: []string{guildRole}, wantErr: roles.ErrNoBucketRole},
		{name: "ambiguous", roles: []string{snsGS, lifeWand}, wantErr: roles.ErrAmbiguousBucket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.fake.AddMember(owner, "Nick", tt.roles...)

			_, err := h.ctl.Open(context.Background(), owner)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, h.fake.Ops(), "classification failure makes no platform mutation")
			assert.Zero(t, h.reg.Len())
		})
	}
}

func TestOpen_FailureMidCreationDeletesThread(t *testing.T) {
	h := newHarness(t)
	h.fake.AddMember(owner, "Nick", snsGS)
	h.fake.FailTimes("send", errors.New("gateway timeout"), 2)

	_, err := h.ctl.Open(context.Background(), owner)
	require.Error(t, err)

	require.Equal(t, 1, h.fake.CountOps("create_thread"))
	assert.Equal(t, 1, h.fake.CountOps("delete_thread"))
	assert.Empty(t, h.fake.ThreadsIn(tankChannel))
	assert.Zero(t, h.reg.Len(), "no record survives a failed open")
	assert.False(t, h.ctl.Pending(owner))
}

func TestOpen_OwnerAddFailureDeletesThread(t *testing.T) {
	h := newHarness(t)
	h.fake.AddMember(owner, "Nick", snsGS)
	h.fake.Hook = func(op string, args ...string) error {
		if op == "add_member" && args[1] == owner {
			return errors.New("missing access")
		}
		return nil
	}

	_, err := h.ctl.Open(context.Background(), owner)
	require.Error(t, err)
	assert.Empty(t, h.fake.ThreadsIn(tankChannel))
	assert.Zero(t, h.reg.Len())
}

func TestOpen_PendingOperation(t *testing.T) {
	h := newHarness(t)
	h.fake.AddMember(owner, "Nick", snsGS)
	require.True(t, h.ctl.pending.TryAdd(owner))

	_, err := h.ctl.Open(context.Background(), owner)
	require.ErrorIs(t, err, ErrOperationPending)

	// A crashed holder never releases; the marker lapses on its own.
	h.clock.Advance(5 * time.Minute)
	assert.False(t, h.ctl.Pending(owner))
	res, err := h.ctl.Open(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, OpenCreated, res.Outcome)
}

func TestOpen_ExistingThread(t *testing.T) {
	t.Run("already open", func(t *testing.T) {
		h := newHarness(t)
		first := h.openTank(t)
		h.fake.ResetOps()

		res, err := h.ctl.Open(context.Background(), owner)
		require.NoError(t, err)
		assert.Equal(t, OpenAlreadyOpen, res.Outcome)
		assert.Equal(t, first.ThreadID, res.ThreadID)
		assert.Empty(t, h.fake.Ops())
	})

	t.Run("owner left thread", func(t *testing.T) {
		h := newHarness(t)
		first := h.openTank(t)
		h.fake.SetThreadMembers(first.ThreadID, "5000", "9002")

		res, err := h.ctl.Open(context.Background(), owner)
		require.NoError(t, err)
		assert.Equal(t, OpenReadded, res.Outcome)
		assert.Contains(t, h.fake.ThreadMemberIDs(first.ThreadID), owner)
	})

	t.Run("archived thread reopens with full resync", func(t *testing.T) {
		h := newHarness(t)
		first := h.openTank(t)
		_, err := h.ctl.CloseAs(context.Background(), owner, "")
		require.NoError(t, err)
		h.fake.SetThreadMembers(first.ThreadID, "5000", "9003", "4444")
		h.names.set(owner, identity.Result{State: identity.StateUnset})

		res, err := h.ctl.Open(context.Background(), owner)
		require.NoError(t, err, "an unset name does not block reopening")
		assert.Equal(t, OpenReopened, res.Outcome)

		thread, _ := h.fake.GetThread(first.ThreadID)
		assert.False(t, thread.Archived)
		assert.False(t, thread.Locked)
		assert.Equal(t, []string{"5000", "9001", "9002"}, h.fake.ThreadMemberIDs(first.ThreadID))

		rec := h.record(t)
		assert.True(t, rec.Open())
		assert.True(t, rec.ArchivedAt.IsZero())
	})

	t.Run("vanished thread is replaced", func(t *testing.T) {
		h := newHarness(t)
		first := h.openTank(t)
		require.NoError(t, h.fake.DeleteThread(context.Background(), first.ThreadID))

		res, err := h.ctl.Open(context.Background(), owner)
		require.NoError(t, err)
		assert.Equal(t, OpenCreated, res.Outcome)
		assert.NotEqual(t, first.ThreadID, res.ThreadID)
		assert.Equal(t, res.ThreadID, h.record(t).ThreadID)
	})
}

func TestReopen(t *testing.T) {
	h := newHarness(t)
	first := h.openTank(t)
	_, err := h.ctl.CloseAs(context.Background(), owner, "")
	require.NoError(t, err)

	// Reconciliation is idempotent: reopening resyncs once and a second sync is a no-op.
	res, err := h.ctl.Reopen(context.Background(), owner, "Thread reopened.")
	require.NoError(t, err)
	assert.False(t, res.Changed())

	h.fake.ResetOps()
	res, err = h.ctl.Reopen(context.Background(), owner, "")
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Zero(t, h.fake.CountOps("add_member")+h.fake.CountOps("remove_member"))

	msgs := h.fake.MessagesIn(first.ThreadID)
	assert.Equal(t, "Thread reopened.", msgs[len(msgs)-1].Content)

	_, err = h.ctl.Reopen(context.Background(), "1234", "")
	assert.ErrorIs(t, err, ErrNoReview)
}
