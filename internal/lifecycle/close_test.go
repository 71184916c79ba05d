package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/reconcile"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/retry"
	"github.com/dyluth/warden/internal/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClose_Permissions(t *testing.T) {
	tests := []struct {
		name    string
		actor   platform.Member
		wantAs  string
		wantErr error
	}{
		{name: "owner", actor: platform.Member{ID: owner, Roles: roles.NewSet(snsGS)}, wantAs: ClosedByOwner},
		{name: "category lead", actor: platform.Member{ID: "9003", Roles: roles.NewSet(tankLead)}, wantAs: ClosedByLead},
		{name: "administrator permission", actor: platform.Member{ID: "4000", Administrator: true, Roles: roles.NewSet()}, wantAs: ClosedByAdmin},
		{name: "configured admin", actor: platform.Member{ID: "9999", Roles: roles.NewSet()}, wantAs: ClosedByAdmin},
		{name: "other category lead", actor: platform.Member{ID: "4001", Roles: roles.NewSet(healerLead)}, wantErr: ErrForbidden},
		{name: "stranger", actor: platform.Member{ID: "4002", Roles: roles.NewSet(snsGS)}, wantErr: ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			res := h.openTank(t)
			h.fake.ResetOps()

			outcome, err := h.ctl.Close(context.Background(), owner, tt.actor)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, h.fake.Ops())
				assert.True(t, h.record(t).Open())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, CloseClosed, outcome)

			msgs := h.fake.MessagesIn(res.ThreadID)
			assert.Equal(t, "This thread was closed by <@"+tt.actor.ID+"> ("+tt.wantAs+").", msgs[len(msgs)-1].Content)

			thread, _ := h.fake.GetThread(res.ThreadID)
			assert.True(t, thread.Archived)
			assert.True(t, thread.Locked)

			rec := h.record(t)
			assert.True(t, rec.Archived)
			assert.True(t, rec.Locked)
			assert.Equal(t, h.clock.Now(), rec.ArchivedAt)
		})
	}
}

func TestClose_LocksBeforeArchiving(t *testing.T) {
	h := newHarness(t)
	h.openTank(t)
	h.fake.ResetOps()

	_, err := h.ctl.CloseAs(context.Background(), owner, "")
	require.NoError(t, err)

	var names []string
	for _, op := range h.fake.Ops() {
		names = append(names, op.Name)
	}
	assert.Equal(t, []string{"set_locked", "set_archived"}, names, "no note is posted when empty")
}

func TestClose_AlreadyClosed(t *testing.T) {
	h := newHarness(t)
	h.openTank(t)
	_, err := h.ctl.CloseAs(context.Background(), owner, "Closed: member left the server.")
	require.NoError(t, err)
	h.fake.ResetOps()

	outcome, err := h.ctl.CloseAs(context.Background(), owner, "again")
	require.NoError(t, err)
	assert.Equal(t, CloseAlreadyClosed, outcome)
	assert.Empty(t, h.fake.Ops())
}

func TestClose_ThreadGone(t *testing.T) {
	h := newHarness(t)
	res := h.openTank(t)
	require.NoError(t, h.fake.DeleteThread(context.Background(), res.ThreadID))

	_, err := h.ctl.CloseAs(context.Background(), owner, "")
	require.ErrorIs(t, err, ErrThreadGone)
	assert.Zero(t, h.reg.Len(), "stale record dropped")

	_, err = h.ctl.Close(context.Background(), owner, platform.Member{ID: owner})
	assert.ErrorIs(t, err, ErrNoReview)
}

// staleOnce hands out an outdated record on the first Get, as if a migration repointed
// the review between the caller's read and its taking the pending marker.
type staleOnce struct {
	registry.Store
	stale registry.Record
	used  bool
}

func (s *staleOnce) Get(userID string) (registry.Record, bool) {
	if !s.used && userID == s.stale.UserID {
		s.used = true
		return s.stale, true
	}
	return s.Store.Get(userID)
}

func TestClose_RereadsRecordAfterAcquire(t *testing.T) {
	h := newHarness(t)
	res := h.openTank(t)

	stale := h.record(t)
	stale.ThreadID = "8888"
	policy := retry.Policy{Attempts: 2, Step: time.Millisecond, Permanent: platform.IsPermanent}
	ctl := New(h.fake, roles.NewClassifier(testConfig()), &staleOnce{Store: h.reg, stale: stale}, h.names,
		reconcile.New(h.fake, policy, nil, nil, 4), nil, nil, Options{PendingTTL: time.Minute, Retry: policy}).
		WithClock(h.clock.Now)

	outcome, err := ctl.Close(context.Background(), owner, platform.Member{ID: owner, Roles: roles.NewSet(snsGS)})
	require.NoError(t, err)
	assert.Equal(t, CloseClosed, outcome)

	thread, _ := h.fake.GetThread(res.ThreadID)
	assert.True(t, thread.Archived)
	assert.True(t, thread.Locked)
	rec := h.record(t)
	assert.Equal(t, res.ThreadID, rec.ThreadID)
	assert.True(t, rec.Archived)
}
