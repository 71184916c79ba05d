package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/platform/platformtest"
	"github.com/dyluth/warden/internal/retry"
	"github.com/dyluth/warden/internal/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tankLead   = "11"
	snsGS      = "100"
	snsGSLead  = "101"
	spear      = "110"
	spearLead  = "111"
	healerLead = "21"
)

var (
	tank = roles.Category{Name: "tank", ChannelID: "10", LeadRoleID: tankLead}
	gs   = roles.Bucket{RoleID: snsGS, Name: "SnS/GS", LeadRoleID: snsGSLead, Category: "tank"}
)

func setup(t *testing.T) (*platformtest.Fake, *Reconciler) {
	t.Helper()
	f := platformtest.New("bot")
	policy := retry.Policy{Attempts: 2, Step: time.Millisecond, Permanent: platform.IsPermanent}
	return f, New(f, policy, nil, nil, 4)
}

func TestDesired_SpecificityWins(t *testing.T) {
	members := []platform.Member{
		{ID: "owner", Roles: roles.NewSet(snsGS)},
		{ID: "gsLead", Roles: roles.NewSet(tankLead, snsGSLead)},
		{ID: "spearLead", Roles: roles.NewSet(tankLead, spearLead)},
		{ID: "bucketOnly", Roles: roles.NewSet(snsGSLead)},
		{ID: "otherCat", Roles: roles.NewSet(healerLead, snsGSLead)},
		{ID: "botLead", Bot: true, Roles: roles.NewSet(tankLead, snsGSLead)},
	}

	got := Desired(Target{OwnerID: "owner", Category: tank, Bucket: gs}, members)
	assert.Equal(t, map[string]struct{}{"owner": {}, "gsLead": {}}, got)
}

func TestDiff(t *testing.T) {
	desired := map[string]struct{}{"owner": {}, "lead1": {}, "lead2": {}}
	plan := Diff([]string{"bot", "lead1", "stranger", "spearLead"}, desired, "owner", "bot")

	assert.Equal(t, []string{"lead2", "owner"}, plan.Add)
	assert.Equal(t, []string{"spearLead", "stranger"}, plan.Remove)
}

func TestDiff_NeverRemovesOwner(t *testing.T) {
	plan := Diff([]string{"owner"}, map[string]struct{}{}, "owner")
	assert.True(t, plan.Empty())
}

func TestSync_ConvergesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f, r := setup(t)
	f.AddMember("owner", "Owner", snsGS)
	f.AddMember("gsLead", "GS Lead", tankLead, snsGSLead)
	f.AddMember("spearLead", "Spear Lead", tankLead, spearLead)
	f.AddMember("stranger", "Stranger")
	th := f.SeedThread("10", "Owner - SnS/GS Review [owner]", false, false, "bot", "spearLead", "stranger")

	target := Target{ThreadID: th.ID, OwnerID: "owner", Category: tank, Bucket: gs}
	res, err := r.Sync(ctx, target)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"gsLead", "owner"}, res.Added)
	assert.Equal(t, []string{"spearLead", "stranger"}, res.Removed)
	assert.Equal(t, []string{"bot", "gsLead", "owner"}, f.ThreadMemberIDs(th.ID))

	f.ResetOps()
	res, err = r.Sync(ctx, target)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Empty(t, f.Ops(), "a second sync issues no operations")
}

func TestSync_IndependentFailures(t *testing.T) {
	ctx := context.Background()
	f, r := setup(t)
	f.AddMember("owner", "Owner", snsGS)
	f.AddMember("lead1", "Lead 1", tankLead, snsGSLead)
	f.AddMember("lead2", "Lead 2", tankLead, snsGSLead)
	th := f.SeedThread("10", "t", false, false, "bot", "stranger")

	f.Hook = func(op string, args ...string) error {
		if op == "add_member" && args[1] == "lead1" {
			return errors.New("user left")
		}
		return nil
	}

	res, err := r.Sync(ctx, Target{ThreadID: th.ID, OwnerID: "owner", Category: tank, Bucket: gs})
	require.NoError(t, err)
	assert.False(t, res.OK())
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "lead1", res.Failed[0].UserID)
	assert.Equal(t, "add", res.Failed[0].Op)
	assert.Equal(t, []string{"lead2", "owner"}, res.Added)
	assert.Equal(t, []string{"stranger"}, res.Removed)
}

func TestSync_ThreadMissing(t *testing.T) {
	_, r := setup(t)
	_, err := r.SyncWith(context.Background(), Target{ThreadID: "nope", OwnerID: "owner", Category: tank, Bucket: gs}, nil)
	assert.ErrorIs(t, err, platform.ErrNotFound)
}

func TestSync_RetriesTransientMemberErrors(t *testing.T) {
	ctx := context.Background()
	f, r := setup(t)
	f.AddMember("owner", "Owner", snsGS)
	th := f.SeedThread("10", "t", false, false, "bot")
	f.Fail("add_member", errors.New("rate limited"))

	res, err := r.Sync(ctx, Target{ThreadID: th.ID, OwnerID: "owner", Category: tank, Bucket: gs})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"owner"}, res.Added)
}
