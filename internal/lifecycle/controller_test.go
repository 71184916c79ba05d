package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/warden/internal/config"
	"github.com/dyluth/warden/internal/identity"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/platform/platformtest"
	"github.com/dyluth/warden/internal/reconcile"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/retry"
	"github.com/dyluth/warden/internal/roles"
	"github.com/stretchr/testify/require"
)

// Role ids used across the lifecycle tests.
const (
	tankChannel   = "10"
	tankLead      = "11"
	healerChannel = "20"
	healerLead    = "21"
	snsGS         = "100"
	snsGSLead     = "101"
	snsSpear      = "110"
	snsSpearLead  = "111"
	lifeWand      = "200"
	lifeWandLead  = "201"
	guildRole     = "700"

	owner = "9001"
)

func testConfig() *config.WardenConfig {
	return &config.WardenConfig{
		Version:    "1.0",
		GuildID:    "1",
		GuildRoles: []config.GuildRole{{ID: guildRole, Name: "Vanguard"}},
		Categories: []config.Category{
			{
				Name: "tank", ChannelID: tankChannel, LeadRoleID: tankLead,
				Buckets: []config.Bucket{
					{RoleID: snsGS, Name: "SnS/GS", LeadRoleID: snsGSLead},
					{RoleID: snsSpear, Name: "SnS/Spear", LeadRoleID: snsSpearLead},
				},
			},
			{
				Name: "healer", ChannelID: healerChannel, LeadRoleID: healerLead,
				Buckets: []config.Bucket{{RoleID: lifeWand, Name: "Life/Wand", LeadRoleID: lifeWandLead}},
			},
		},
	}
}

type stubNames struct {
	mu      sync.Mutex
	results map[string]identity.Result
}

func (s *stubNames) Resolve(ctx context.Context, userID string) identity.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[userID]; ok {
		return r
	}
	return identity.Result{State: identity.StateUnset}
}

func (s *stubNames) set(userID string, r identity.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[userID] = r
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	fake  *platformtest.Fake
	reg   *registry.Memory
	names *stubNames
	clock *testClock
	ctl   *Controller
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	f := platformtest.New("5000")
	policy := retry.Policy{Attempts: 2, Step: time.Millisecond, Permanent: platform.IsPermanent}
	opts := Options{
		AdminUserID: "9999",
		PendingTTL:  5 * time.Minute,
		InFlightTTL: 30 * time.Second,
		Retry:       policy,
	}
	for _, m := range mutate {
		m(&opts)
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := registry.New().WithClock(clock.Now)
	names := &stubNames{results: map[string]identity.Result{
		owner: {State: identity.StateFound, Name: "Aeltharion"},
	}}
	rec := reconcile.New(f, policy, nil, nil, 4)
	ctl := New(f, roles.NewClassifier(testConfig()), reg, names, rec, nil, nil, opts).WithClock(clock.Now)

	return &harness{fake: f, reg: reg, names: names, clock: clock, ctl: ctl}
}

// openTank gives the owner an SnS/GS tank review with one matching lead and one
// lead of another bucket.
func (h *harness) openTank(t *testing.T) OpenResult {
	t.Helper()
	h.fake.AddMember(owner, "Discord Nick", snsGS, guildRole)
	h.fake.AddMember("9002", "GS Lead", tankLead, snsGSLead)
	h.fake.AddMember("9003", "Spear Lead", tankLead, snsSpearLead)

	res, err := h.ctl.Open(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, OpenCreated, res.Outcome)
	return res
}

func (h *harness) record(t *testing.T) registry.Record {
	t.Helper()
	rec, ok := h.reg.Get(owner)
	require.True(t, ok)
	return rec
}

func identityFound(name string) identity.Result {
	return identity.Result{State: identity.StateFound, Name: name}
}
