package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `version: "1.0"
guild_id: "100"
admin_user_id: "900"
channels:
  open_review: "200"
  notifications: "201"
  announcements: "202"
exempt_role_ids: ["300"]
master_lead_role_id: "301"
guild_roles:
  - id: "400"
    name: "Vanguard"
categories:
  - name: tank
    channel_id: "500"
    lead_role_id: "501"
    buckets:
      - role_id: "510"
        name: "SnS/GS"
        lead_role_id: "511"
  - name: healer
    channel_id: "600"
    lead_role_id: "601"
    buckets:
      - role_id: "610"
        name: "Life/Wand"
        lead_role_id: "611"
timings:
  reconcile_interval: 2h
  debounce_min: 1s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func validConfig() *WardenConfig {
	return &WardenConfig{
		Version: "1.0",
		GuildID: "100",
		Categories: []Category{
			{
				Name:       "tank",
				ChannelID:  "500",
				LeadRoleID: "501",
				Buckets:    []Bucket{{RoleID: "510", Name: "SnS/GS", LeadRoleID: "511"}},
			},
		},
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "100", cfg.GuildID)
	assert.Equal(t, "201", cfg.Channels.Notifications)
	require.Len(t, cfg.Categories, 2)
	assert.Equal(t, "tank", cfg.Categories[0].Name)
	assert.Equal(t, "SnS/GS", cfg.Categories[0].Buckets[0].Name)
	assert.Equal(t, []GuildRole{{ID: "400", Name: "Vanguard"}}, cfg.GuildRoles)

	// Explicit values win, the rest are defaulted
	assert.Equal(t, 2*time.Hour, cfg.Timings.ReconcileInterval)
	assert.Equal(t, time.Second, cfg.Timings.DebounceMin)
	assert.Equal(t, DefaultDebounceMax, cfg.Timings.DebounceMax)
	assert.Equal(t, DefaultPendingTTL, cfg.Timings.PendingTTL)
	assert.Equal(t, DefaultRetryAttempts, cfg.Timings.RetryAttempts)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/warden.yml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "version: \"1.0\"\ncategories:\n  - this is invalid\n    yaml syntax\n"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_DefaultsTimings(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.Timings)

	assert.Equal(t, DefaultReconcileInterval, cfg.Timings.ReconcileInterval)
	assert.Equal(t, DefaultReconcileCycleBound, cfg.Timings.ReconcileCycleBound)
	assert.Equal(t, DefaultInFlightDeletionTTL, cfg.Timings.InFlightDeletionTTL)
	assert.Equal(t, DefaultDebounceMin, cfg.Timings.DebounceMin)
	assert.Equal(t, DefaultSweepDelay, cfg.Timings.SweepDelay)
	assert.Equal(t, DefaultRetryStep, cfg.Timings.RetryStep)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *WardenConfig)
		wantErr string
	}{
		{
			name:    "unsupported version",
			mutate:  func(c *WardenConfig) { c.Version = "2.0" },
			wantErr: "unsupported version: 2.0",
		},
		{
			name:    "missing guild",
			mutate:  func(c *WardenConfig) { c.GuildID = "" },
			wantErr: "GuildID",
		},
		{
			name:    "non numeric guild",
			mutate:  func(c *WardenConfig) { c.GuildID = "guild" },
			wantErr: "numeric",
		},
		{
			name:    "no categories",
			mutate:  func(c *WardenConfig) { c.Categories = nil },
			wantErr: "Categories",
		},
		{
			name:    "uppercase category name",
			mutate:  func(c *WardenConfig) { c.Categories[0].Name = "Tank" },
			wantErr: "lowercase",
		},
		{
			name:    "underscore in category name",
			mutate:  func(c *WardenConfig) { c.Categories[0].Name = "melee_dps" },
			wantErr: "alphanum",
		},
		{
			name:    "category without buckets",
			mutate:  func(c *WardenConfig) { c.Categories[0].Buckets = nil },
			wantErr: "Buckets",
		},
		{
			name: "duplicate category",
			mutate: func(c *WardenConfig) {
				dup := c.Categories[0]
				dup.ChannelID = "700"
				dup.Buckets = []Bucket{{RoleID: "710", Name: "x", LeadRoleID: "711"}}
				c.Categories = append(c.Categories, dup)
			},
			wantErr: "duplicate category 'tank'",
		},
		{
			name: "shared channel",
			mutate: func(c *WardenConfig) {
				c.Categories = append(c.Categories, Category{
					Name: "healer", ChannelID: "500", LeadRoleID: "601",
					Buckets: []Bucket{{RoleID: "610", Name: "x", LeadRoleID: "611"}},
				})
			},
			wantErr: "share channel 500",
		},
		{
			name: "bucket role in two categories",
			mutate: func(c *WardenConfig) {
				c.Categories = append(c.Categories, Category{
					Name: "healer", ChannelID: "600", LeadRoleID: "601",
					Buckets: []Bucket{{RoleID: "510", Name: "x", LeadRoleID: "611"}},
				})
			},
			wantErr: "bucket role 510 is listed in both 'tank' and 'healer'",
		},
		{
			name:    "bucket lead equals bucket role",
			mutate:  func(c *WardenConfig) { c.Categories[0].Buckets[0].LeadRoleID = "510" },
			wantErr: "lead_role_id must differ",
		},
		{
			name: "debounce max below min",
			mutate: func(c *WardenConfig) {
				c.Timings = &TimingsConfig{DebounceMin: 5 * time.Second, DebounceMax: time.Second}
			},
			wantErr: "debounce_max",
		},
		{
			name: "cycle bound above interval",
			mutate: func(c *WardenConfig) {
				c.Timings = &TimingsConfig{ReconcileInterval: time.Minute, ReconcileCycleBound: time.Hour}
			},
			wantErr: "reconcile_cycle_bound",
		},
		{
			name:    "negative retry attempts",
			mutate:  func(c *WardenConfig) { c.Timings = &TimingsConfig{RetryAttempts: -1} },
			wantErr: "retry_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCategoryLookup(t *testing.T) {
	cfg := validConfig()

	cat, ok := cfg.Category("tank")
	require.True(t, ok)
	assert.Equal(t, "500", cat.ChannelID)

	_, ok = cfg.Category("healer")
	assert.False(t, ok)
}

func TestLoadRuntime(t *testing.T) {
	t.Setenv("WARDEN_CONFIG", "/etc/warden.yml")
	t.Setenv("DISCORD_TOKEN", "secret")
	t.Setenv("WARDEN_NAME_STORE", "Postgres")
	t.Setenv("WARDEN_LOG_LEVEL", "debug")
	t.Setenv("REDIS_URL", "")

	rt := LoadRuntime()
	assert.Equal(t, "/etc/warden.yml", rt.ConfigPath)
	assert.Equal(t, "secret", rt.DiscordToken)
	assert.Equal(t, "postgres", rt.NameStore)
	assert.Equal(t, "redis://localhost:6379/0", rt.RedisURL)
	assert.Equal(t, "default", rt.Instance)
	assert.Equal(t, "ingame_names", rt.NameTable)
	assert.Equal(t, -4, int(rt.LogLevel))
}
