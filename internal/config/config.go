package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when the timings section omits a value.
const (
	DefaultReconcileInterval   = 6 * time.Hour
	DefaultReconcileCycleBound = 10 * time.Minute
	DefaultPendingTTL          = 5 * time.Minute
	DefaultInFlightDeletionTTL = 30 * time.Second
	DefaultDebounceMin         = 2 * time.Second
	DefaultDebounceMax         = 5 * time.Second
	DefaultSweepDelay          = time.Second
	DefaultRetryAttempts       = 3
	DefaultRetryStep           = time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// WardenConfig represents the top-level warden.yml configuration
type WardenConfig struct {
	Version          string         `yaml:"version" validate:"required"`
	GuildID          string         `yaml:"guild_id" validate:"required,numeric"`
	AdminUserID      string         `yaml:"admin_user_id,omitempty" validate:"omitempty,numeric"`
	Channels         ChannelsConfig `yaml:"channels"`
	ExemptRoleIDs    []string       `yaml:"exempt_role_ids,omitempty" validate:"dive,numeric"`
	MasterLeadRoleID string         `yaml:"master_lead_role_id,omitempty" validate:"omitempty,numeric"`
	GuildRoles       []GuildRole    `yaml:"guild_roles" validate:"dive"`
	Categories       []Category     `yaml:"categories" validate:"required,min=1,dive"`
	Timings          *TimingsConfig `yaml:"timings,omitempty"`
	DryRun           bool           `yaml:"dry_run"`
	AutoMigrate      bool           `yaml:"auto_migrate"`
}

// ChannelsConfig names the fixed channels the bot posts to.
type ChannelsConfig struct {
	OpenReview    string `yaml:"open_review" validate:"omitempty,numeric"`
	Notifications string `yaml:"notifications" validate:"omitempty,numeric"`
	Announcements string `yaml:"announcements" validate:"omitempty,numeric"`
}

// GuildRole is an in-game guild affiliation role.
type GuildRole struct {
	ID   string `yaml:"id" validate:"required,numeric"`
	Name string `yaml:"name" validate:"required"`
}

// Category is a review category (a combat class) with its own channel and lead role.
// Buckets are ordered; the order is used when rendering summaries.
type Category struct {
	Name       string   `yaml:"name" validate:"required,alphanum,lowercase,max=32"`
	ChannelID  string   `yaml:"channel_id" validate:"required,numeric"`
	LeadRoleID string   `yaml:"lead_role_id" validate:"required,numeric"`
	Buckets    []Bucket `yaml:"buckets" validate:"required,min=1,dive"`
}

// Bucket is a weapon-pair sub-role inside a category with its own lead role.
type Bucket struct {
	RoleID     string `yaml:"role_id" validate:"required,numeric"`
	Name       string `yaml:"name" validate:"required"`
	LeadRoleID string `yaml:"lead_role_id" validate:"required,numeric"`
}

// TimingsConfig controls the reconciliation loop, guard expiry and debouncing.
type TimingsConfig struct {
	ReconcileInterval   time.Duration `yaml:"reconcile_interval,omitempty"`
	ReconcileCycleBound time.Duration `yaml:"reconcile_cycle_bound,omitempty"`
	PendingTTL          time.Duration `yaml:"pending_ttl,omitempty"`
	InFlightDeletionTTL time.Duration `yaml:"in_flight_deletion_ttl,omitempty"`
	DebounceMin         time.Duration `yaml:"debounce_min,omitempty"`
	DebounceMax         time.Duration `yaml:"debounce_max,omitempty"`
	SweepDelay          time.Duration `yaml:"sweep_delay,omitempty"`
	RetryAttempts       int           `yaml:"retry_attempts,omitempty"`
	RetryStep           time.Duration `yaml:"retry_step,omitempty"`
}

// Validate performs strict validation on the configuration and fills in defaults.
func (c *WardenConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field '%s' failed '%s' validation (value: %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	categoryNames := make(map[string]bool)
	channels := make(map[string]string) // channel_id → category
	bucketRoles := make(map[string]string)
	for _, cat := range c.Categories {
		if categoryNames[cat.Name] {
			return fmt.Errorf("duplicate category '%s'", cat.Name)
		}
		categoryNames[cat.Name] = true

		if other, exists := channels[cat.ChannelID]; exists {
			return fmt.Errorf("categories '%s' and '%s' share channel %s", other, cat.Name, cat.ChannelID)
		}
		channels[cat.ChannelID] = cat.Name

		for _, b := range cat.Buckets {
			if other, exists := bucketRoles[b.RoleID]; exists {
				return fmt.Errorf("bucket role %s is listed in both '%s' and '%s'", b.RoleID, other, cat.Name)
			}
			bucketRoles[b.RoleID] = cat.Name
			if b.LeadRoleID == b.RoleID {
				return fmt.Errorf("category '%s' bucket '%s': lead_role_id must differ from role_id", cat.Name, b.Name)
			}
		}
	}

	if c.Timings == nil {
		c.Timings = &TimingsConfig{}
	}
	c.Timings.applyDefaults()

	if c.Timings.DebounceMax < c.Timings.DebounceMin {
		return fmt.Errorf("timings.debounce_max (%s) must be >= timings.debounce_min (%s)", c.Timings.DebounceMax, c.Timings.DebounceMin)
	}
	if c.Timings.ReconcileCycleBound > c.Timings.ReconcileInterval {
		return fmt.Errorf("timings.reconcile_cycle_bound (%s) must not exceed timings.reconcile_interval (%s)",
			c.Timings.ReconcileCycleBound, c.Timings.ReconcileInterval)
	}
	if c.Timings.RetryAttempts < 1 {
		return fmt.Errorf("timings.retry_attempts must be >= 1, got %d", c.Timings.RetryAttempts)
	}

	return nil
}

func (t *TimingsConfig) applyDefaults() {
	if t.ReconcileInterval == 0 {
		t.ReconcileInterval = DefaultReconcileInterval
	}
	if t.ReconcileCycleBound == 0 {
		t.ReconcileCycleBound = DefaultReconcileCycleBound
	}
	if t.PendingTTL == 0 {
		t.PendingTTL = DefaultPendingTTL
	}
	if t.InFlightDeletionTTL == 0 {
		t.InFlightDeletionTTL = DefaultInFlightDeletionTTL
	}
	if t.DebounceMin == 0 {
		t.DebounceMin = DefaultDebounceMin
	}
	if t.DebounceMax == 0 {
		t.DebounceMax = DefaultDebounceMax
	}
	if t.SweepDelay == 0 {
		t.SweepDelay = DefaultSweepDelay
	}
	if t.RetryAttempts == 0 {
		t.RetryAttempts = DefaultRetryAttempts
	}
	if t.RetryStep == 0 {
		t.RetryStep = DefaultRetryStep
	}
}

// Category returns the category with the given name.
func (c *WardenConfig) Category(name string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return Category{}, false
}

// Load reads and validates warden.yml from the specified path
func Load(path string) (*WardenConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*WardenConfig, error) {
	var config WardenConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
