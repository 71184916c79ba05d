package commands

import (
	"fmt"

	"github.com/dyluth/warden/internal/config"
	"github.com/dyluth/warden/internal/printer"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [CONFIG]",
	Short: "Check a warden.yml file",
	Long: `Load and validate a warden.yml file, then print what the bot would manage.

Defaults to WARDEN_CONFIG, or warden.yml in the current directory.

Examples:
  wardenctl validate
  wardenctl validate deploy/prod/warden.yml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := env.ConfigPath
	if len(args) == 1 {
		path = args[0]
	}

	cfg, err := config.Load(path)
	if err != nil {
		return printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"file": path},
			[]string{"Fix the fields named above and run wardenctl validate again"},
		)
	}

	printer.Success("%s is valid (version %s)", path, cfg.Version)
	printer.Step("guild %s", cfg.GuildID)

	buckets := 0
	for _, c := range cfg.Categories {
		buckets += len(c.Buckets)
	}
	printer.Success("%s, %s", plural(len(cfg.Categories), "category", "categories"), plural(buckets, "bucket", "buckets"))
	for _, c := range cfg.Categories {
		printer.Detail("%s: channel %s, lead role %s, %s", c.Name, c.ChannelID, c.LeadRoleID,
			plural(len(c.Buckets), "bucket", "buckets"))
	}

	if len(cfg.GuildRoles) == 0 {
		printer.Warning("no guild roles: the sweep will close every review without an exempt role")
	} else {
		printer.Success("%s", plural(len(cfg.GuildRoles), "guild role", "guild roles"))
	}
	if cfg.AdminUserID == "" {
		printer.Warning("no admin_user_id: admin commands and notifications have no target")
	}
	if cfg.Channels.OpenReview == "" {
		printer.Warning("no open_review channel: the Open Review button will not be posted")
	}
	if cfg.Channels.Notifications == "" {
		printer.Warning("no notifications channel: duplicate and rename alerts are dropped")
	}
	if cfg.MasterLeadRoleID == "" {
		printer.Warning("no master_lead_role_id: only per-category lead roles are managed")
	}

	t := cfg.Timings
	printer.Step("reconcile every %s (bound %s), debounce %s-%s, retry %dx%s",
		t.ReconcileInterval, t.ReconcileCycleBound, t.DebounceMin, t.DebounceMax, t.RetryAttempts, t.RetryStep)
	if cfg.DryRun {
		printer.Warning("dry_run is on: cleanthreads only reports")
	}
	if cfg.AutoMigrate {
		printer.Step("category changes migrate automatically")
	} else {
		printer.Step("category changes prompt the owner")
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
