package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/warden/internal/config"
	"github.com/dyluth/warden/internal/printer"
	"github.com/dyluth/warden/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	env          = config.LoadRuntime()
	instanceName string
	redisURL     string
)

var rootCmd = &cobra.Command{
	Use:   "wardenctl",
	Short: "Operator tooling for the warden review-thread controller",
	Long: `wardenctl inspects a running warden instance without touching Discord.

It reads the review ledger warden mirrors into Redis, follows its change
stream, checks warden.yml before a deploy and resolves in-game names through
the same store the bot uses.

Connection settings default to the bot's environment (WARDEN_INSTANCE,
REDIS_URL, WARDEN_NAME_STORE, WARDEN_NAME_STORE_DSN, WARDEN_NAME_TABLE).`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. Errors are printed by the printer package.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version shown by --version.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&instanceName, "instance", "i", env.Instance, "warden instance name")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", env.RedisURL, "Redis URL holding the review ledger")
}

// openLedger connects to the ledger and checks Redis is reachable.
func openLedger(ctx context.Context) (*ledger.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, printer.Error(
			"invalid Redis URL",
			fmt.Sprintf("Could not parse %q: %v", redisURL, err),
			[]string{"Pass a URL such as redis://localhost:6379/0 via --redis-url or REDIS_URL"},
		)
	}

	client, err := ledger.NewClient(opts, instanceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis unreachable",
			err.Error(),
			map[string]string{"url": opts.Addr, "instance": instanceName},
			[]string{"Check that Redis is running and --redis-url points at it"},
		)
	}
	return client, nil
}
