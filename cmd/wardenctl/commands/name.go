package commands

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dyluth/warden/internal/identity"
	"github.com/dyluth/warden/internal/printer"
	"github.com/dyluth/warden/internal/retry"
	"github.com/spf13/cobra"
)

var (
	nameStore   string
	nameDSN     string
	nameTable   string
	nameNoCache bool
)

var nameCmd = &cobra.Command{
	Use:   "name USER_ID",
	Short: "Resolve a member's in-game name",
	Long: `Look up a member's in-game name the way warden does when it titles a
review thread. Reports one of three outcomes: found, unset (no name on
record, the member must register one) or failed (the store errored).

By default the lookup goes through warden's Redis name cache. Use
--no-cache to query the store directly.

Examples:
  wardenctl name 123456789012345678
  wardenctl name 123456789012345678 --store=postgres --dsn=postgres://... --no-cache`,
	Args: cobra.ExactArgs(1),
	RunE: runName,
}

func init() {
	nameCmd.Flags().StringVar(&nameStore, "store", env.NameStore, "Name store: sqlite, postgres or none")
	nameCmd.Flags().StringVar(&nameDSN, "dsn", env.NameStoreDSN, "Name store path or connection URL")
	nameCmd.Flags().StringVar(&nameTable, "table", env.NameTable, "Table holding user_id → name")
	nameCmd.Flags().BoolVar(&nameNoCache, "no-cache", false, "Bypass the Redis name cache")
	rootCmd.AddCommand(nameCmd)
}

func runName(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID := args[0]
	if _, err := strconv.ParseUint(userID, 10, 64); err != nil {
		return printer.Error("invalid user id", fmt.Sprintf("%q is not a numeric snowflake", userID), nil)
	}

	store, err := identity.Open(ctx, nameStore, nameDSN, nameTable)
	if err != nil {
		return printer.ErrorWithContext(
			"failed to open name store",
			err.Error(),
			map[string]string{"store": nameStore, "table": nameTable},
			nil,
		)
	}
	defer store.Close()

	logger := slog.New(slog.DiscardHandler)
	if !nameNoCache {
		client, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		store = identity.NewCachedStore(store, client.Redis(), instanceName, identity.DefaultCacheTTL, logger)
	}

	resolver := identity.NewResolver(store, retry.Policy{Attempts: 3, Step: 500 * time.Millisecond}, nil, logger)
	res := resolver.Resolve(ctx, userID)

	switch res.State {
	case identity.StateFound:
		printer.Success("%s → %s", userID, res.Name)
		return nil
	case identity.StateUnset:
		printer.Warning("%s has no in-game name on record", userID)
		return nil
	default:
		return printer.Error("name lookup failed", res.Err.Error(), []string{"Check the store settings with --store, --dsn and --table"})
	}
}
