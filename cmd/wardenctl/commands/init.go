package commands

import (
	"github.com/dyluth/warden/internal/printer"
	"github.com/dyluth/warden/internal/scaffold"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Write a starter warden.yml and warden.env",
	Long: `Write a starter warden.yml and a warden.env listing every environment
variable the bot reads. The config starts in dry-run mode with placeholder
ids; replace them, then run wardenctl validate.

Examples:
  wardenctl init
  wardenctl init deploy/prod --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	written, err := scaffold.Initialize(dir, initForce)
	if err != nil {
		return printer.Error("init failed", err.Error(), nil)
	}

	for _, path := range written {
		printer.Success("wrote %s", path)
	}
	printer.Step("next: fill in the ids and DISCORD_TOKEN, then run wardenctl validate")
	return nil
}
