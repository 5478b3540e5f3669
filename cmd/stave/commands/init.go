package commands

import (
	"github.com/dyluth/stave/internal/printer"
	"github.com/dyluth/stave/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a stave workspace",
	Long: `Initialize a workspace with default configuration.

Creates:
  • stave.yml    - Relay, store, identity and gateway settings
  • .env.example - Environment overrides (copy to .env)

Use --force to reinitialize an existing workspace (WARNING: overwrites existing configuration).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	// Note: Cannot use -f shorthand because it conflicts with global --config flag
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (overwrites stave.yml and .env.example)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := scaffold.Initialize(".", forceInit); err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	scaffold.PrintSuccess()
	return nil
}
