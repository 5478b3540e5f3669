package commands

import (
	"strings"

	"github.com/dyluth/stave/internal/collab"
	"github.com/dyluth/stave/internal/printer"
	"github.com/dyluth/stave/internal/project"
	"github.com/spf13/cobra"
)

var identityRename string

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show or rename the local collaborator identity",
	Long: `Show the identity this machine uses when joining projects.

The identity is created on first use and kept in the data directory
(user.data_dir). Renaming keeps the user ID, so collaborators see the
same person under a new name.

Examples:
  stave identity
  stave identity --rename "Alex"`,
	Args: cobra.NoArgs,
	RunE: runIdentity,
}

func init() {
	identityCmd.Flags().StringVar(&identityRename, "rename", "", "Set a new display name")
	rootCmd.AddCommand(identityCmd)
}

func runIdentity(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	id, err := loadIdentity(cfg)
	if err != nil {
		return printer.Error("failed to load identity", err.Error(), nil)
	}

	if name := strings.TrimSpace(identityRename); name != "" {
		ids, err := collab.OpenBoltIdentityStore(cfg.IdentityPath())
		if err != nil {
			return printer.Error("failed to open identity store", err.Error(), nil)
		}
		defer ids.Close()

		id.UserName = name
		if err := ids.SaveIdentity(id); err != nil {
			return printer.Error("failed to rename identity", err.Error(), nil)
		}
		printer.Success("Renamed to %s\n", name)
	}

	printer.KeyValues([][2]string{
		{"User ID", id.UserID},
		{"Name", id.UserName},
		{"Color", project.UserColor(id.UserID)},
		{"Stored in", cfg.IdentityPath()},
	})
	return nil
}
