package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/stave/internal/printer"
	"github.com/dyluth/stave/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	newBPM   float64
	newQuiet bool
)

var newCmd = &cobra.Command{
	Use:   "new [NAME]",
	Short: "Create an empty project in the configured store",
	Long: `Create a project with default settings and no tracks.

The project ID is printed so it can be shared with collaborators.

Examples:
  stave new "My Song"
  stave new "Ballad" --bpm 72
  ID=$(stave new -q "Jam") && stave serve "$ID"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNew,
}

func init() {
	newCmd.Flags().Float64Var(&newBPM, "bpm", 120, "Initial tempo in beats per minute")
	newCmd.Flags().BoolVarP(&newQuiet, "quiet", "q", false, "Print only the project ID")
	rootCmd.AddCommand(newCmd)
}

func runNew(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	if newBPM <= 0 {
		return printer.Error(
			fmt.Sprintf("invalid tempo: %g", newBPM),
			"BPM must be greater than 0.",
			nil,
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	data := scaffold.NewProject(name, newBPM)
	if err := st.SaveProjectData(ctx, data); err != nil {
		return printer.Error("failed to create project", err.Error(), nil)
	}

	if newQuiet {
		fmt.Fprintln(cmd.OutOrStdout(), data.Project.ID)
		return nil
	}
	printer.Success("Created project '%s'\n", data.Project.Name)
	printer.KeyValues([][2]string{
		{"ID", data.Project.ID},
		{"BPM", fmt.Sprintf("%g", data.Project.BPM)},
	})
	printer.Println("\nNext steps:")
	printer.Printf("  stave serve %s\n", data.Project.ID)
	printer.Printf("  stave watch %s\n", data.Project.ID)
	return nil
}
