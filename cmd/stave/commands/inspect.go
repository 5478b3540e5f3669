package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dyluth/stave/internal/printer"
	"github.com/dyluth/stave/internal/project"
	"github.com/dyluth/stave/internal/store"
	"github.com/dyluth/stave/pkg/protocol"
	"github.com/spf13/cobra"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <project-id>",
	Short: "Show the stored state of a project",
	Long: `Load a project from the configured store and print a summary:
its settings, tracks, blocks and markers, aggregate statistics and any
structural problems (blocks on missing tracks, overlapping blocks).

Examples:
  stave inspect <project-id>
  stave inspect <project-id> --json | jq .stats`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the loaded state, stats and problems as JSON")
	rootCmd.AddCommand(inspectCmd)
}

// inspection is the --json output.
type inspection struct {
	State    project.State `json:"state"`
	Stats    project.Stats `json:"stats"`
	Problems []string      `json:"problems"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	projectID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	data, err := st.FetchProjectData(ctx, projectID)
	if err != nil {
		if store.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("project '%s' not found", projectID),
				"No project with this ID exists in the configured store.",
				[]string{"Create one with:\n  stave new \"My Song\""},
			)
		}
		return printer.Error("failed to load project", err.Error(), nil)
	}

	state := project.Reduce(project.NewState(), project.Action{
		Type: project.ActionLoadProject,
		Payload: project.LoadProjectPayload{
			Project: data.Project,
			Tracks:  data.Tracks,
			Blocks:  data.Blocks,
			Markers: data.Markers,
		},
	})
	stats := project.ComputeStats(state)
	problems := project.Validate(state)

	if inspectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if problems == nil {
			problems = []string{}
		}
		return enc.Encode(inspection{State: state, Stats: stats, Problems: problems})
	}

	printer.KeyValues([][2]string{
		{"Project", fmt.Sprintf("%s (%s)", state.Project.Name, state.Project.ID)},
		{"BPM", fmt.Sprintf("%g", state.Project.BPM)},
		{"Master volume", fmt.Sprintf("%.2f", state.Project.MasterVolume)},
		{"Theme", fmt.Sprintf("%v", state.Project.Settings[protocol.SettingTheme])},
		{"Snap to grid", fmt.Sprintf("%v", state.Project.Settings[protocol.SettingSnapToGrid])},
		{"Tracks", fmt.Sprintf("%d", stats.Tracks)},
		{"Blocks", fmt.Sprintf("%d", stats.Blocks)},
		{"Markers", fmt.Sprintf("%d", stats.Markers)},
		{"Duration", fmt.Sprintf("%g beats", stats.Duration)},
	})

	if len(state.Tracks) > 0 {
		printer.Println("\nTracks:")
		for i, t := range state.Tracks {
			flags := ""
			if t.Muted {
				flags += " muted"
			}
			if t.Solo {
				flags += " solo"
			}
			if t.Locked {
				flags += " locked by " + t.LockedByUser
			}
			printer.Printf("  %d. %s (vol %d, %d blocks)%s\n", i+1, t.Name, t.Volume, len(project.BlocksForTrack(state, i)), flags)
		}
	}

	if len(state.Markers) > 0 {
		printer.Println("\nMarkers:")
		for _, m := range state.Markers {
			printer.Printf("  beat %-6g %s\n", m.Position, m.Label)
		}
	}

	printer.Println("")
	if len(problems) == 0 {
		printer.Success("No structural problems (checked %s)\n", time.Now().Format(time.RFC3339))
		return nil
	}
	printer.Warning("%d problem(s) found:\n", len(problems))
	for _, p := range problems {
		printer.Printf("  - %s\n", p)
	}
	return nil
}
