package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/stave/internal/printer"
	"github.com/dyluth/stave/internal/watch"
	"github.com/spf13/cobra"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch <project-id>",
	Short: "Follow live activity on a project",
	Long: `Join a project and stream what collaborators do in real time.

Shows channel status changes, presence joins and leaves, every edit
broadcast to the project, message delivery status and file transfers.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch a project
  stave watch 3f1c0c52-2d4e-4c8a-9a57-1f7d3c1b9e10

  # Export events as JSON
  stave watch <project-id> --output=json > events.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			fmt.Sprintf("invalid output format: %s", watchOutputFormat),
			"Valid formats: default, json",
			[]string{"Use --output=default or --output=json"},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	done := make(chan error, 1)
	go func() { done <- watch.Stream(ctx, a.bus, outputFormat, os.Stdout) }()

	if outputFormat == watch.OutputFormatDefault {
		printer.Info("Watching project %s as %s (Ctrl+C to stop)\n", projectID, a.identity.UserName)
	}

	if err := a.transport.ConnectGeneral(ctx); err != nil {
		printer.Warning("general channel not connected yet, retrying in background: %v\n", err)
	}
	if err := a.session.Open(ctx, projectID); err != nil {
		stop()
		<-done
		return printer.ErrorWithContext(
			"failed to open project",
			err.Error(),
			map[string]string{"Project": projectID},
			[]string{
				"Check the project ID with:\n  stave inspect <project-id>",
				"Create a project with:\n  stave new \"My Song\"",
			},
		)
	}

	if err := <-done; err != nil {
		return printer.Error("watch failed", err.Error(), nil)
	}
	return nil
}
