package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dyluth/stave/internal/journal"
	"github.com/dyluth/stave/internal/printer"
	"github.com/dyluth/stave/internal/resolver"
	"github.com/dyluth/stave/internal/timespec"
	"github.com/spf13/cobra"
)

var (
	journalOutputFormat string
	journalSince        string
	journalUntil        string
	journalAction       string
	journalUser         string
)

var journalCmd = &cobra.Command{
	Use:   "journal <project-id> [MESSAGE_ID]",
	Short: "Browse the mirrored action history of a project",
	Long: `Inspect the actions broadcast to a project, as mirrored by the relay.

List Mode (no MESSAGE_ID):
  Displays messages matching filters as a table or JSONL stream.

Get Mode (with MESSAGE_ID):
  Displays one message as pretty-printed JSON.
  Accepts the shortened ID shown in the table (at least 6 characters).

Output Formats (list mode only):
  default - Human-readable table with ID, Action, User, Age and Summary
  jsonl   - Line-delimited JSON, one message per line

Time Filters (list mode only):
  --since  - Show messages sent after this time
  --until  - Show messages sent before this time

Content Filters (list mode only):
  --action - Filter by action (glob pattern: "*_BLOCK", "SET_*")
  --user   - Filter by user ID (exact match)

Examples:
  # Everything in the last hour
  stave journal <project-id> --since=1h

  # Block edits by one collaborator as JSONL
  stave journal <project-id> --action="*_BLOCK" --user=local-3f9a1c2b0 --output=jsonl

  # One message
  stave journal <project-id> 0-a1b2c3d4e`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().StringVarP(&journalOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")

	journalCmd.Flags().StringVar(&journalSince, "since", "", "Show messages after time (duration, RFC3339 or unix ms)")
	journalCmd.Flags().StringVar(&journalUntil, "until", "", "Show messages before time (duration, RFC3339 or unix ms)")

	journalCmd.Flags().StringVar(&journalAction, "action", "", "Filter by action (glob pattern)")
	journalCmd.Flags().StringVar(&journalUser, "user", "", "Filter by user ID (exact match)")

	rootCmd.AddCommand(journalCmd)
}

func runJournal(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	projectID := args[0]
	isGetMode := len(args) > 1

	var outputFormat journal.OutputFormat
	if !isGetMode {
		switch journalOutputFormat {
		case "default":
			outputFormat = journal.OutputFormatDefault
		case "jsonl":
			outputFormat = journal.OutputFormatJSONL
		default:
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", journalOutputFormat),
				[]string{"Valid formats: default, jsonl"},
			)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rc, err := openRelay(cfg)
	if err != nil {
		return err
	}
	defer rc.Close()

	if isGetMode {
		shortID := args[1]
		messageID, err := resolver.ResolveMessageID(ctx, rc, projectID, shortID)
		if err != nil {
			var ambiguous *resolver.AmbiguousError
			switch {
			case errors.As(err, &ambiguous):
				return printer.Error(
					"ambiguous message ID",
					ambiguous.Describe(),
					[]string{"Use more of the ID, or the full msg-... form"},
				)
			case resolver.IsNotFoundError(err):
				return printer.Error(
					fmt.Sprintf("message '%s' not found", shortID),
					"No message in the project's mirrored history ends with this ID.",
					[]string{fmt.Sprintf("List recent messages:\n  stave journal %s --since=1h", projectID)},
				)
			}
			return printer.Error("invalid message ID", err.Error(), nil)
		}

		if err := journal.Get(ctx, rc, projectID, messageID, os.Stdout); err != nil {
			if journal.IsNotFound(err) {
				return printer.Error(
					fmt.Sprintf("message '%s' not found", messageID),
					"The message is not in the project's mirrored history.",
					[]string{
						fmt.Sprintf("List recent messages:\n  stave journal %s --since=1h", projectID),
						"Old messages are trimmed once the mirror exceeds redis.mirror_max_len",
					},
				)
			}
			return printer.Error("failed to read message", err.Error(), nil)
		}
		return nil
	}

	since, until, err := timespec.ParseRange(journalSince, journalUntil, time.Now())
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use a duration (2h, 30m), an RFC3339 time or unix milliseconds"},
		)
	}

	filters := &journal.FilterCriteria{
		SinceTimestampMs: since,
		UntilTimestampMs: until,
		ActionGlob:       journalAction,
		UserID:           journalUser,
	}
	if err := journal.List(ctx, rc, projectID, outputFormat, filters, os.Stdout); err != nil {
		return printer.Error("failed to list messages", err.Error(), nil)
	}
	return nil
}
