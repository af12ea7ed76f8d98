package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/autopost"
)

var replayCommand = &cobra.Command{
	Use:   "replay",
	Short: "Inspect and replay persisted runs",
}

var replayListCommand = &cobra.Command{
	Use:   "list [limit]",
	Short: "List persisted runs, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  replayList,
}

var replayShowJSON bool

var replayShowCommand = &cobra.Command{
	Use:   "show <runId>",
	Short: "Show one run record",
	Args:  cobra.ExactArgs(1),
	RunE:  replayShow,
}

var replayPostCommand = &cobra.Command{
	Use:   "post <runId>",
	Short: "Re-publish a run from its stored artifacts",
	Long: `Replays the posting step of a persisted run. Upstream steps are not
re-executed: the post is built from the record and the stored media
artifacts. A run that already posted is refused.`,
	Args: cobra.ExactArgs(1),
	RunE: replayPost,
}

var replayDeleteCommand = &cobra.Command{
	Use:   "delete <runId>",
	Short: "Delete a run record and its stored artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  replayDelete,
}

func init() {
	replayShowCommand.Flags().BoolVar(&replayShowJSON, "json", false, "Print the raw record as JSON")
	replayCommand.AddCommand(replayListCommand, replayShowCommand, replayPostCommand, replayDeleteCommand)
	rootCmd.AddCommand(replayCommand)
}

func newReplay(cmd *cobra.Command) (*autopost.Replay, func(), error) {
	rt, err := loadRuntime(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	replay, err := autopost.NewReplay(rt.runs, rt.store, rt.client, rt.logger)
	if err != nil {
		rt.cleanup()
		return nil, nil, err
	}
	return replay, rt.cleanup, nil
}

func replayList(cmd *cobra.Command, args []string) error {
	limit := 20
	if len(args) == 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed < 1 {
			return fmt.Errorf("limit must be a positive number, got %q", args[0])
		}
		limit = parsed
	}

	replay, cleanup, err := newReplay(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	summaries, err := replay.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		color.White("No runs recorded")
		return nil
	}
	for _, s := range summaries {
		line := fmt.Sprintf("%s  %-10s %s", s.ID, s.Status, s.StartedAt.Format("2006-01-02 15:04:05"))
		switch s.Status {
		case autopost.RunStatusCompleted, autopost.RunStatusPartial:
			color.Green("%s", line)
		case autopost.RunStatusFailed:
			color.Red("%s  %s", line, s.Error)
		default:
			color.White("%s", line)
		}
	}
	return nil
}

func replayShow(cmd *cobra.Command, args []string) error {
	replay, cleanup, err := newReplay(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	record, err := replay.Show(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if replayShowJSON {
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	printRunSummary(record)
	return nil
}

func replayPost(cmd *cobra.Command, args []string) error {
	replay, cleanup, err := newReplay(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	record, err := replay.Post(cmd.Context(), args[0])
	if record != nil {
		printRunSummary(record)
	}
	if err != nil {
		return fmt.Errorf("replay of %s failed: %w", args[0], err)
	}
	return nil
}

func replayDelete(cmd *cobra.Command, args []string) error {
	replay, cleanup, err := newReplay(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := replay.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	color.Green("Deleted run %s", args[0])
	return nil
}
