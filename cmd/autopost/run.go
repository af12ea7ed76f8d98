package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/autopost"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Execute the publishing pipeline once",
	Long: `Runs the full pipeline: news search, content composition, image and
video generation, and posting. The run record is persisted after every step,
so a failed run can be replayed later with "autopost replay post".`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCommand)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.cleanup()

	env, err := rt.buildEnvironment(ctx)
	if err != nil {
		return err
	}
	pipeline, err := autopost.NewPipeline(env)
	if err != nil {
		return err
	}

	record, execErr := pipeline.Execute(ctx)
	printRunSummary(record)
	if execErr != nil {
		return fmt.Errorf("run %s failed: %w", record.ID, execErr)
	}
	return nil
}

func printRunSummary(record *autopost.RunRecord) {
	fmt.Println()
	color.Cyan("Run: %s", record.ID)
	for _, id := range autopost.StepOrder {
		step := record.Steps[id]
		switch step.Status {
		case autopost.StepStatusCompleted:
			color.Green("  %-12s %s", id, step.Status)
		case autopost.StepStatusFailed:
			color.Red("  %-12s %s: %s", id, step.Status, step.Error)
		case autopost.StepStatusSkipped:
			color.Yellow("  %-12s %s: %s", id, step.Status, step.Error)
		default:
			color.White("  %-12s %s", id, step.Status)
		}
	}
	switch record.Status {
	case autopost.RunStatusCompleted, autopost.RunStatusPartial:
		color.Green("Status: %s", record.Status)
	default:
		color.Red("Status: %s", record.Status)
	}
	if !record.Replayable {
		color.Yellow("Persistence is not configured; this run cannot be replayed")
	}
}
