package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/runkeeper/pkg/notify"
	"github.com/spf13/cobra"
)

var generateMarkdownSummaryCmd = &cobra.Command{
	Use:   "generate-markdown-summary",
	Short: "Generate a markdown summary of a run",
	Long:  `Reads a run and its results from the database and produces a markdown summary file.`,
	RunE:  runGenerateMarkdownSummary,
}

var (
	summaryProjectID string
	summaryRunID     string
	summaryOutput    string
)

func init() {
	rootCmd.AddCommand(generateMarkdownSummaryCmd)
	generateMarkdownSummaryCmd.Flags().StringVar(&summaryProjectID, "project", "",
		"Project ID of the run")
	generateMarkdownSummaryCmd.Flags().StringVar(&summaryRunID, "run-id", "",
		"Run to summarize")
	generateMarkdownSummaryCmd.Flags().StringVar(&summaryOutput, "output", "",
		"Output file path, - for stdout (default: summary-<run_id>.md)")

	_ = generateMarkdownSummaryCmd.MarkFlagRequired("project")
	_ = generateMarkdownSummaryCmd.MarkFlagRequired("run-id")
}

func runGenerateMarkdownSummary(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.close()

	run, err := eng.service.GetRun(ctx, summaryProjectID, summaryRunID)
	if err != nil {
		return err
	}

	stats, err := eng.service.RunStats(ctx, summaryProjectID, summaryRunID)
	if err != nil {
		return err
	}

	digest, err := eng.dispatcher.Prepare(ctx, run, *stats)
	if err != nil {
		return fmt.Errorf("preparing digest: %w", err)
	}

	md := notify.RenderSummary(digest)

	if summaryOutput == "-" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), md)

		return err
	}

	output := summaryOutput
	if output == "" {
		output = fmt.Sprintf("summary-%s.md", run.ID)
	}

	if err := os.WriteFile(output, []byte(md), 0o644); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}

	log.WithField("output", output).
		Info("Markdown summary generated successfully")

	return nil
}
