package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethpandaops/runkeeper/pkg/execution"
	"github.com/ethpandaops/runkeeper/pkg/report"
	"github.com/spf13/cobra"
)

var (
	importProjectID string
	importFile      string
	importRunID     string
	importFormat    string
	importActor     string
	importStrict    bool
)

var importReportCmd = &cobra.Command{
	Use:   "import-report",
	Short: "Reconcile an automated test report into a run",
	Long: `Parse a JUnit XML or JSON report and record its outcomes against the
project's test cases, directly in the configured database. Without --run-id a
new AUTOMATION run is created and completed. The reconciliation result is
printed as JSON.`,
	RunE: runImportReport,
}

func init() {
	rootCmd.AddCommand(importReportCmd)
	importReportCmd.Flags().StringVar(&importProjectID, "project", "",
		"Project ID the report belongs to")
	importReportCmd.Flags().StringVar(&importFile, "file", "",
		"Path to the report file")
	importReportCmd.Flags().StringVar(&importRunID, "run-id", "",
		"Existing PLANNED or IN_PROGRESS run to record into")
	importReportCmd.Flags().StringVar(&importFormat, "format", "",
		"Report format (junit, json); inferred from the file extension when empty")
	importReportCmd.Flags().StringVar(&importActor, "actor", "",
		"Name recorded as the uploader of the report")
	importReportCmd.Flags().BoolVar(&importStrict, "strict", false,
		"Exit with an error when any entry is unmatched or failed")

	_ = importReportCmd.MarkFlagRequired("project")
	_ = importReportCmd.MarkFlagRequired("file")
}

func runImportReport(cmd *cobra.Command, _ []string) error {
	format, err := importReportFormat()
	if err != nil {
		return err
	}

	f, err := os.Open(importFile)
	if err != nil {
		return fmt.Errorf("opening report: %w", err)
	}
	defer f.Close()

	rep, err := report.Parse(f, format)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.close()

	result, err := eng.service.ImportReport(ctx, execution.ImportRequest{
		ProjectID: importProjectID,
		Report:    *rep,
		RunID:     importRunID,
		Actor:     importActor,
	})
	if err != nil && result == nil {
		return fmt.Errorf("importing report: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if encErr := enc.Encode(result); encErr != nil {
		return fmt.Errorf("writing result: %w", encErr)
	}

	if err != nil {
		return fmt.Errorf("importing report into run %s: %w", result.Run.ID, err)
	}

	if importStrict {
		if len(result.Unmatched) > 0 {
			return fmt.Errorf("%d report entries matched no test case", len(result.Unmatched))
		}

		if err := result.Err(); err != nil {
			return err
		}
	}

	return nil
}

func importReportFormat() (report.Format, error) {
	if importFormat != "" {
		return report.ParseFormat(importFormat)
	}

	return report.FormatFromFilename(importFile)
}
