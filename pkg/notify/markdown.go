package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/runkeeper/pkg/execution"
)

// RenderSummary renders a digest as a markdown archive artifact.
func RenderSummary(d *execution.Digest) string {
	var sb strings.Builder

	sb.Grow(1024)

	fmt.Fprintf(&sb, "# Test Run: %s\n\n", d.RunName)

	writeOverview(&sb, d)
	writeResults(&sb, &d.Stats)
	writeRecipients(&sb, d.Recipients)

	return sb.String()
}

func writeOverview(sb *strings.Builder, d *execution.Digest) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	fmt.Fprintf(sb, "| Run ID | `%s` |\n", d.RunID)
	fmt.Fprintf(sb, "| Execution | %s |\n", d.ExecutionType)

	if d.Environment != "" {
		fmt.Fprintf(sb, "| Environment | %s |\n", d.Environment)
	}

	if d.StartedAt != nil {
		fmt.Fprintf(sb, "| Started | %s |\n",
			d.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	if d.CompletedAt != nil {
		fmt.Fprintf(sb, "| Completed | %s |\n",
			d.CompletedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	if d.StartedAt != nil && d.CompletedAt != nil {
		fmt.Fprintf(sb, "| Wall Time | %s |\n",
			units.HumanDuration(d.CompletedAt.Sub(*d.StartedAt)))
	}

	sb.WriteByte('\n')
}

func writeResults(sb *strings.Builder, st *execution.Stats) {
	sb.WriteString("## Results\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|---|---|\n")

	fmt.Fprintf(sb, "| Total | %d |\n", st.Total)
	fmt.Fprintf(sb, "| Passed | %d |\n", st.Passed)
	fmt.Fprintf(sb, "| Failed | %d |\n", st.Failed)
	fmt.Fprintf(sb, "| Blocked | %d |\n", st.Blocked)
	fmt.Fprintf(sb, "| Skipped | %d |\n", st.Skipped)
	fmt.Fprintf(sb, "| Retest | %d |\n", st.Retest)
	fmt.Fprintf(sb, "| Progress | %d%% |\n", st.ProgressPercentage)
	fmt.Fprintf(sb, "| Pass Rate | %d%% |\n", st.PassRate)

	if st.Placeholders > 0 {
		fmt.Fprintf(sb, "| Never Executed | %d |\n", st.Placeholders)
	}

	if st.TotalDurationSeconds > 0 {
		fmt.Fprintf(sb, "| Recorded Duration | %s |\n",
			humanSeconds(st.TotalDurationSeconds))
	}

	if st.EstimatedRemainingSeconds > 0 {
		fmt.Fprintf(sb, "| Estimated Remaining | %s |\n",
			humanSeconds(st.EstimatedRemainingSeconds))
	}

	sb.WriteByte('\n')
}

func writeRecipients(sb *strings.Builder, recipients []string) {
	if len(recipients) == 0 {
		return
	}

	sb.WriteString("## Recipients\n\n")

	for _, r := range recipients {
		fmt.Fprintf(sb, "- %s\n", r)
	}

	sb.WriteByte('\n')
}

func humanSeconds(s float64) string {
	return units.HumanDuration(time.Duration(s * float64(time.Second)))
}
