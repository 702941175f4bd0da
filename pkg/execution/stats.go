package execution

import (
	"math"
	"slices"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
)

// Stats summarizes a run's result set. It is always derived from the
// results and never persisted.
type Stats struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Blocked  int `json:"blocked"`
	Skipped  int `json:"skipped"`
	Retest   int `json:"retest"`
	Executed int `json:"executed"`

	// Pending equals Skipped. Placeholders and explicitly skipped
	// executions are both counted; Placeholders breaks out the former.
	Pending      int `json:"pending"`
	Placeholders int `json:"placeholders"`

	ProgressPercentage int `json:"progress_percentage"`
	PassRate           int `json:"pass_rate"`

	TotalDurationSeconds      float64 `json:"total_duration_seconds"`
	EstimatedRemainingSeconds float64 `json:"estimated_remaining_seconds,omitempty"`
}

// Aggregate computes Stats over results. It does no I/O and its output does
// not depend on the order of results.
func Aggregate(results []store.Result) Stats {
	var st Stats

	st.Total = len(results)

	durations := make([]float64, 0, len(results))

	for i := range results {
		r := &results[i]

		switch r.Status {
		case store.ResultPassed:
			st.Passed++
		case store.ResultFailed:
			st.Failed++
		case store.ResultBlocked:
			st.Blocked++
		case store.ResultSkipped:
			st.Skipped++

			if r.IsPlaceholder() {
				st.Placeholders++
			}
		case store.ResultRetest:
			st.Retest++
		}

		if r.DurationSeconds != nil {
			durations = append(durations, *r.DurationSeconds)
		}
	}

	// Float addition is not associative; sum in a fixed order.
	slices.Sort(durations)

	for _, d := range durations {
		st.TotalDurationSeconds += d
	}

	st.Executed = st.Passed + st.Failed + st.Blocked
	st.Pending = st.Skipped
	st.ProgressPercentage = percentage(st.Executed, st.Total)
	st.PassRate = percentage(st.Passed, st.Executed)

	return st
}

// AggregateWithEstimates is Aggregate plus the estimated time still needed
// for results that have not been executed. estimates maps test case IDs to
// their estimated duration in seconds.
func AggregateWithEstimates(results []store.Result, estimates map[string]int) Stats {
	st := Aggregate(results)

	var remaining int

	for i := range results {
		r := &results[i]
		if isExecuted(r.Status) {
			continue
		}

		remaining += estimates[r.TestCaseID]
	}

	st.EstimatedRemainingSeconds = float64(remaining)

	return st
}

func isExecuted(s store.ResultStatus) bool {
	return s == store.ResultPassed || s == store.ResultFailed || s == store.ResultBlocked
}

// percentage returns round(100*part/whole), or 0 when whole is zero.
func percentage(part, whole int) int {
	if whole == 0 {
		return 0
	}

	return int(math.Round(100 * float64(part) / float64(whole)))
}
