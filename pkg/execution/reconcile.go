package execution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Entry is one test method of a parsed automated report.
type Entry struct {
	Method          string   `json:"method"`
	Status          string   `json:"status"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Message         string   `json:"message,omitempty"`
}

// Metadata describes where a report was produced.
type Metadata struct {
	Name        string `json:"name,omitempty" mapstructure:"name"`
	Environment string `json:"environment,omitempty" mapstructure:"environment"`
	Platform    string `json:"platform,omitempty" mapstructure:"platform"`
	Device      string `json:"device,omitempty" mapstructure:"device"`
}

// Report is an automated test report, already parsed from its wire format.
type Report struct {
	Entries  []Entry  `json:"entries"`
	Metadata Metadata `json:"metadata"`
}

// outcomeAliases maps report outcome spellings onto result statuses.
var outcomeAliases = map[string]store.ResultStatus{
	"passed":   store.ResultPassed,
	"pass":     store.ResultPassed,
	"success":  store.ResultPassed,
	"ok":       store.ResultPassed,
	"failed":   store.ResultFailed,
	"fail":     store.ResultFailed,
	"failure":  store.ResultFailed,
	"error":    store.ResultFailed,
	"broken":   store.ResultFailed,
	"skipped":  store.ResultSkipped,
	"skip":     store.ResultSkipped,
	"ignored":  store.ResultSkipped,
	"disabled": store.ResultSkipped,
	"pending":  store.ResultSkipped,
	"blocked":  store.ResultBlocked,
	"retest":   store.ResultRetest,
}

// ParseOutcome converts a report outcome into a result status.
func ParseOutcome(s string) (store.ResultStatus, error) {
	st, ok := outcomeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidStatus, s)
	}

	return st, nil
}

// ImportRequest asks to reconcile a report against a project's test cases.
type ImportRequest struct {
	ProjectID string
	Report    Report

	// RunID targets an existing mutable run. When empty a new AUTOMATION
	// run is created from the report metadata and left COMPLETED.
	RunID string

	// Actor is the caller that uploaded the report. Results are recorded
	// as executed by the configured automation actor.
	Actor string
}

// ReconcileResult is the outcome of an import. Unmatched entries and
// per-entry failures never fail the import as a whole. ImportReport also
// returns it alongside an error once results have been written.
type ReconcileResult struct {
	Run        *store.Run     `json:"run"`
	RunCreated bool           `json:"run_created"`
	Created    []store.Result `json:"created"`
	Unmatched  []string       `json:"unmatched"`
	Failures   []ItemFailure  `json:"failures,omitempty"`
	Completion *Completion    `json:"completion,omitempty"`
}

// Err returns a *PartialFailureError when any matched entry failed.
func (r *ReconcileResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}

	return &PartialFailureError{Succeeded: len(r.Created), Failures: r.Failures}
}

type matchedEntry struct {
	testCaseID string
	entry      Entry
	status     store.ResultStatus
}

// ImportReport matches every report entry to at most one test case by
// identifier and records the matched outcomes. An entry whose method name
// resolves to no test case, or to more than one, is returned as unmatched.
// When several entries resolve to the same test case the later one wins.
func (s *Service) ImportReport(
	ctx context.Context, req ImportRequest,
) (*ReconcileResult, error) {
	if len(req.Report.Entries) == 0 {
		return nil, fmt.Errorf("%w: report has no entries", ErrValidation)
	}

	var (
		run *store.Run
		err error
	)

	if req.RunID != "" {
		if run, err = s.mutableRun(ctx, req.ProjectID, req.RunID); err != nil {
			return nil, err
		}
	} else if _, err = s.store.GetProject(ctx, req.ProjectID); err != nil {
		return nil, s.fail(err)
	}

	cases, err := s.store.ListTestCases(ctx, req.ProjectID)
	if err != nil {
		return nil, s.fail(err)
	}

	m := newMatcher(cases)

	result := &ReconcileResult{
		Created:   make([]store.Result, 0, len(req.Report.Entries)),
		Unmatched: make([]string, 0),
	}

	var (
		order   []string
		matched = make(map[string]matchedEntry, len(req.Report.Entries))
	)

	for _, e := range req.Report.Entries {
		tcID, ok := m.match(e.Method)
		if !ok {
			result.Unmatched = append(result.Unmatched, e.Method)

			continue
		}

		status, err := ParseOutcome(e.Status)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{ID: e.Method, Err: err})

			continue
		}

		if err := validateDuration(e.DurationSeconds); err != nil {
			result.Failures = append(result.Failures, ItemFailure{ID: e.Method, Err: err})

			continue
		}

		if _, seen := matched[tcID]; !seen {
			order = append(order, tcID)
		}

		matched[tcID] = matchedEntry{testCaseID: tcID, entry: e, status: status}
	}

	if run == nil {
		if run, err = s.createAutomationRun(ctx, req); err != nil {
			return nil, err
		}

		result.RunCreated = true
	}

	result.Run = run

	s.recordMatched(ctx, run, order, matched, result)

	sort.Slice(result.Created, func(i, j int) bool {
		return result.Created[i].TestCaseID < result.Created[j].TestCaseID
	})
	sortFailures(result.Failures)

	s.metrics.ReportEntries("matched", len(result.Created))
	s.metrics.ReportEntries("unmatched", len(result.Unmatched))
	s.metrics.ReportEntries("failed", len(result.Failures))

	if result.RunCreated {
		if err := s.completeAutomationRun(ctx, run, result); err != nil {
			return result, err
		}
	}

	log := s.log.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"created":   len(result.Created),
		"unmatched": len(result.Unmatched),
		"failed":    len(result.Failures),
	})

	if len(result.Unmatched) > 0 || len(result.Failures) > 0 {
		log.Warn("Imported report with unresolved entries")
	} else {
		log.Info("Imported report")
	}

	return result, nil
}

// createAutomationRun creates the run that receives a report without a
// target. It starts IN_PROGRESS so results can be written and is completed
// once they are.
func (s *Service) createAutomationRun(
	ctx context.Context, req ImportRequest,
) (*store.Run, error) {
	now := s.now()
	md := req.Report.Metadata

	name := strings.TrimSpace(md.Name)
	if name == "" {
		name = "Automated run " + now.Format("2006-01-02 15:04:05")
	}

	run := &store.Run{
		ProjectID:     req.ProjectID,
		Name:          name,
		Status:        store.RunInProgress,
		ExecutionType: store.ExecutionAutomation,
		Environment:   md.Environment,
		Platform:      md.Platform,
		Device:        md.Device,
		CreatedBy:     req.Actor,
		StartedAt:     &now,
	}

	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, s.fail(err)
	}

	s.log.WithFields(logrus.Fields{
		"project_id": run.ProjectID,
		"run_id":     run.ID,
	}).Info("Created automation run for report")

	return run, nil
}

// completeAutomationRun moves a run created by an import to COMPLETED.
// When that fails the run is left IN_PROGRESS with its results in place and
// can be completed later through CompleteRun.
func (s *Service) completeAutomationRun(
	ctx context.Context, run *store.Run, result *ReconcileResult,
) error {
	if _, err := Apply(run, EventComplete, s.now()); err != nil {
		return err
	}

	if err := s.store.TransitionRun(ctx, run, store.RunInProgress); err != nil {
		run.Status = store.RunInProgress
		run.CompletedAt = nil

		s.log.WithError(err).
			WithField("run_id", run.ID).
			Warn("Failed to complete automation run, it stays IN_PROGRESS")

		return s.fail(err)
	}

	s.metrics.RunTransitioned(string(store.RunInProgress), string(run.Status))

	completion, err := s.completion(ctx, run)
	if err != nil {
		s.log.WithError(err).
			WithField("run_id", run.ID).
			Warn("Failed to summarize completed automation run")

		return nil
	}

	result.Completion = completion

	return nil
}

// recordMatched writes the matched entries with bounded parallelism. Each
// test case appears once in matched, so no two writers share a key.
func (s *Service) recordMatched(
	ctx context.Context,
	run *store.Run,
	order []string,
	matched map[string]matchedEntry,
	result *ReconcileResult,
) {
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BulkConcurrency)

	for _, tcID := range order {
		me := matched[tcID]

		g.Go(func() error {
			res := &store.Result{
				RunID:           run.ID,
				TestCaseID:      me.testCaseID,
				Status:          me.status,
				Comment:         me.entry.Message,
				DurationSeconds: me.entry.DurationSeconds,
				ExecutedBy:      s.cfg.AutomationActor,
			}

			err := s.record(gCtx, res)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				result.Failures = append(result.Failures,
					ItemFailure{ID: me.entry.Method, Err: err})

				return nil
			}

			result.Created = append(result.Created, *res)

			return nil
		})
	}

	_ = g.Wait()
}
