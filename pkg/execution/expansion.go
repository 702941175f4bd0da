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

// UngroupedSuiteID selects the test cases that belong to no suite and no
// module. It is computed on every expansion and never stored.
const UngroupedSuiteID = "ungrouped"

// Selection is a bulk request to add test cases to a run.
type Selection struct {
	TestCaseIDs []string `json:"test_case_ids,omitempty"`
	SuiteIDs    []string `json:"suite_ids,omitempty"`
	ModuleIDs   []string `json:"module_ids,omitempty"`
}

// IsEmpty reports whether nothing was selected.
func (sel Selection) IsEmpty() bool {
	return len(cleanIDs(sel.TestCaseIDs)) == 0 &&
		len(cleanIDs(sel.SuiteIDs)) == 0 &&
		len(cleanIDs(sel.ModuleIDs)) == 0
}

// Expand resolves sel to the sorted set of test case IDs it names, minus
// the IDs in existing. Unknown suites, modules or test cases fail with
// ErrNotFound; a selection that resolves to nothing fails with
// ErrEmptySelection.
func (s *Service) Expand(
	ctx context.Context, projectID string, sel Selection, existing []string,
) ([]string, error) {
	var (
		caseIDs   = cleanIDs(sel.TestCaseIDs)
		suiteIDs  = cleanIDs(sel.SuiteIDs)
		moduleIDs = cleanIDs(sel.ModuleIDs)
		set       = make(map[string]struct{}, len(caseIDs))
	)

	add := func(ids []string) {
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}

	if len(caseIDs) > 0 {
		cases, err := s.store.ListTestCasesByIDs(ctx, projectID, caseIDs)
		if err != nil {
			return nil, s.fail(err)
		}

		if len(cases) != len(caseIDs) {
			return nil, fmt.Errorf("%w: test cases %s",
				ErrNotFound, strings.Join(missing(caseIDs, cases), ", "))
		}

		add(caseIDs)
	}

	ungrouped := false
	stored := make([]string, 0, len(suiteIDs))

	for _, id := range suiteIDs {
		if id == UngroupedSuiteID {
			ungrouped = true

			continue
		}

		stored = append(stored, id)
	}

	if len(stored) > 0 {
		count, err := s.store.CountSuites(ctx, projectID, stored)
		if err != nil {
			return nil, s.fail(err)
		}

		if int(count) != len(stored) {
			return nil, fmt.Errorf("%w: one or more suites of %s",
				ErrNotFound, strings.Join(stored, ", "))
		}

		members, err := s.store.ListSuiteTestCaseIDs(ctx, projectID, stored)
		if err != nil {
			return nil, s.fail(err)
		}

		add(members)
	}

	if len(moduleIDs) > 0 {
		count, err := s.store.CountModules(ctx, projectID, moduleIDs)
		if err != nil {
			return nil, s.fail(err)
		}

		if int(count) != len(moduleIDs) {
			return nil, fmt.Errorf("%w: one or more modules of %s",
				ErrNotFound, strings.Join(moduleIDs, ", "))
		}

		members, err := s.store.ListModuleTestCaseIDs(ctx, projectID, moduleIDs)
		if err != nil {
			return nil, s.fail(err)
		}

		add(members)
	}

	if ungrouped {
		ids, err := s.ungroupedTestCaseIDs(ctx, projectID)
		if err != nil {
			return nil, err
		}

		add(ids)
	}

	for _, id := range existing {
		delete(set, id)
	}

	if len(set) == 0 {
		return nil, ErrEmptySelection
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}

	sort.Strings(out)

	return out, nil
}

// ungroupedTestCaseIDs returns every test case of the project that is in
// no suite and assigned to no module.
func (s *Service) ungroupedTestCaseIDs(
	ctx context.Context, projectID string,
) ([]string, error) {
	all, err := s.store.ListTestCases(ctx, projectID)
	if err != nil {
		return nil, s.fail(err)
	}

	grouped, err := s.store.ListGroupedTestCaseIDs(ctx, projectID)
	if err != nil {
		return nil, s.fail(err)
	}

	skip := make(map[string]struct{}, len(grouped))
	for _, id := range grouped {
		skip[id] = struct{}{}
	}

	ids := make([]string, 0, len(all))

	for _, tc := range all {
		if _, ok := skip[tc.ID]; !ok {
			ids = append(ids, tc.ID)
		}
	}

	return ids, nil
}

func missing(ids []string, found []store.TestCase) []string {
	have := make(map[string]struct{}, len(found))
	for _, tc := range found {
		have[tc.ID] = struct{}{}
	}

	out := make([]string, 0)

	for _, id := range ids {
		if _, ok := have[id]; !ok {
			out = append(out, id)
		}
	}

	return out
}

// BulkReport is the outcome of a bulk add. Failures are kept per test case
// and never collapsed into a single error.
type BulkReport struct {
	RunID string `json:"run_id"`

	// Added lists test cases that received a new placeholder.
	Added []string `json:"added"`

	// Existing lists test cases that were already part of the run by the
	// time their placeholder was written.
	Existing []string      `json:"existing,omitempty"`
	Failures []ItemFailure `json:"failures,omitempty"`
}

// Err returns a *PartialFailureError when any item failed.
func (r *BulkReport) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}

	return &PartialFailureError{
		Succeeded: len(r.Added) + len(r.Existing),
		Failures:  r.Failures,
	}
}

// AddTestCases expands sel and adds every resolved test case to the run as
// a placeholder. Items are written concurrently and independently: a
// failed item does not stop or undo the others.
func (s *Service) AddTestCases(
	ctx context.Context, projectID, runID string, sel Selection,
) (*BulkReport, error) {
	run, err := s.mutableRun(ctx, projectID, runID)
	if err != nil {
		return nil, err
	}

	return s.addTestCases(ctx, run, sel)
}

func (s *Service) addTestCases(
	ctx context.Context, run *store.Run, sel Selection,
) (*BulkReport, error) {
	existing, err := s.store.ListResultTestCaseIDs(ctx, run.ID)
	if err != nil {
		return nil, s.fail(err)
	}

	ids, err := s.Expand(ctx, run.ProjectID, sel, existing)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		report = &BulkReport{
			RunID: run.ID,
			Added: make([]string, 0, len(ids)),
		}
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BulkConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			_, created, err := s.placeholder(gCtx, run.ID, id)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err != nil:
				report.Failures = append(report.Failures, ItemFailure{ID: id, Err: err})
			case created:
				report.Added = append(report.Added, id)
			default:
				report.Existing = append(report.Existing, id)
			}

			return nil
		})
	}

	_ = g.Wait()

	sort.Strings(report.Added)
	sort.Strings(report.Existing)
	sortFailures(report.Failures)

	s.metrics.BulkItemFailures("add_test_cases", len(report.Failures))

	log := s.log.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"added":    len(report.Added),
		"existing": len(report.Existing),
		"failed":   len(report.Failures),
	})

	if len(report.Failures) > 0 {
		log.Warn("Added test cases to run with failures")
	} else {
		log.Info("Added test cases to run")
	}

	return report, nil
}
