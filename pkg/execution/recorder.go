package execution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/sirupsen/logrus"
)

// RecordRequest records the outcome of one test case in one run.
type RecordRequest struct {
	ProjectID       string
	RunID           string
	TestCaseID      string
	Status          string
	Comment         string
	DurationSeconds *float64
	DefectIDs       []string
	Actor           string
}

// RecordResult creates or overwrites the result of the request's test case
// in the run. The latest call wins; no history is kept. Defects are linked
// to the test case so they carry over to later runs.
func (s *Service) RecordResult(
	ctx context.Context, req RecordRequest,
) (*store.Result, error) {
	status, err := store.ParseResultStatus(req.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStatus, err)
	}

	if err := validateDuration(req.DurationSeconds); err != nil {
		return nil, err
	}

	run, err := s.mutableRun(ctx, req.ProjectID, req.RunID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetTestCase(ctx, run.ProjectID, req.TestCaseID); err != nil {
		return nil, s.fail(err)
	}

	res := &store.Result{
		RunID:           run.ID,
		TestCaseID:      req.TestCaseID,
		Status:          status,
		Comment:         req.Comment,
		DurationSeconds: req.DurationSeconds,
		ExecutedBy:      req.Actor,
	}

	if err := s.record(ctx, res); err != nil {
		return nil, err
	}

	if defects := cleanIDs(req.DefectIDs); len(defects) > 0 {
		if err := s.store.LinkDefects(ctx, req.TestCaseID, defects); err != nil {
			return nil, s.fail(err)
		}
	}

	return res, nil
}

// record upserts res with ExecutedAt set to now. Writes for the same
// (run, test case) pair are serialized in process; the store's upsert
// keeps them atomic across processes.
func (s *Service) record(ctx context.Context, res *store.Result) error {
	unlock := s.locks.Lock(res.RunID + "/" + res.TestCaseID)
	defer unlock()

	now := s.now()
	res.ExecutedAt = &now

	if err := s.store.UpsertResult(ctx, res); err != nil {
		return s.fail(err)
	}

	s.metrics.ResultRecorded(string(res.Status))

	s.log.WithFields(logrus.Fields{
		"run_id":       res.RunID,
		"test_case_id": res.TestCaseID,
		"status":       res.Status,
	}).Debug("Recorded result")

	return nil
}

// AddPlaceholder adds a test case to a run without an outcome. If the test
// case is already part of the run the existing result is returned
// unchanged and created is false.
func (s *Service) AddPlaceholder(
	ctx context.Context, projectID, runID, testCaseID string,
) (*store.Result, bool, error) {
	run, err := s.mutableRun(ctx, projectID, runID)
	if err != nil {
		return nil, false, err
	}

	if _, err := s.store.GetTestCase(ctx, projectID, testCaseID); err != nil {
		return nil, false, s.fail(err)
	}

	return s.placeholder(ctx, run.ID, testCaseID)
}

func (s *Service) placeholder(
	ctx context.Context, runID, testCaseID string,
) (*store.Result, bool, error) {
	res := &store.Result{
		RunID:      runID,
		TestCaseID: testCaseID,
		Status:     store.ResultSkipped,
	}

	created, err := s.store.InsertPlaceholder(ctx, res)
	if err != nil {
		return nil, false, s.fail(err)
	}

	if created {
		s.metrics.PlaceholdersAdded(1)
	}

	return res, created, nil
}

// RemoveTestCase removes a test case and its result from a run.
func (s *Service) RemoveTestCase(
	ctx context.Context, projectID, runID, testCaseID string,
) error {
	run, err := s.mutableRun(ctx, projectID, runID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(run.ID + "/" + testCaseID)
	defer unlock()

	if err := s.store.DeleteResult(ctx, run.ID, testCaseID); err != nil {
		return s.fail(err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id":       run.ID,
		"test_case_id": testCaseID,
	}).Debug("Removed test case from run")

	return nil
}

// mutableRun loads the run and checks that its result set may change.
// The store checks again inside each write.
func (s *Service) mutableRun(
	ctx context.Context, projectID, runID string,
) (*store.Run, error) {
	run, err := s.store.GetRun(ctx, projectID, runID)
	if err != nil {
		return nil, s.fail(err)
	}

	if err := CheckMutable(run); err != nil {
		return nil, err
	}

	return run, nil
}

func validateDuration(d *float64) error {
	if d == nil {
		return nil
	}

	if *d < 0 || math.IsNaN(*d) || math.IsInf(*d, 0) {
		return fmt.Errorf("%w: duration must be a finite non-negative number",
			ErrValidation)
	}

	return nil
}

// cleanIDs trims, drops empty entries and deduplicates ids. The result is
// sorted.
func cleanIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex, 16)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()

	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}

	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--

		if m.refs == 0 {
			delete(k.locks, key)
		}

		k.mu.Unlock()
	}
}
