package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/ethpandaops/runkeeper/pkg/config"
	"github.com/ethpandaops/runkeeper/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// Service is the run execution engine. It owns run lifecycles, result
// recording, bulk membership changes and report reconciliation. Every
// operation takes the project and run explicitly and does its work within
// the call; nothing runs in the background.
type Service struct {
	log      logrus.FieldLogger
	store    store.Store
	cfg      config.EngineConfig
	notifier Notifier
	metrics  *metrics.Metrics
	locks    *keyedMutex
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the collaborator that prepares and dispatches
// completion digests.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new Service on top of st.
func NewService(
	log logrus.FieldLogger,
	st store.Store,
	cfg config.EngineConfig,
	opts ...Option,
) *Service {
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = config.DefaultBulkConcurrency
	}

	if cfg.AutomationActor == "" {
		cfg.AutomationActor = config.DefaultAutomationActor
	}

	s := &Service{
		log:   log.WithField("component", "execution"),
		store: st,
		cfg:   cfg,
		locks: newKeyedMutex(),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateRunRequest describes a new run.
type CreateRunRequest struct {
	ProjectID     string
	Name          string
	Description   string
	ExecutionType string
	Environment   string
	Platform      string
	Device        string
	AssignedTo    string
	Actor         string

	// Selection optionally seeds the run with placeholders.
	Selection *Selection
}

// CreateRun creates a PLANNED run. When a non-empty selection is given the
// selected test cases are added as placeholders and the bulk report is
// returned alongside the run.
func (s *Service) CreateRun(
	ctx context.Context, req CreateRunRequest,
) (*store.Run, *BulkReport, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: run name is required", ErrValidation)
	}

	execType, err := store.ParseExecutionType(req.ExecutionType)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if _, err := s.store.GetProject(ctx, req.ProjectID); err != nil {
		return nil, nil, s.fail(err)
	}

	run := &store.Run{
		ProjectID:     req.ProjectID,
		Name:          name,
		Description:   req.Description,
		Status:        store.RunPlanned,
		ExecutionType: execType,
		Environment:   req.Environment,
		Platform:      req.Platform,
		Device:        req.Device,
		AssignedTo:    req.AssignedTo,
		CreatedBy:     req.Actor,
	}

	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, nil, s.fail(err)
	}

	s.log.WithFields(logrus.Fields{
		"project_id": run.ProjectID,
		"run_id":     run.ID,
		"type":       run.ExecutionType,
	}).Info("Created run")

	if req.Selection == nil || req.Selection.IsEmpty() {
		return run, nil, nil
	}

	report, err := s.addTestCases(ctx, run, *req.Selection)
	if err != nil {
		return run, nil, err
	}

	return run, report, nil
}

// GetRun returns a run of the project.
func (s *Service) GetRun(ctx context.Context, projectID, runID string) (*store.Run, error) {
	run, err := s.store.GetRun(ctx, projectID, runID)
	if err != nil {
		return nil, s.fail(err)
	}

	return run, nil
}

// ListRuns returns the project's runs, optionally filtered by status.
func (s *Service) ListRuns(
	ctx context.Context, projectID, status string,
) ([]store.Run, error) {
	var filter store.RunStatus

	if status != "" {
		parsed, err := store.ParseRunStatus(status)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}

		filter = parsed
	}

	runs, err := s.store.ListRuns(ctx, projectID, filter)
	if err != nil {
		return nil, s.fail(err)
	}

	return runs, nil
}

// StartRun moves a PLANNED run to IN_PROGRESS.
func (s *Service) StartRun(ctx context.Context, projectID, runID string) (*store.Run, error) {
	return s.transition(ctx, projectID, runID, EventStart)
}

// ReopenRun moves a COMPLETED run back to IN_PROGRESS. Its results are
// left untouched.
func (s *Service) ReopenRun(ctx context.Context, projectID, runID string) (*store.Run, error) {
	return s.transition(ctx, projectID, runID, EventReopen)
}

// CancelRun moves a PLANNED or IN_PROGRESS run to CANCELLED.
func (s *Service) CancelRun(ctx context.Context, projectID, runID string) (*store.Run, error) {
	return s.transition(ctx, projectID, runID, EventCancel)
}

// Completion is the outcome of completing a run.
type Completion struct {
	Run    *store.Run `json:"run"`
	Stats  Stats      `json:"stats"`
	Digest *Digest    `json:"digest,omitempty"`

	// NotificationOffered is true when at least one eligible recipient
	// with a deliverable address exists.
	NotificationOffered bool `json:"notification_offered"`
}

// CompleteRun moves an IN_PROGRESS run to COMPLETED and prepares its
// completion digest.
func (s *Service) CompleteRun(
	ctx context.Context, projectID, runID string,
) (*Completion, error) {
	run, err := s.transition(ctx, projectID, runID, EventComplete)
	if err != nil {
		return nil, err
	}

	return s.completion(ctx, run)
}

// completion computes the stats and digest of a run that just completed.
// Digest preparation failures do not undo the completion.
func (s *Service) completion(ctx context.Context, run *store.Run) (*Completion, error) {
	stats, err := s.stats(ctx, run)
	if err != nil {
		return nil, err
	}

	c := &Completion{Run: run, Stats: *stats}

	if s.notifier == nil {
		return c, nil
	}

	digest, err := s.notifier.Prepare(ctx, run, *stats)
	if err != nil {
		s.log.WithError(err).
			WithField("run_id", run.ID).
			Warn("Failed to prepare completion digest")

		return c, nil
	}

	c.Digest = digest
	c.NotificationOffered = digest.Eligible()

	return c, nil
}

// SendDigest hands the completion digest of a COMPLETED run to the
// configured sinks.
func (s *Service) SendDigest(
	ctx context.Context, projectID, runID string,
) (*Digest, error) {
	if s.notifier == nil {
		return nil, fmt.Errorf("%w: notifications are not configured", ErrValidation)
	}

	run, err := s.store.GetRun(ctx, projectID, runID)
	if err != nil {
		return nil, s.fail(err)
	}

	if run.Status != store.RunCompleted {
		return nil, fmt.Errorf("%w: run %s is %s, not %s",
			ErrInvalidTransition, run.ID, run.Status, store.RunCompleted)
	}

	stats, err := s.stats(ctx, run)
	if err != nil {
		return nil, err
	}

	digest, err := s.notifier.Prepare(ctx, run, *stats)
	if err != nil {
		return nil, fmt.Errorf("preparing digest: %w", err)
	}

	if !digest.Eligible() {
		return nil, fmt.Errorf("%w: run %s has no eligible recipients",
			ErrValidation, run.ID)
	}

	if err := s.notifier.Dispatch(ctx, digest); err != nil {
		return nil, fmt.Errorf("dispatching digest: %w", err)
	}

	return digest, nil
}

// DeleteRun removes a run and all of its results.
func (s *Service) DeleteRun(ctx context.Context, projectID, runID string) error {
	if err := s.store.DeleteRun(ctx, projectID, runID); err != nil {
		return s.fail(err)
	}

	s.log.WithFields(logrus.Fields{
		"project_id": projectID,
		"run_id":     runID,
	}).Info("Deleted run")

	return nil
}

// RunStats recomputes the statistics of a run from its current results.
func (s *Service) RunStats(ctx context.Context, projectID, runID string) (*Stats, error) {
	run, err := s.store.GetRun(ctx, projectID, runID)
	if err != nil {
		return nil, s.fail(err)
	}

	return s.stats(ctx, run)
}

func (s *Service) stats(ctx context.Context, run *store.Run) (*Stats, error) {
	results, err := s.store.ListResults(ctx, run.ID)
	if err != nil {
		return nil, s.fail(err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.TestCaseID)
	}

	cases, err := s.store.ListTestCasesByIDs(ctx, run.ProjectID, ids)
	if err != nil {
		return nil, s.fail(err)
	}

	estimates := make(map[string]int, len(cases))
	for _, tc := range cases {
		estimates[tc.ID] = tc.EstimatedTime
	}

	stats := AggregateWithEstimates(results, estimates)

	return &stats, nil
}

// ResultDetail is a result together with the defects linked to its test
// case.
type ResultDetail struct {
	store.Result

	DefectIDs []string `json:"defect_ids,omitempty"`
}

// ListResults returns the run's results ordered by test case ID.
func (s *Service) ListResults(
	ctx context.Context, projectID, runID string,
) ([]ResultDetail, error) {
	if _, err := s.store.GetRun(ctx, projectID, runID); err != nil {
		return nil, s.fail(err)
	}

	results, err := s.store.ListResults(ctx, runID)
	if err != nil {
		return nil, s.fail(err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.TestCaseID)
	}

	defects, err := s.store.ListDefectIDs(ctx, ids)
	if err != nil {
		return nil, s.fail(err)
	}

	details := make([]ResultDetail, 0, len(results))
	for _, r := range results {
		details = append(details, ResultDetail{
			Result:    r,
			DefectIDs: defects[r.TestCaseID],
		})
	}

	return details, nil
}

// transition loads the run, applies ev and persists the change with a
// compare-and-set on the previous state. Of two racing transitions from
// the same state only one succeeds.
func (s *Service) transition(
	ctx context.Context, projectID, runID string, ev Event,
) (*store.Run, error) {
	run, err := s.store.GetRun(ctx, projectID, runID)
	if err != nil {
		return nil, s.fail(err)
	}

	from, err := Apply(run, ev, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.store.TransitionRun(ctx, run, from); err != nil {
		return nil, s.fail(err)
	}

	s.metrics.RunTransitioned(string(from), string(run.Status))

	s.log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"from":   from,
		"to":     run.Status,
	}).Info("Run transitioned")

	return run, nil
}

// fail classifies err and counts storage failures.
func (s *Service) fail(err error) error {
	err = classify(err)
	if errors.Is(err, ErrStorageUnavailable) {
		s.metrics.StorageError()
	}

	return err
}
