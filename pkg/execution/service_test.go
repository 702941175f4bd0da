package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/ethpandaops/runkeeper/pkg/config"
	"github.com/ethpandaops/runkeeper/pkg/metrics"
)

type fakeNotifier struct {
	mu         sync.Mutex
	recipients []string
	dispatched []*Digest
}

func (f *fakeNotifier) Prepare(
	_ context.Context, run *store.Run, stats Stats,
) (*Digest, error) {
	return &Digest{
		RunID:       run.ID,
		ProjectID:   run.ProjectID,
		RunName:     run.Name,
		CompletedAt: run.CompletedAt,
		Stats:       stats,
		Recipients:  f.recipients,
	}, nil
}

func (f *fakeNotifier) Dispatch(_ context.Context, d *Digest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dispatched = append(f.dispatched, d)

	return nil
}

type testEnv struct {
	svc      *Service
	store    store.Store
	notifier *fakeNotifier
	project  *store.Project
	cases    []*store.TestCase
}

func setupTestService(t *testing.T, caseCount int) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.APIDatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	env := &testEnv{
		store:    st,
		notifier: &fakeNotifier{},
		project:  &store.Project{Name: "checkout"},
	}

	env.svc = NewService(log, st, config.EngineConfig{BulkConcurrency: 4},
		WithNotifier(env.notifier),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)

	ctx := context.Background()
	require.NoError(t, st.CreateProject(ctx, env.project))

	for i := 0; i < caseCount; i++ {
		tc := &store.TestCase{
			ProjectID:     env.project.ID,
			Title:         fmt.Sprintf("case %d", i),
			Identifier:    fmt.Sprintf("TC-%03d", i),
			EstimatedTime: 10,
		}
		require.NoError(t, st.CreateTestCase(ctx, tc))
		env.cases = append(env.cases, tc)
	}

	return env
}

func (e *testEnv) createRun(t *testing.T) *store.Run {
	t.Helper()

	run, report, err := e.svc.CreateRun(context.Background(), CreateRunRequest{
		ProjectID:  e.project.ID,
		Name:       "regression",
		AssignedTo: "alice",
		Actor:      "bob",
	})
	require.NoError(t, err)
	assert.Nil(t, report)

	return run
}

func (e *testEnv) caseIDs() []string {
	ids := make([]string, 0, len(e.cases))
	for _, tc := range e.cases {
		ids = append(ids, tc.ID)
	}

	return ids
}

func TestService_CreateRunValidation(t *testing.T) {
	env := setupTestService(t, 0)
	ctx := context.Background()

	_, _, err := env.svc.CreateRun(ctx, CreateRunRequest{ProjectID: env.project.ID})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = env.svc.CreateRun(ctx, CreateRunRequest{
		ProjectID: env.project.ID, Name: "x", ExecutionType: "robotic",
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = env.svc.CreateRun(ctx, CreateRunRequest{ProjectID: "nope", Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	run := env.createRun(t)
	assert.Equal(t, store.RunPlanned, run.Status)
	assert.Equal(t, store.ExecutionManual, run.ExecutionType)
	assert.Nil(t, run.StartedAt)
}

func TestService_CreateRunWithSelection(t *testing.T) {
	env := setupTestService(t, 3)

	run, report, err := env.svc.CreateRun(context.Background(), CreateRunRequest{
		ProjectID: env.project.ID,
		Name:      "smoke",
		Selection: &Selection{TestCaseIDs: env.caseIDs()[:2]},
	})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Len(t, report.Added, 2)
	assert.Equal(t, run.ID, report.RunID)
}

func TestService_LifecycleKeepsResults(t *testing.T) {
	env := setupTestService(t, 2)
	ctx := context.Background()
	run := env.createRun(t)

	_, err := env.svc.AddTestCases(ctx, env.project.ID, run.ID,
		Selection{TestCaseIDs: env.caseIDs()})
	require.NoError(t, err)

	started, err := env.svc.StartRun(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)

	_, err = env.svc.StartRun(ctx, env.project.ID, run.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.svc.RecordResult(ctx, RecordRequest{
		ProjectID: env.project.ID, RunID: run.ID,
		TestCaseID: env.cases[0].ID, Status: "passed", Actor: "alice",
	})
	require.NoError(t, err)

	before, err := env.svc.ListResults(ctx, env.project.ID, run.ID)
	require.NoError(t, err)

	completion, err := env.svc.CompleteRun(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, completion.Run.Status)
	assert.Equal(t, 2, completion.Stats.Total)
	assert.Equal(t, 50, completion.Stats.ProgressPercentage)
	assert.False(t, completion.NotificationOffered)

	_, err = env.svc.RecordResult(ctx, RecordRequest{
		ProjectID: env.project.ID, RunID: run.ID,
		TestCaseID: env.cases[1].ID, Status: "FAILED",
	})
	assert.ErrorIs(t, err, ErrRunLocked)

	reopened, err := env.svc.ReopenRun(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunInProgress, reopened.Status)
	assert.Nil(t, reopened.CompletedAt)

	stored, err := env.svc.GetRun(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CompletedAt)

	after, err := env.svc.ListResults(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestService_CompleteOnPlannedFails(t *testing.T) {
	env := setupTestService(t, 0)
	run := env.createRun(t)

	_, err := env.svc.CompleteRun(context.Background(), env.project.ID, run.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_ConcurrentTransitionsOneWins(t *testing.T) {
	env := setupTestService(t, 0)
	run := env.createRun(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, lost int
	)

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := env.svc.StartRun(context.Background(), env.project.ID, run.ID)

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				ok++
			} else if errors.Is(err, ErrInvalidTransition) {
				lost++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, lost)
}

func TestService_AddPlaceholderIdempotent(t *testing.T) {
	env := setupTestService(t, 1)
	ctx := context.Background()
	run := env.createRun(t)

	first, created, err := env.svc.AddPlaceholder(ctx, env.project.ID, run.ID, env.cases[0].ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.IsPlaceholder())

	second, created, err := env.svc.AddPlaceholder(ctx, env.project.ID, run.ID, env.cases[0].ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	results, err := env.svc.ListResults(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestService_RecordResultTwiceKeepsLatest(t *testing.T) {
	env := setupTestService(t, 1)
	ctx := context.Background()
	run := env.createRun(t)
	dur := 3.5

	_, err := env.svc.RecordResult(ctx, RecordRequest{
		ProjectID: env.project.ID, RunID: run.ID, TestCaseID: env.cases[0].ID,
		Status: "FAILED", Comment: "broken", DurationSeconds: &dur,
		DefectIDs: []string{"BUG-1", " BUG-1 ", ""}, Actor: "alice",
	})
	require.NoError(t, err)

	res, err := env.svc.RecordResult(ctx, RecordRequest{
		ProjectID: env.project.ID, RunID: run.ID, TestCaseID: env.cases[0].ID,
		Status: "PASSED", Actor: "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, store.ResultPassed, res.Status)
	assert.Empty(t, res.Comment)
	assert.Nil(t, res.DurationSeconds)
	assert.Equal(t, "bob", res.ExecutedBy)
	assert.NotNil(t, res.ExecutedAt)

	results, err := env.svc.ListResults(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, store.ResultPassed, results[0].Status)
	assert.Equal(t, []string{"BUG-1"}, results[0].DefectIDs)
}

func TestService_RecordResultValidation(t *testing.T) {
	env := setupTestService(t, 1)
	ctx := context.Background()
	run := env.createRun(t)
	negative := -1.0

	tests := []struct {
		name    string
		req     RecordRequest
		wantErr error
	}{
		{
			name:    "unknown status",
			req:     RecordRequest{RunID: run.ID, TestCaseID: env.cases[0].ID, Status: "GRAY"},
			wantErr: ErrInvalidStatus,
		},
		{
			name: "negative duration",
			req: RecordRequest{
				RunID: run.ID, TestCaseID: env.cases[0].ID,
				Status: "PASSED", DurationSeconds: &negative,
			},
			wantErr: ErrValidation,
		},
		{
			name:    "unknown run",
			req:     RecordRequest{RunID: "missing", TestCaseID: env.cases[0].ID, Status: "PASSED"},
			wantErr: ErrNotFound,
		},
		{
			name:    "unknown test case",
			req:     RecordRequest{RunID: run.ID, TestCaseID: "missing", Status: "PASSED"},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ProjectID = env.project.ID

			_, err := env.svc.RecordResult(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_TestCaseFromOtherProjectRejected(t *testing.T) {
	env := setupTestService(t, 0)
	ctx := context.Background()
	run := env.createRun(t)

	other := &store.Project{Name: "other"}
	require.NoError(t, env.store.CreateProject(ctx, other))

	foreign := &store.TestCase{ProjectID: other.ID, Title: "foreign"}
	require.NoError(t, env.store.CreateTestCase(ctx, foreign))

	_, err := env.svc.RecordResult(ctx, RecordRequest{
		ProjectID: env.project.ID, RunID: run.ID,
		TestCaseID: foreign.ID, Status: "PASSED",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.GetRun(ctx, other.ID, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ConcurrentRecordSamePair(t *testing.T) {
	env := setupTestService(t, 1)
	ctx := context.Background()
	run := env.createRun(t)

	for round := 0; round < 10; round++ {
		var wg sync.WaitGroup

		for _, status := range []string{"PASSED", "FAILED"} {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := env.svc.RecordResult(ctx, RecordRequest{
					ProjectID: env.project.ID, RunID: run.ID,
					TestCaseID: env.cases[0].ID, Status: status,
					Comment: status,
				})
				assert.NoError(t, err)
			}()
		}

		wg.Wait()

		results, err := env.svc.ListResults(ctx, env.project.ID, run.ID)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Contains(t,
			[]store.ResultStatus{store.ResultPassed, store.ResultFailed},
			results[0].Status)
		assert.Equal(t, string(results[0].Status), results[0].Comment,
			"fields of one write must not mix with the other")
	}
}

func TestService_TenPlaceholderScenario(t *testing.T) {
	env := setupTestService(t, 10)
	ctx := context.Background()
	run := env.createRun(t)

	report, err := env.svc.AddTestCases(ctx, env.project.ID, run.ID,
		Selection{TestCaseIDs: env.caseIDs()})
	require.NoError(t, err)
	require.Len(t, report.Added, 10)

	_, err = env.svc.StartRun(ctx, env.project.ID, run.ID)
	require.NoError(t, err)

	outcomes := []string{
		"PASSED", "PASSED", "PASSED", "PASSED", "PASSED", "PASSED",
		"FAILED", "FAILED", "BLOCKED",
	}

	for i, status := range outcomes {
		_, err := env.svc.RecordResult(ctx, RecordRequest{
			ProjectID: env.project.ID, RunID: run.ID,
			TestCaseID: env.cases[i].ID, Status: status,
		})
		require.NoError(t, err)
	}

	stats, err := env.svc.RunStats(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 90, stats.ProgressPercentage)
	assert.Equal(t, 67, stats.PassRate)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Placeholders)
	assert.InDelta(t, 10.0, stats.EstimatedRemainingSeconds, 1e-9)
}

func TestService_RemoveTestCase(t *testing.T) {
	env := setupTestService(t, 2)
	ctx := context.Background()
	run := env.createRun(t)

	_, err := env.svc.AddTestCases(ctx, env.project.ID, run.ID,
		Selection{TestCaseIDs: env.caseIDs()})
	require.NoError(t, err)

	require.NoError(t, env.svc.RemoveTestCase(ctx, env.project.ID, run.ID, env.cases[0].ID))
	assert.ErrorIs(t,
		env.svc.RemoveTestCase(ctx, env.project.ID, run.ID, env.cases[0].ID),
		ErrNotFound)

	_, err = env.svc.CancelRun(ctx, env.project.ID, run.ID)
	require.NoError(t, err)

	assert.ErrorIs(t,
		env.svc.RemoveTestCase(ctx, env.project.ID, run.ID, env.cases[1].ID),
		ErrRunLocked)

	_, _, err = env.svc.AddPlaceholder(ctx, env.project.ID, run.ID, env.cases[0].ID)
	assert.ErrorIs(t, err, ErrRunLocked)
}

func TestService_DeleteRun(t *testing.T) {
	env := setupTestService(t, 1)
	ctx := context.Background()
	run := env.createRun(t)

	_, _, err := env.svc.AddPlaceholder(ctx, env.project.ID, run.ID, env.cases[0].ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteRun(ctx, env.project.ID, run.ID))
	assert.ErrorIs(t, env.svc.DeleteRun(ctx, env.project.ID, run.ID), ErrNotFound)

	results, err := env.store.ListResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestService_ListRunsFilter(t *testing.T) {
	env := setupTestService(t, 0)
	ctx := context.Background()

	first := env.createRun(t)
	env.createRun(t)

	_, err := env.svc.StartRun(ctx, env.project.ID, first.ID)
	require.NoError(t, err)

	all, err := env.svc.ListRuns(ctx, env.project.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	running, err := env.svc.ListRuns(ctx, env.project.ID, "in_progress")
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, first.ID, running[0].ID)

	_, err = env.svc.ListRuns(ctx, env.project.ID, "paused")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_CompletionOffersNotification(t *testing.T) {
	env := setupTestService(t, 1)
	env.notifier.recipients = []string{"alice@example.com"}
	ctx := context.Background()
	run := env.createRun(t)

	_, err := env.svc.SendDigest(ctx, env.project.ID, run.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.svc.StartRun(ctx, env.project.ID, run.ID)
	require.NoError(t, err)

	completion, err := env.svc.CompleteRun(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	assert.True(t, completion.NotificationOffered)
	require.NotNil(t, completion.Digest)
	assert.Equal(t, run.ID, completion.Digest.RunID)

	digest, err := env.svc.SendDigest(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, digest.RunID)
	assert.Len(t, env.notifier.dispatched, 1)
}

func TestService_SendDigestWithoutRecipients(t *testing.T) {
	env := setupTestService(t, 0)
	ctx := context.Background()
	run := env.createRun(t)

	_, err := env.svc.StartRun(ctx, env.project.ID, run.ID)
	require.NoError(t, err)
	_, err = env.svc.CompleteRun(ctx, env.project.ID, run.ID)
	require.NoError(t, err)

	_, err = env.svc.SendDigest(ctx, env.project.ID, run.ID)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, env.notifier.dispatched)
}
