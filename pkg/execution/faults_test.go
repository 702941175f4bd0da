package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/ethpandaops/runkeeper/pkg/config"
)

var errConnReset = errors.New("connection reset")

// faultyStore fails selected writes of the wrapped store.
type faultyStore struct {
	store.Store

	transitionErr   error
	placeholderErrs map[string]error
}

func (f *faultyStore) TransitionRun(
	ctx context.Context, run *store.Run, from store.RunStatus,
) error {
	if f.transitionErr != nil {
		return f.transitionErr
	}

	return f.Store.TransitionRun(ctx, run, from)
}

func (f *faultyStore) InsertPlaceholder(ctx context.Context, res *store.Result) (bool, error) {
	if err, ok := f.placeholderErrs[res.TestCaseID]; ok {
		return false, err
	}

	return f.Store.InsertPlaceholder(ctx, res)
}

// withFaults returns a service over env's store that fails as configured.
func (e *testEnv) withFaults(f *faultyStore) *Service {
	f.Store = e.store

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return NewService(log, f, config.EngineConfig{BulkConcurrency: 4})
}

func TestImportReport_CompletionFailureKeepsResults(t *testing.T) {
	env := setupTestService(t, 3)
	ctx := context.Background()

	svc := env.withFaults(&faultyStore{transitionErr: errConnReset})

	result, err := svc.ImportReport(ctx, ImportRequest{
		ProjectID: env.project.ID,
		Report: Report{Entries: []Entry{
			{Method: "TC-000", Status: "passed"},
			{Method: "TC-001", Status: "failed"},
			{Method: "checkout.unknown", Status: "passed"},
		}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	require.NotNil(t, result, "results that landed are reported")
	require.NotNil(t, result.Run)
	assert.True(t, result.RunCreated)
	assert.Len(t, result.Created, 2)
	assert.Equal(t, []string{"checkout.unknown"}, result.Unmatched)
	assert.Nil(t, result.Completion)
	assert.Equal(t, store.RunInProgress, result.Run.Status)
	assert.Nil(t, result.Run.CompletedAt)

	// The run can still be finished once storage recovers.
	completion, err := env.svc.CompleteRun(ctx, env.project.ID, result.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, completion.Run.Status)
	assert.Equal(t, 2, completion.Stats.Total)
}

func TestAddTestCases_PlaceholderFailureIsPerItem(t *testing.T) {
	env := setupTestService(t, 4)
	ctx := context.Background()
	run := env.createRun(t)

	ids := env.caseIDs()
	broken := ids[2]

	svc := env.withFaults(&faultyStore{
		placeholderErrs: map[string]error{broken: errConnReset},
	})

	report, err := svc.AddTestCases(ctx, env.project.ID, run.ID, Selection{TestCaseIDs: ids})
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.ElementsMatch(t, []string{ids[0], ids[1], ids[3]}, report.Added)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, broken, report.Failures[0].ID)
	assert.ErrorIs(t, report.Failures[0].Err, ErrStorageUnavailable)

	var partial *PartialFailureError

	require.ErrorAs(t, report.Err(), &partial)
	assert.Equal(t, 3, partial.Succeeded)

	results, err := env.store.ListResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
