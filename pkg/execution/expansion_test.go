package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
)

// seedGroups puts cases 0-2 in suite A and cases 2-3 in suite B, then
// adds a seventh case assigned to a module. Cases 4 and 5 stay ungrouped.
func seedGroups(t *testing.T, env *testEnv) (suiteA, suiteB, module string) {
	t.Helper()

	ctx := context.Background()
	ids := env.caseIDs()

	a := &store.Suite{ProjectID: env.project.ID, Name: "A"}
	require.NoError(t, env.store.CreateSuite(ctx, a, ids[0:3]))

	b := &store.Suite{ProjectID: env.project.ID, Name: "B"}
	require.NoError(t, env.store.CreateSuite(ctx, b, ids[2:4]))

	m := &store.Module{ProjectID: env.project.ID, SuiteID: &a.ID, Name: "payments"}
	require.NoError(t, env.store.CreateModule(ctx, m))

	tc := &store.TestCase{ProjectID: env.project.ID, Title: "refund", ModuleID: &m.ID}
	require.NoError(t, env.store.CreateTestCase(ctx, tc))
	env.cases = append(env.cases, tc)

	return a.ID, b.ID, m.ID
}

func TestExpand(t *testing.T) {
	env := setupTestService(t, 6)
	ctx := context.Background()
	suiteA, suiteB, module := seedGroups(t, env)
	ids := env.caseIDs()

	t.Run("overlapping suites yield each case once", func(t *testing.T) {
		got, err := env.svc.Expand(ctx, env.project.ID,
			Selection{SuiteIDs: []string{suiteA, suiteB, suiteA}}, nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, ids[0:4], got)
		assert.IsNonDecreasing(t, got)
	})

	t.Run("direct ids union with suites", func(t *testing.T) {
		got, err := env.svc.Expand(ctx, env.project.ID, Selection{
			SuiteIDs:    []string{suiteB},
			TestCaseIDs: []string{ids[0], ids[2]},
		}, nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{ids[0], ids[2], ids[3]}, got)
	})

	t.Run("module members", func(t *testing.T) {
		got, err := env.svc.Expand(ctx, env.project.ID,
			Selection{ModuleIDs: []string{module}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{env.cases[6].ID}, got)
	})

	t.Run("existing cases are subtracted", func(t *testing.T) {
		got, err := env.svc.Expand(ctx, env.project.ID,
			Selection{SuiteIDs: []string{suiteA}}, []string{ids[0], ids[1]})
		require.NoError(t, err)
		assert.Equal(t, []string{ids[2]}, got)
	})

	t.Run("ungrouped excludes suite and module members", func(t *testing.T) {
		got, err := env.svc.Expand(ctx, env.project.ID,
			Selection{SuiteIDs: []string{UngroupedSuiteID}}, nil)
		require.NoError(t, err)

		assert.ElementsMatch(t, ids[4:6], got)
	})

	t.Run("everything already present", func(t *testing.T) {
		_, err := env.svc.Expand(ctx, env.project.ID,
			Selection{SuiteIDs: []string{suiteB}}, ids[2:4])
		assert.ErrorIs(t, err, ErrEmptySelection)
	})

	t.Run("empty selection", func(t *testing.T) {
		_, err := env.svc.Expand(ctx, env.project.ID, Selection{TestCaseIDs: []string{" "}}, nil)
		assert.ErrorIs(t, err, ErrEmptySelection)
	})

	t.Run("unknown suite", func(t *testing.T) {
		_, err := env.svc.Expand(ctx, env.project.ID,
			Selection{SuiteIDs: []string{suiteA, "nope"}}, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown module", func(t *testing.T) {
		_, err := env.svc.Expand(ctx, env.project.ID,
			Selection{ModuleIDs: []string{"nope"}}, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("test case of another project", func(t *testing.T) {
		_, err := env.svc.Expand(ctx, "other-project",
			Selection{TestCaseIDs: []string{ids[0]}}, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAddTestCases_SkipsExisting(t *testing.T) {
	env := setupTestService(t, 6)
	ctx := context.Background()
	suiteA, suiteB, _ := seedGroups(t, env)
	ids := env.caseIDs()
	run := env.createRun(t)

	first, err := env.svc.AddTestCases(ctx, env.project.ID, run.ID,
		Selection{SuiteIDs: []string{suiteA}})
	require.NoError(t, err)
	assert.Equal(t, 3, len(first.Added))
	assert.NoError(t, first.Err())

	second, err := env.svc.AddTestCases(ctx, env.project.ID, run.ID,
		Selection{SuiteIDs: []string{suiteA, suiteB}})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[3]}, second.Added)

	_, err = env.svc.AddTestCases(ctx, env.project.ID, run.ID,
		Selection{SuiteIDs: []string{suiteB}})
	assert.ErrorIs(t, err, ErrEmptySelection)

	results, err := env.store.ListResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, results, 4)

	for _, r := range results {
		assert.True(t, r.IsPlaceholder())
	}
}

func TestBulkReport_Err(t *testing.T) {
	var empty *BulkReport
	assert.NoError(t, empty.Err())

	r := &BulkReport{
		Added:    []string{"a"},
		Failures: []ItemFailure{{ID: "b", Err: ErrStorageUnavailable}},
	}

	err := r.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "1 items succeeded, 1 failed: b")
}
