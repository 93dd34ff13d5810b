package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"networkteam.com/lab/pipelinecore/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.Migrate())
	return st
}

func TestImportCreatesJobsParamsAndRemapsStartConditions(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "imported"}))

	desc := PipelineDescriptor{
		Params: []ParamDescriptor{
			{Name: "region", Type: "string", Value: "eu"},
		},
		Schedules: []ScheduleDescriptor{
			{Cron: "0 * * * *"},
		},
		Jobs: []JobDescriptor{
			{
				ID:          101,
				Name:        "extract",
				WorkerClass: "worker.Extract",
			},
			{
				ID:          102,
				Name:        "load",
				WorkerClass: "worker.Load",
				Params: []ParamDescriptor{
					{Name: "batch_size", Type: "number", Value: "10"},
				},
				HashStartConditions: []StartConditionDescriptor{
					{PrecedingJobID: 101, Condition: "success"},
				},
			},
		},
	}

	require.NoError(t, Import(st, 1, desc))

	pipeline, err := st.FindPipeline(1)
	require.NoError(t, err)
	require.Len(t, pipeline.Jobs, 2)
	require.Len(t, pipeline.Params, 1)
	assert.Equal(t, "region", pipeline.Params[0].Name)
	require.Len(t, pipeline.Schedules, 1)

	var loadJob *store.Job
	for i := range pipeline.Jobs {
		if pipeline.Jobs[i].Name == "load" {
			loadJob = &pipeline.Jobs[i]
		}
	}
	require.NotNil(t, loadJob)
	require.Len(t, loadJob.Params, 1)
	require.Len(t, loadJob.StartConditions, 1)
	assert.NotEqual(t, uint(101), loadJob.StartConditions[0].PrecedingJobID,
		"the preceding job id must be remapped from the source-local id to a persisted one")
}

func TestImportRejectsUnknownPrecedingJob(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "bad"}))

	desc := PipelineDescriptor{
		Jobs: []JobDescriptor{
			{
				ID:          1,
				Name:        "only",
				WorkerClass: "worker.Only",
				HashStartConditions: []StartConditionDescriptor{
					{PrecedingJobID: 99, Condition: "success"},
				},
			},
		},
	}

	assert.Error(t, Import(st, 1, desc))
}

func TestImportRejectsInvalidDescriptor(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "invalid"}))

	desc := PipelineDescriptor{
		Jobs: []JobDescriptor{
			{ID: 1, Name: "", WorkerClass: "worker.Only"},
		},
	}

	assert.Error(t, Import(st, 1, desc))
}

func TestReconcileParamsCreatesUpdatesAndDestroys(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "reconcile"}))

	require.NoError(t, reconcileParams(st, 1, nil, []ParamDescriptor{
		{Name: "a", Type: "string", Value: "1"},
		{Name: "b", Type: "string", Value: "2"},
	}))

	current, err := st.PipelineParams(1)
	require.NoError(t, err)
	require.Len(t, current, 2)

	var aID uint
	for _, p := range current {
		if p.Name == "a" {
			aID = p.ID
		}
	}
	require.NotZero(t, aID)

	// Second pass: keep "a" (updated), drop "b", add "c".
	require.NoError(t, reconcileParams(st, 1, nil, []ParamDescriptor{
		{ID: aID, Name: "a", Type: "string", Value: "changed"},
		{Name: "c", Type: "string", Value: "3"},
	}))

	current, err = st.PipelineParams(1)
	require.NoError(t, err)
	require.Len(t, current, 2)

	byName := map[string]store.Param{}
	for _, p := range current {
		byName[p.Name] = p
	}
	require.Contains(t, byName, "a")
	require.Contains(t, byName, "c")
	assert.NotContains(t, byName, "b")
	assert.Equal(t, "changed", byName["a"].Value)
}

func TestUpdateStartConditionsReconciles(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "sc"}))
	jobA := &store.Job{Name: "a", PipelineID: 1}
	require.NoError(t, st.CreateJob(jobA))
	jobB := &store.Job{Name: "b", PipelineID: 1}
	require.NoError(t, st.CreateJob(jobB))
	jobC := &store.Job{Name: "c", PipelineID: 1}
	require.NoError(t, st.CreateJob(jobC))

	require.NoError(t, UpdateStartConditions(st, jobB.ID, []StartConditionUpdate{
		{PrecedingJobID: jobA.ID, Condition: "success"},
	}))

	current, err := st.JobStartConditions(jobB.ID)
	require.NoError(t, err)
	require.Len(t, current, 1)
	existingID := current[0].ID

	// Replace the edge with one from jobC instead of jobA.
	require.NoError(t, UpdateStartConditions(st, jobB.ID, []StartConditionUpdate{
		{ID: existingID, PrecedingJobID: jobC.ID, Condition: "whatever"},
	}))

	current, err = st.JobStartConditions(jobB.ID)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, jobC.ID, current[0].PrecedingJobID)
	assert.Equal(t, store.ConditionWhatever, current[0].Condition)
}
