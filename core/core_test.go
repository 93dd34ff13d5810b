package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"networkteam.com/lab/pipelinecore/cache"
	"networkteam.com/lab/pipelinecore/param"
	"networkteam.com/lab/pipelinecore/store"
)

// memCache is an in-process cache.Cache, standing in for Redis so these
// tests never need a live instance.
type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: map[string]string{}} }

func (m *memCache) Set(ctx context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Update(ctx context.Context, key string, fn cache.UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current []byte
	if v, ok := m.data[key]; ok {
		current = []byte(v)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	m.data[key] = string(next)
	return nil
}

// fakeQueue records every enqueued task instead of submitting it anywhere.
type fakeQueue struct {
	mu    sync.Mutex
	tasks []EnqueueRequest
}

func (q *fakeQueue) Enqueue(ctx context.Context, req EnqueueRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, req)
	return nil
}

func (q *fakeQueue) last() EnqueueRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks[len(q.tasks)-1]
}

// fakeMailer records the last terminal notice.
type fakeMailer struct {
	mu     sync.Mutex
	notice *PipelineNotice
}

func (m *fakeMailer) FinishedPipeline(ctx context.Context, p PipelineNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := p
	m.notice = &n
	return nil
}

func (m *fakeMailer) last() *PipelineNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notice
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeQueue, *fakeMailer) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	st := store.New(db)
	require.NoError(t, st.Migrate())

	q := &fakeQueue{}
	mailer := &fakeMailer{}
	resolver := param.Resolver{Source: st}
	engine := NewEngine(st, newMemCache(), q, resolver, mailer)
	return engine, st, q, mailer
}

// finishTask simulates a worker callback by fetching the currently
// enqueued task for a job and reporting it succeeded or failed.
func finishTask(t *testing.T, ctx context.Context, engine *Engine, q *fakeQueue, job *store.Job, succeed bool) {
	t.Helper()
	var req *EnqueueRequest
	q.mu.Lock()
	for i := len(q.tasks) - 1; i >= 0; i-- {
		if q.tasks[i].JobID == job.ID {
			req = &q.tasks[i]
			break
		}
	}
	q.mu.Unlock()
	require.NotNil(t, req, "no task enqueued for job %d", job.ID)
	var err error
	if succeed {
		err = engine.WorkerSucceeded(ctx, job, req.TaskName)
	} else {
		err = engine.WorkerFailed(ctx, job, req.TaskName)
	}
	require.NoError(t, err)
}

// TestLinearSuccess covers a two-job chain A -> B where both tasks succeed:
// B must only start once A's worker callback reports success, and the
// pipeline must reach "succeeded" once B also finishes.
func TestLinearSuccess(t *testing.T) {
	ctx := context.Background()
	engine, st, q, mailer := newTestEngine(t)

	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "linear", Status: store.StatusIdle}))
	pipeline, err := st.FindPipeline(1)
	require.NoError(t, err)

	jobA := &store.Job{Name: "a", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobA))
	jobB := &store.Job{Name: "b", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobB))
	require.NoError(t, st.CreateStartCondition(&store.StartCondition{
		JobID: jobB.ID, PrecedingJobID: jobA.ID, Condition: store.ConditionSuccess,
	}))

	pipeline, err = st.FindPipeline(pipeline.ID)
	require.NoError(t, err)

	started, err := engine.StartPipeline(ctx, pipeline)
	require.NoError(t, err)
	require.True(t, started)
	require.Len(t, q.tasks, 1, "only the sourceless job A should have started")

	finishTask(t, ctx, engine, q, jobA, true)
	require.Len(t, q.tasks, 2, "B should have started once A succeeded")

	finishTask(t, ctx, engine, q, jobB, true)

	pipeline, err = st.FindPipeline(pipeline.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusSucceeded, pipeline.Status)
	require.NotNil(t, mailer.last())
	require.Equal(t, "succeeded", mailer.last().Status)
}

// TestFailureStopsDownstream covers A -> B with a "success" condition: when
// A fails, B must never start and the pipeline finishes failed.
func TestFailureStopsDownstream(t *testing.T) {
	ctx := context.Background()
	engine, st, q, mailer := newTestEngine(t)

	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "fail-stop", Status: store.StatusIdle}))
	pipeline, err := st.FindPipeline(1)
	require.NoError(t, err)

	jobA := &store.Job{Name: "a", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobA))
	jobB := &store.Job{Name: "b", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobB))
	require.NoError(t, st.CreateStartCondition(&store.StartCondition{
		JobID: jobB.ID, PrecedingJobID: jobA.ID, Condition: store.ConditionSuccess,
	}))

	pipeline, err = st.FindPipeline(pipeline.ID)
	require.NoError(t, err)
	started, err := engine.StartPipeline(ctx, pipeline)
	require.NoError(t, err)
	require.True(t, started)

	finishTask(t, ctx, engine, q, jobA, false)

	jobB, err = st.FindJob(jobB.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, jobB.Status, "B should be failed without ever running, since its success condition was not met")
	require.Len(t, q.tasks, 1, "B must never have been enqueued")

	pipeline, err = st.FindPipeline(pipeline.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, pipeline.Status)
	require.Equal(t, "failed", mailer.last().Status)
}

// TestWhateverEdgeAlwaysStarts covers A -> B with a "whatever" condition: B
// must start regardless of whether A succeeded or failed.
func TestWhateverEdgeAlwaysStarts(t *testing.T) {
	ctx := context.Background()
	engine, st, q, _ := newTestEngine(t)

	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "whatever", Status: store.StatusIdle}))
	pipeline, err := st.FindPipeline(1)
	require.NoError(t, err)

	jobA := &store.Job{Name: "a", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobA))
	jobB := &store.Job{Name: "b", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobB))
	require.NoError(t, st.CreateStartCondition(&store.StartCondition{
		JobID: jobB.ID, PrecedingJobID: jobA.ID, Condition: store.ConditionWhatever,
	}))

	pipeline, err = st.FindPipeline(pipeline.ID)
	require.NoError(t, err)
	started, err := engine.StartPipeline(ctx, pipeline)
	require.NoError(t, err)
	require.True(t, started)

	finishTask(t, ctx, engine, q, jobA, false)

	require.Len(t, q.tasks, 2, "B should start even though A failed, since its edge is whatever")
}

// TestFanoutThenJoin covers a diamond: A fans out to B and C, both of which
// must complete (a "join") with success conditions before D starts.
func TestFanoutThenJoin(t *testing.T) {
	ctx := context.Background()
	engine, st, q, _ := newTestEngine(t)

	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "diamond", Status: store.StatusIdle}))
	pipeline, err := st.FindPipeline(1)
	require.NoError(t, err)

	jobA := &store.Job{Name: "a", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobA))
	jobB := &store.Job{Name: "b", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobB))
	jobC := &store.Job{Name: "c", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobC))
	jobD := &store.Job{Name: "d", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobD))

	require.NoError(t, st.CreateStartCondition(&store.StartCondition{JobID: jobB.ID, PrecedingJobID: jobA.ID, Condition: store.ConditionSuccess}))
	require.NoError(t, st.CreateStartCondition(&store.StartCondition{JobID: jobC.ID, PrecedingJobID: jobA.ID, Condition: store.ConditionSuccess}))
	require.NoError(t, st.CreateStartCondition(&store.StartCondition{JobID: jobD.ID, PrecedingJobID: jobB.ID, Condition: store.ConditionSuccess}))
	require.NoError(t, st.CreateStartCondition(&store.StartCondition{JobID: jobD.ID, PrecedingJobID: jobC.ID, Condition: store.ConditionSuccess}))

	pipeline, err = st.FindPipeline(pipeline.ID)
	require.NoError(t, err)
	started, err := engine.StartPipeline(ctx, pipeline)
	require.NoError(t, err)
	require.True(t, started)
	require.Len(t, q.tasks, 1, "only A should start")

	// A succeeds, fanning out to both B and C.
	finishTask(t, ctx, engine, q, jobA, true)
	require.Len(t, q.tasks, 3)

	// B finishes; D must not start yet because C hasn't joined.
	jobB, err = st.FindJob(jobB.ID)
	require.NoError(t, err)
	finishTask(t, ctx, engine, q, jobB, true)
	require.Len(t, q.tasks, 3, "D must wait for C before joining")

	// C finishes; now D should start.
	jobC, err = st.FindJob(jobC.ID)
	require.NoError(t, err)
	finishTask(t, ctx, engine, q, jobC, true)
	require.Len(t, q.tasks, 4, "D should start once both B and C have joined")

	jobD, err = st.FindJob(jobD.ID)
	require.NoError(t, err)
	finishTask(t, ctx, engine, q, jobD, true)

	pipeline, err = st.FindPipeline(pipeline.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusSucceeded, pipeline.Status)
}

// TestStartSingleJobBypassesGating covers §4.5 start_single_job: an operator
// can run a single job directly even though it has unmet start conditions.
func TestStartSingleJobBypassesGating(t *testing.T) {
	ctx := context.Background()
	engine, st, q, _ := newTestEngine(t)

	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "single", Status: store.StatusIdle}))
	pipeline, err := st.FindPipeline(1)
	require.NoError(t, err)

	jobA := &store.Job{Name: "a", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobA))
	jobB := &store.Job{Name: "b", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobB))
	require.NoError(t, st.CreateStartCondition(&store.StartCondition{
		JobID: jobB.ID, PrecedingJobID: jobA.ID, Condition: store.ConditionSuccess,
	}))

	started, err := engine.StartSingleJob(ctx, pipeline, jobB)
	require.NoError(t, err)
	require.True(t, started)
	require.Len(t, q.tasks, 1)
	require.Equal(t, jobB.ID, q.tasks[0].JobID)
}

// TestStopPipelineTransitionsJobs covers §4.4 stop: a running job whose
// live status is only in the cache transitions to stopping.
func TestStopPipelineTransitionsJobs(t *testing.T) {
	ctx := context.Background()
	engine, st, q, _ := newTestEngine(t)

	require.NoError(t, st.CreatePipeline(&store.Pipeline{Name: "stop", Status: store.StatusIdle}))
	pipeline, err := st.FindPipeline(1)
	require.NoError(t, err)

	jobA := &store.Job{Name: "a", WorkerClass: "noop", PipelineID: pipeline.ID, Status: store.StatusIdle}
	require.NoError(t, st.CreateJob(jobA))

	pipeline, err = st.FindPipeline(pipeline.ID)
	require.NoError(t, err)
	started, err := engine.StartPipeline(ctx, pipeline)
	require.NoError(t, err)
	require.True(t, started)
	require.Len(t, q.tasks, 1)

	pipeline, err = st.FindPipeline(pipeline.ID)
	require.NoError(t, err)
	stopped, err := engine.StopPipeline(ctx, pipeline)
	require.NoError(t, err)
	require.True(t, stopped)

	jobA, err = st.FindJob(jobA.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusStopping, jobA.Status)
}
