package core

import (
	"context"
	"regexp"
	"time"

	"github.com/apex/log"
	"github.com/friendsofgo/errors"
	"github.com/gofrs/uuid"

	"networkteam.com/lab/pipelinecore/cache"
	"networkteam.com/lab/pipelinecore/core/errs"
	"networkteam.com/lab/pipelinecore/store"
)

// sanitizeTaskName maps any character outside [A-Za-z0-9_-] to '-' (§4.4
// enqueue).
var sanitizeTaskName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// isStartable reports the allowed starting states for a job (§4.4).
func isStartable(s store.Status) bool {
	return s == store.StatusIdle || s == store.StatusSucceeded || s == store.StatusFailed
}

// PrepareForStart implements §4.4 prepare_for_start: writes "waiting" to the
// cache status key iff the effective status is idle/succeeded/failed.
func (e *Engine) PrepareForStart(ctx context.Context, job *store.Job) (bool, error) {
	status := e.effectiveJobStatus(ctx, job.PipelineID, job.ID, job.Status)
	if !isStartable(status) {
		return false, nil
	}
	if err := e.setJobCacheStatus(ctx, job.PipelineID, job.ID, store.StatusWaiting); err != nil {
		return false, err
	}
	return true, nil
}

// GetReady implements §4.4 get_ready: pre-materialize every param to force
// BadExpression / type errors to surface before the pipeline commits to
// starting, then call PrepareForStart.
func (e *Engine) GetReady(ctx context.Context, job *store.Job) (bool, error) {
	for i := range job.Params {
		if _, err := e.Resolver.ValForJob(&job.Params[i], job.PipelineID); err != nil {
			log.WithField("component", "core").
				WithField("pipeline_id", job.PipelineID).
				WithField("job_id", job.ID).
				WithField("worker_class", job.WorkerClass).
				WithError(err).
				Error("bad job param")
			return false, nil
		}
	}

	ok, err := e.PrepareForStart(ctx, job)
	if err != nil {
		return false, err
	}
	if !ok {
		log.WithField("component", "core").
			WithField("pipeline_id", job.PipelineID).
			WithField("job_id", job.ID).
			WithField("worker_class", job.WorkerClass).
			Error("could not update job status for start")
	}
	return ok, nil
}

// StartJob implements §4.4 start: gates on inbound start conditions, then
// runs or fails the job. The bool result distinguishes "not ready, will be
// retried reactively" (false, nil error) from a hard failure.
func (e *Engine) StartJob(ctx context.Context, job *store.Job) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startJobUnlocked(ctx, job)
}

// conditionSatisfied implements the StartCondition semantics of §3: an
// edge is satisfied iff the preceding job's terminal state is consistent
// with condition. "whatever" is always satisfied.
func conditionSatisfied(condition store.Condition, precedingStatus store.Status) bool {
	switch condition {
	case store.ConditionSuccess:
		return precedingStatus != store.StatusFailed
	case store.ConditionFail:
		return precedingStatus != store.StatusSucceeded
	default: // whatever
		return true
	}
}

// Run implements §4.4 run.
func (e *Engine) Run(ctx context.Context, job *store.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runLocked(ctx, job)
}

func (e *Engine) runLocked(ctx context.Context, job *store.Job) error {
	job.EnqueuedWorkersCount = 0
	if err := e.setJobCacheStatus(ctx, job.PipelineID, job.ID, store.StatusRunning); err != nil {
		return err
	}

	workerParams := make(map[string]interface{}, len(job.Params))
	for i := range job.Params {
		v, err := e.Resolver.ValForJob(&job.Params[i], job.PipelineID)
		if err != nil {
			return errs.WrapBadExpression(err, job.Params[i].Name)
		}
		workerParams[job.Params[i].Name] = v.Raw()
	}

	return e.enqueueLocked(ctx, job, job.WorkerClass, workerParams, 0)
}

// Enqueue implements §4.4 enqueue: pre-condition the job must be running.
// Exposed for the worker-initiated recursive enqueue path (§4.7, EXTERNAL
// INTERFACES enqueue_additional).
func (e *Engine) Enqueue(ctx context.Context, job *store.Job, workerClass string, params map[string]interface{}, delay int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enqueueLocked(ctx, job, workerClass, params, delay)
}

func (e *Engine) enqueueLocked(ctx context.Context, job *store.Job, workerClass string, params map[string]interface{}, delaySeconds int) error {
	status := e.effectiveJobStatus(ctx, job.PipelineID, job.ID, job.Status)
	if status != store.StatusRunning {
		return errs.ErrInvalidTransition
	}

	pipeline, err := e.Store.FindPipeline(job.PipelineID)
	if err != nil {
		return wrapStore(err)
	}

	taskName := mintTaskName(pipeline.Name, job.Name, workerClass)

	listKey := cache.PipelineKey(job.PipelineID, cache.KeyListOfTasksEnqueued)
	if err := e.taskList().Append(ctx, listKey, taskName); err != nil {
		return errs.WrapCacheFailure(err)
	}

	req := EnqueueRequest{
		PipelineID:   job.PipelineID,
		JobID:        job.ID,
		WorkerClass:  workerClass,
		WorkerParams: params,
		TaskName:     taskName,
		Delay:        secondsToDuration(delaySeconds),
	}
	if err := e.Queue.Enqueue(ctx, req); err != nil {
		if errors.Is(err, errs.ErrDuplicateTask) {
			// Idempotent: treated as success by the caller (§5 Idempotence).
		} else {
			return err
		}
	}

	enqueuedKey := cache.JobKey(job.PipelineID, job.ID, cache.KeyEnqueuedTasks)
	if err := e.counters().Increment(ctx, enqueuedKey, job.EnqueuedWorkersCount); err != nil {
		return errs.WrapCacheFailure(err)
	}

	job.EnqueuedWorkersCount++
	if err := e.Store.UpdateJob(job); err != nil {
		return wrapStore(err)
	}
	return nil
}

// mintTaskName implements §4.4 enqueue's naming rule.
func mintTaskName(pipelineName, jobName, workerClass string) string {
	base := pipelineName + "_" + jobName + "_" + workerClass
	sanitized := sanitizeTaskName.ReplaceAllString(base, "-")
	id, err := uuid.NewV4()
	if err != nil {
		// uuid generation failure is effectively impossible (crypto/rand
		// exhaustion); fall back to a fixed suffix rather than panic.
		return sanitized + "-0"
	}
	return sanitized + "_" + id.String()
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// Stop implements §4.4 stop. It gates on the effective status, not the
// persisted column: a waiting or running job only ever has that status
// live in cache (GetReady/runLocked never write it to the database), so
// switching on job.Status directly would never see it.
func (e *Engine) Stop(ctx context.Context, job *store.Job) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.effectiveJobStatus(ctx, job.PipelineID, job.ID, job.Status) {
	case store.StatusWaiting:
		return true, e.transitionJobStatus(ctx, job, store.StatusFailed)
	case store.StatusRunning:
		return true, e.transitionJobStatus(ctx, job, store.StatusStopping)
	default:
		return false, nil
	}
}

func (e *Engine) transitionJobStatus(ctx context.Context, job *store.Job, status store.Status) error {
	now := e.Now()
	if err := e.setJobCacheStatus(ctx, job.PipelineID, job.ID, status); err != nil {
		return err
	}
	job.Status = status
	job.StatusChangedAt = &now
	return wrapStore(e.Store.UpdateJobStatus(job.ID, status, &now))
}

// WorkerSucceeded implements §4.4 worker_succeeded.
func (e *Engine) WorkerSucceeded(ctx context.Context, job *store.Job, taskName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	listKey := cache.PipelineKey(job.PipelineID, cache.KeyListOfTasksEnqueued)
	if err := e.taskList().Remove(ctx, listKey, taskName); err != nil {
		return errs.WrapCacheFailure(err)
	}

	enqueuedKey := cache.JobKey(job.PipelineID, job.ID, cache.KeyEnqueuedTasks)
	if err := e.counters().Decrement(ctx, enqueuedKey, job.EnqueuedWorkersCount); err != nil {
		return errs.WrapCacheFailure(err)
	}

	remaining, err := e.counters().GetInt(ctx, enqueuedKey, 0)
	if err != nil {
		return errs.WrapCacheFailure(err)
	}

	if remaining == 0 {
		status := e.effectiveJobStatus(ctx, job.PipelineID, job.ID, job.Status)
		if status != store.StatusFailed {
			if err := e.setSucceededStatusLocked(ctx, job); err != nil {
				return err
			}
		} else {
			if err := e.setFailedStatusLocked(ctx, job); err != nil {
				return err
			}
		}
		return e.startDependentsLocked(ctx, job)
	}

	return wrapStore(e.Store.UpdateJob(job))
}

// WorkerFailed implements §4.4 worker_failed.
func (e *Engine) WorkerFailed(ctx context.Context, job *store.Job, taskName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	listKey := cache.PipelineKey(job.PipelineID, cache.KeyListOfTasksEnqueued)
	if err := e.taskList().Remove(ctx, listKey, taskName); err != nil {
		return errs.WrapCacheFailure(err)
	}

	enqueuedKey := cache.JobKey(job.PipelineID, job.ID, cache.KeyEnqueuedTasks)
	// No db seed here, unlike WorkerSucceeded: worker_failed's cache-miss
	// fallback is 0, not enqueued_workers_count (§4.4).
	if err := e.counters().Decrement(ctx, enqueuedKey, 0); err != nil {
		return errs.WrapCacheFailure(err)
	}

	if err := e.setFailedStatusLocked(ctx, job); err != nil {
		return err
	}

	remaining, err := e.counters().GetInt(ctx, enqueuedKey, 0)
	if err != nil {
		return errs.WrapCacheFailure(err)
	}

	if remaining == 0 {
		return e.startDependentsLocked(ctx, job)
	}
	return wrapStore(e.Store.UpdateJob(job))
}

// setSucceededStatusLocked implements §4.4 set_succeeded_status.
func (e *Engine) setSucceededStatusLocked(ctx context.Context, job *store.Job) error {
	remainingKey := cache.PipelineKey(job.PipelineID, cache.KeyRemainingJobs)
	total, err := e.Store.CountJobs(job.PipelineID)
	if err != nil {
		return wrapStore(err)
	}
	if err := e.counters().Decrement(ctx, remainingKey, int(total)); err != nil {
		return errs.WrapCacheFailure(err)
	}

	return e.transitionJobStatus(ctx, job, store.StatusSucceeded)
}

// setFailedStatusLocked implements §4.4 set_failed_status.
func (e *Engine) setFailedStatusLocked(ctx context.Context, job *store.Job) error {
	failedKey := cache.PipelineKey(job.PipelineID, cache.KeyFailedJobs)
	if err := e.counters().Increment(ctx, failedKey, 0); err != nil {
		return errs.WrapCacheFailure(err)
	}

	remainingKey := cache.PipelineKey(job.PipelineID, cache.KeyRemainingJobs)
	total, err := e.Store.CountJobs(job.PipelineID)
	if err != nil {
		return wrapStore(err)
	}
	if err := e.counters().Decrement(ctx, remainingKey, int(total)); err != nil {
		return errs.WrapCacheFailure(err)
	}

	if err := e.transitionJobStatus(ctx, job, store.StatusFailed); err != nil {
		return err
	}

	// The pipeline's status is not changed here, neither in memory nor in
	// the store; finishLocked derives the aggregate from the sink jobs and
	// persists it.
	return nil
}

// startDependentsLocked implements §4.6: after a job becomes terminal and
// its enqueued count is zero, start() every outbound edge's successor, then
// notify the pipeline.
func (e *Engine) startDependentsLocked(ctx context.Context, job *store.Job) error {
	dependentIDs, err := e.Store.DependentJobIDs(job.ID)
	if err != nil {
		return wrapStore(err)
	}

	for _, id := range dependentIDs {
		dependent, err := e.Store.FindJob(id)
		if err != nil {
			return wrapStore(err)
		}
		if _, err := e.startJobUnlocked(ctx, dependent); err != nil {
			return err
		}
	}

	return e.jobFinishedLocked(ctx, job.PipelineID)
}

// startJobUnlocked runs StartJob's body without re-acquiring e.mu, since
// startDependentsLocked is always called with e.mu already held.
func (e *Engine) startJobUnlocked(ctx context.Context, job *store.Job) (bool, error) {
	status := e.effectiveJobStatus(ctx, job.PipelineID, job.ID, job.Status)
	if status != store.StatusWaiting {
		return false, nil
	}

	for _, sc := range job.StartConditions {
		preceding, err := e.Store.FindJob(sc.PrecedingJobID)
		if err != nil {
			return false, wrapStore(err)
		}
		precedingStatus := e.effectiveJobStatus(ctx, job.PipelineID, preceding.ID, preceding.Status)

		if conditionSatisfied(sc.Condition, precedingStatus) {
			if !precedingStatus.IsTerminal() {
				return false, nil
			}
			continue
		}

		if err := e.setFailedStatusLocked(ctx, job); err != nil {
			return false, err
		}
		if err := e.startDependentsLocked(ctx, job); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := e.runLocked(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

