package core

import (
	"context"

	"networkteam.com/lab/pipelinecore/cache"
	"networkteam.com/lab/pipelinecore/core/errs"
	"networkteam.com/lab/pipelinecore/store"
)

// pipelineStartable reports the pipeline statuses start() accepts, with
// "finished" treated as an alias for any terminal status (§3, §4.5).
func pipelineStartable(s store.Status) bool {
	switch s {
	case store.StatusIdle, store.StatusFinished, store.StatusFailed, store.StatusSucceeded:
		return true
	default:
		return false
	}
}

// PipelineGetReady implements §4.5 get_ready: reset the cache counters.
func (e *Engine) PipelineGetReady(ctx context.Context, pipeline *store.Pipeline) error {
	failedKey := cache.PipelineKey(pipeline.ID, cache.KeyFailedJobs)
	remainingKey := cache.PipelineKey(pipeline.ID, cache.KeyRemainingJobs)
	listKey := cache.PipelineKey(pipeline.ID, cache.KeyListOfTasksEnqueued)

	if err := e.counters().SetInt(ctx, failedKey, 0); err != nil {
		return errs.WrapCacheFailure(err)
	}
	if err := e.counters().SetInt(ctx, remainingKey, len(pipeline.Jobs)); err != nil {
		return errs.WrapCacheFailure(err)
	}
	if err := e.taskList().Set(ctx, listKey, nil); err != nil {
		return errs.WrapCacheFailure(err)
	}
	return nil
}

// StartPipeline implements §4.5 start.
func (e *Engine) StartPipeline(ctx context.Context, pipeline *store.Pipeline) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !pipelineStartable(pipeline.Status) {
		return false, nil
	}
	if len(pipeline.Jobs) < 1 {
		return false, nil
	}
	for i := range pipeline.Jobs {
		status := e.effectiveJobStatus(ctx, pipeline.ID, pipeline.Jobs[i].ID, pipeline.Jobs[i].Status)
		if !isStartable(status) {
			return false, nil
		}
	}

	if err := e.PipelineGetReady(ctx, pipeline); err != nil {
		return false, err
	}

	for i := range pipeline.Jobs {
		ok, err := e.GetReady(ctx, &pipeline.Jobs[i])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	for i := range pipeline.Jobs {
		if _, err := e.startJobUnlocked(ctx, &pipeline.Jobs[i]); err != nil {
			return false, err
		}
	}

	now := e.Now()
	pipeline.Status = store.StatusRunning
	pipeline.StatusChangedAt = &now
	if err := wrapStore(e.Store.UpdatePipelineStatus(pipeline.ID, store.StatusRunning, &now)); err != nil {
		return false, err
	}
	return true, nil
}

// StopPipeline implements §4.5 stop.
func (e *Engine) StopPipeline(ctx context.Context, pipeline *store.Pipeline) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pipeline.Status != store.StatusRunning {
		return false, nil
	}

	// e.mu is already held here, so each job's stop transition is applied
	// directly rather than through Stop, which would lock e.mu again.
	for i := range pipeline.Jobs {
		job := &pipeline.Jobs[i]
		var err error
		switch e.effectiveJobStatus(ctx, job.PipelineID, job.ID, job.Status) {
		case store.StatusWaiting:
			err = e.transitionJobStatus(ctx, job, store.StatusFailed)
		case store.StatusRunning:
			err = e.transitionJobStatus(ctx, job, store.StatusStopping)
		}
		if err != nil {
			return false, err
		}
	}

	for i := range pipeline.Jobs {
		status := e.effectiveJobStatus(ctx, pipeline.ID, pipeline.Jobs[i].ID, pipeline.Jobs[i].Status)
		if !status.IsTerminal() {
			now := e.Now()
			pipeline.Status = store.StatusStopping
			pipeline.StatusChangedAt = &now
			if err := wrapStore(e.Store.UpdatePipelineStatus(pipeline.ID, store.StatusStopping, &now)); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	if err := e.finishLocked(ctx, pipeline.ID); err != nil {
		return false, err
	}
	return true, nil
}

// StartSingleJob implements §4.5 start_single_job: bypasses DAG gating for
// an operator-initiated single-job run.
func (e *Engine) StartSingleJob(ctx context.Context, pipeline *store.Pipeline, job *store.Job) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !pipelineStartable(pipeline.Status) {
		return false, nil
	}

	if err := e.runLocked(ctx, job); err != nil {
		return false, err
	}

	now := e.Now()
	pipeline.Status = store.StatusRunning
	pipeline.StatusChangedAt = &now
	if err := wrapStore(e.Store.UpdatePipelineStatus(pipeline.ID, store.StatusRunning, &now)); err != nil {
		return false, err
	}
	return true, nil
}

// jobFinishedLocked implements §4.5 job_finished, called by §4.6 dependent
// propagation with e.mu already held.
func (e *Engine) jobFinishedLocked(ctx context.Context, pipelineID uint) error {
	jobs, err := e.Store.FindPipeline(pipelineID)
	if err != nil {
		return wrapStore(err)
	}

	for i := range jobs.Jobs {
		status := e.effectiveJobStatus(ctx, pipelineID, jobs.Jobs[i].ID, jobs.Jobs[i].Status)
		if status != store.StatusSucceeded && status != store.StatusFailed && status != store.StatusIdle {
			return nil
		}
	}

	return e.finishLocked(ctx, pipelineID)
}

// finishLocked implements §4.5 _finish: compute the aggregate outcome from
// sink jobs and notify the mailer.
func (e *Engine) finishLocked(ctx context.Context, pipelineID uint) error {
	pipeline, err := e.Store.FindPipeline(pipelineID)
	if err != nil {
		return wrapStore(err)
	}

	sinkIDs, err := e.Store.SinkJobIDs(pipelineID)
	if err != nil {
		return wrapStore(err)
	}

	status := store.StatusSucceeded
	for _, id := range sinkIDs {
		job, err := e.Store.FindJob(id)
		if err != nil {
			return wrapStore(err)
		}
		if e.effectiveJobStatus(ctx, pipelineID, id, job.Status) == store.StatusFailed {
			status = store.StatusFailed
			break
		}
	}

	now := e.Now()
	pipeline.Status = status
	pipeline.StatusChangedAt = &now
	if err := wrapStore(e.Store.UpdatePipelineStatus(pipelineID, status, &now)); err != nil {
		return err
	}

	if e.Mailer != nil {
		notice := PipelineNotice{
			ID:         pipeline.ID,
			Name:       pipeline.Name,
			Status:     string(status),
			Recipients: pipeline.Recipients(),
		}
		return e.Mailer.FinishedPipeline(ctx, notice)
	}
	return nil
}
