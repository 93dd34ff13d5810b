package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apex/log"
	"github.com/redis/go-redis/v9"

	"networkteam.com/lab/pipelinecore/core"
	"networkteam.com/lab/pipelinecore/core/errs"
	"networkteam.com/lab/pipelinecore/store"
)

// Bridge owns the worker-callback side of the dispatch contract (§6): a
// worker class finishes and calls back worker_succeeded, worker_failed or
// enqueue_additional, identifying itself by pipeline, job and task name.
type Bridge struct {
	Store  *store.Store
	Engine *core.Engine
	// Audit records every callback payload for later inspection (all
	// enqueue_additional payloads of a job share the task name
	// "additional"); nil disables auditing.
	Audit *AuditLog
}

func (b *Bridge) record(jobID uint, taskName, outcome string, payload interface{}) {
	if b.Audit == nil {
		return
	}
	w, err := b.Audit.Writer(jobID, taskName, outcome)
	if err != nil {
		log.WithError(err).WithField("component", "dispatch").Warn("failed to open audit writer")
		return
	}
	defer w.Close()
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).WithField("component", "dispatch").Warn("failed to write audit entry")
	}
}

// WorkerSucceeded implements the worker_succeeded callback.
func (b *Bridge) WorkerSucceeded(ctx context.Context, pipelineID, jobID uint, taskName string) error {
	b.record(jobID, taskName, "succeeded", map[string]interface{}{"pipeline_id": pipelineID, "job_id": jobID, "task_name": taskName})

	job, err := b.Store.FindJob(jobID)
	if err != nil {
		return errs.WrapStoreFailure(err)
	}
	if job.PipelineID != pipelineID {
		return errs.ErrInvalidTransition
	}
	return b.Engine.WorkerSucceeded(ctx, job, taskName)
}

// WorkerFailed implements the worker_failed callback.
func (b *Bridge) WorkerFailed(ctx context.Context, pipelineID, jobID uint, taskName string) error {
	b.record(jobID, taskName, "failed", map[string]interface{}{"pipeline_id": pipelineID, "job_id": jobID, "task_name": taskName})

	job, err := b.Store.FindJob(jobID)
	if err != nil {
		return errs.WrapStoreFailure(err)
	}
	if job.PipelineID != pipelineID {
		return errs.ErrInvalidTransition
	}
	return b.Engine.WorkerFailed(ctx, job, taskName)
}

// EnqueueAdditional implements the enqueue_additional callback (§4.7): a
// running worker asks for one more task under the same job, optionally of a
// different worker class than its own, e.g. to chain a distinct class once
// it discovers at runtime that one is needed.
func (b *Bridge) EnqueueAdditional(ctx context.Context, pipelineID, jobID uint, workerClass string, params map[string]interface{}, delaySeconds int) error {
	b.record(jobID, "additional", "enqueue_additional", map[string]interface{}{"pipeline_id": pipelineID, "job_id": jobID, "worker_class": workerClass, "params": params, "delay": delaySeconds})

	job, err := b.Store.FindJob(jobID)
	if err != nil {
		return errs.WrapStoreFailure(err)
	}
	if job.PipelineID != pipelineID {
		return errs.ErrInvalidTransition
	}
	return b.Engine.Enqueue(ctx, job, workerClass, params, delaySeconds)
}

// DelayedRequeuer periodically moves delayed tasks from a holding list back
// onto the main queue once their NotBefore time has passed. Workers that
// don't understand delay simply never see a task before it's due.
type DelayedRequeuer struct {
	Client *redis.Client
}

// Run blocks, polling the queue for delayed entries until ctx is canceled.
// Delayed tasks are rare (only enqueue with Delay > 0 produces one), so a
// coarse poll loop is adequate; there is no need for a second blocking
// BLPOP-style primitive here.
func (r *DelayedRequeuer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.releaseDue(ctx)
		}
	}
}

func (r *DelayedRequeuer) releaseDue(ctx context.Context) {
	raw, err := r.Client.LRange(ctx, taskQueueKey+":delayed", 0, -1).Result()
	if err != nil && err != redis.Nil {
		log.WithError(err).WithField("component", "dispatch").Warn("failed to scan delayed tasks")
		return
	}

	for _, payload := range raw {
		var t task
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			continue
		}
		if time.Now().Before(t.NotBefore) {
			continue
		}
		if err := r.Client.LRem(ctx, taskQueueKey+":delayed", 1, payload).Err(); err != nil {
			continue
		}
		if err := r.Client.RPush(ctx, taskQueueKey, payload).Err(); err != nil {
			log.WithError(err).WithField("component", "dispatch").Warn("failed to release delayed task")
		}
	}
}
