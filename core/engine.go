// Package core implements the job (C4) and pipeline (C5) state machines,
// their shared counter reconciliation against cache (C3), and dependent
// propagation (§4.6). It is the DAG-driven heart of the system; everything
// else (store, cache, param, dispatch, mailer) is a collaborator it talks
// to through narrow interfaces rather than owning directly.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/friendsofgo/errors"

	"networkteam.com/lab/pipelinecore/cache"
	"networkteam.com/lab/pipelinecore/core/errs"
	"networkteam.com/lab/pipelinecore/param"
	"networkteam.com/lab/pipelinecore/store"
)

// Engine wires the Store, Cache, TaskQueue, Resolver and Mailer together and
// exposes the C4/C5 operations. A single mutex serializes StartPipeline,
// StopPipeline, StartSingleJob, StartJob, Run, Enqueue, Stop,
// WorkerSucceeded and WorkerFailed; PipelineGetReady, GetReady and
// PrepareForStart take no lock of their own. Correctness of the counters
// themselves comes from Cache.Update's atomicity (§5), the mutex only
// protects the in-process sequencing of store reads/writes around it.
type Engine struct {
	Store    *store.Store
	Cache    cache.Cache
	Queue    TaskQueue
	Resolver param.Resolver
	Mailer   Mailer
	Now      func() time.Time

	mu sync.Mutex
}

// NewEngine builds an Engine from its collaborators.
func NewEngine(st *store.Store, c cache.Cache, q TaskQueue, resolver param.Resolver, mailer Mailer) *Engine {
	return &Engine{
		Store:    st,
		Cache:    c,
		Queue:    q,
		Resolver: resolver,
		Mailer:   mailer,
		Now:      time.Now,
	}
}

func (e *Engine) counters() cache.Counters {
	return cache.Counters{Cache: e.Cache}
}

func (e *Engine) taskList() cache.TaskNameList {
	return cache.TaskNameList{Cache: e.Cache}
}

// effectiveJobStatus reads a job's status from cache, falling back to the
// persisted column on a cache miss (§3 "effective status").
func (e *Engine) effectiveJobStatus(ctx context.Context, pipelineID, jobID uint, dbStatus store.Status) store.Status {
	key := cache.JobKey(pipelineID, jobID, cache.KeyStatus)
	val, ok, err := e.Cache.Get(ctx, key)
	if err != nil {
		log.WithError(err).WithField("component", "core").
			WithField("job_id", jobID).Warn("cache read failed, falling back to store")
		return dbStatus
	}
	if !ok {
		return dbStatus
	}
	return store.Status(val)
}

func (e *Engine) setJobCacheStatus(ctx context.Context, pipelineID, jobID uint, status store.Status) error {
	key := cache.JobKey(pipelineID, jobID, cache.KeyStatus)
	if err := e.Cache.Set(ctx, key, string(status)); err != nil {
		return errs.WrapCacheFailure(err)
	}
	return nil
}

func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errs.ErrStoreFailure, err.Error())
}
