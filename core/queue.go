package core

import (
	"context"
	"time"
)

// EnqueueRequest is the task queue contract payload (§6): a worker class to
// run, its resolved params, a globally unique task name and an optional
// delay before dispatch.
type EnqueueRequest struct {
	PipelineID   uint
	JobID        uint
	WorkerClass  string
	WorkerParams map[string]interface{}
	TaskName     string
	Delay        time.Duration
}

// TaskQueue is the C7 dispatch bridge's outbound contract: submit a named
// task for the external worker fleet. EnqueueRequest carries no target
// service or URL; dispatch.RedisQueue pushes the task onto a Redis list.
// Implementations must reject a duplicate TaskName as errs.ErrDuplicateTask
// (treated as success by callers), never as errs.ErrQueueFailure.
type TaskQueue interface {
	Enqueue(ctx context.Context, req EnqueueRequest) error
}

// Mailer raises the notification on pipeline terminal state (§1, §4.5).
type Mailer interface {
	FinishedPipeline(ctx context.Context, p PipelineNotice) error
}

// PipelineNotice is the minimal projection of a Pipeline a Mailer needs.
type PipelineNotice struct {
	ID         uint
	Name       string
	Status     string
	Recipients []string
}
