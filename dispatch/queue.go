// Package dispatch is the C7 dispatch bridge: the outbound side submits a
// worker class and its resolved params onto a Redis list for an external
// worker fleet to BLPOP, the inbound side receives that fleet's
// worker_succeeded/worker_failed/enqueue_additional callbacks and replays
// them onto the core engine. The queue reuses the same go-redis client as
// the C3 cache, one redis.Client shared between the queue's list
// operations and the cache's key/value operations.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"networkteam.com/lab/pipelinecore/core"
	"networkteam.com/lab/pipelinecore/core/errs"
)

const (
	// taskQueueKey is the Redis list workers BLPOP against.
	taskQueueKey = "pipelinecore:tasks"
	// seenTasksKey is a set of task names already submitted, guarding the
	// enqueue-is-idempotent requirement against process crashes and retries.
	seenTasksKey = "pipelinecore:tasks:seen"
	// seenTasksTTL is the expiry of the whole seenTasksKey set, refreshed
	// on every new submission; a name stays remembered until the set itself
	// expires after this long without a new submission.
	seenTasksTTL = 7 * 24 * time.Hour
)

// task is the wire payload pushed onto taskQueueKey.
type task struct {
	PipelineID  uint                   `json:"pipeline_id"`
	JobID       uint                   `json:"job_id"`
	WorkerClass string                 `json:"worker_class"`
	Params      map[string]interface{} `json:"params"`
	TaskName    string                 `json:"task_name"`
	NotBefore   time.Time              `json:"not_before,omitempty"`
}

// RedisQueue implements core.TaskQueue over a Redis list.
type RedisQueue struct {
	Client *redis.Client
}

// Enqueue implements core.TaskQueue. A task name already present in
// seenTasksKey is reported as errs.ErrDuplicateTask rather than resubmitted.
func (q *RedisQueue) Enqueue(ctx context.Context, req core.EnqueueRequest) error {
	added, err := q.Client.SAdd(ctx, seenTasksKey, req.TaskName).Result()
	if err != nil {
		return errs.WrapQueueFailure(err)
	}
	if added == 0 {
		return errs.ErrDuplicateTask
	}
	q.Client.Expire(ctx, seenTasksKey, seenTasksTTL)

	t := task{
		PipelineID:  req.PipelineID,
		JobID:       req.JobID,
		WorkerClass: req.WorkerClass,
		Params:      req.WorkerParams,
		TaskName:    req.TaskName,
	}
	if req.Delay > 0 {
		t.NotBefore = time.Now().Add(req.Delay)
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return errs.WrapQueueFailure(err)
	}

	key := taskQueueKey
	if req.Delay > 0 {
		key = taskQueueKey + ":delayed"
	}
	if err := q.Client.RPush(ctx, key, payload).Err(); err != nil {
		return errs.WrapQueueFailure(err)
	}
	return nil
}
