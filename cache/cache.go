// Package cache implements the pipeline-scoped counter and list protocol (C3)
// that reconciles asynchronous worker callbacks against persisted state.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/redis/go-redis/v9"
)

// Key suffixes recognized per pipeline, see §4.3 / §6.
const (
	KeyStatus               = "status"
	KeyEnqueuedTasks        = "enqueued_tasks"
	KeyListOfTasksEnqueued  = "list_of_tasks_enqueued"
	KeyFailedJobs           = "failed_jobs"
	KeyRemainingJobs        = "remaining_jobs"
)

// ErrUnreachable wraps CacheFailure conditions (§7).
var ErrUnreachable = errors.New("cache unreachable")

// UpdateFunc transforms the current value of a key (nil if absent) into its
// new value. It must be pure and side-effect free; Cache.Update applies it
// atomically with respect to other updaters of the same key.
type UpdateFunc func(current []byte) (next []byte, err error)

// Cache is the C3 contract: advisory persistence for live coordination
// state, always readable with a fallback to the database.
type Cache interface {
	// Set writes value unconditionally.
	Set(ctx context.Context, key string, value string) error
	// Get returns the raw value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Update applies fn atomically; if the key is absent, current is nil.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// PipelineKey builds the "<pipeline_id>_<suffix>" key layout from §6.
func PipelineKey(pipelineID uint, suffix string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(pipelineID), 10))
	b.WriteByte('_')
	b.WriteString(suffix)
	return b.String()
}

// JobKey builds the "<pipeline_id>_<job_id>_<suffix>" key layout from §6.
func JobKey(pipelineID, jobID uint, suffix string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(pipelineID), 10))
	b.WriteByte('_')
	b.WriteString(strconv.FormatUint(uint64(jobID), 10))
	b.WriteByte('_')
	b.WriteString(suffix)
	return b.String()
}

// RedisCache is the default Cache, backed by a single redis.Client shared
// with the dispatch package's task queue (see dispatch.RedisQueue).
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache wraps an existing *redis.Client. ttl is applied to every
// write as a safety net so a crashed pipeline doesn't wedge keys forever;
// pass 0 to disable expiry.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Set(ctx context.Context, key string, value string) error {
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return errors.Wrap(ErrUnreachable, err.Error())
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(ErrUnreachable, err.Error())
	}
	return val, true, nil
}

// Update serializes concurrent mutators of key using redis optimistic
// locking (WATCH/MULTI), matching the "atomic update-by-function" primitive
// required by §4.3. It retries on a watch conflict.
func (c *RedisCache) Update(ctx context.Context, key string, fn UpdateFunc) error {
	for attempt := 0; attempt < 10; attempt++ {
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			var current []byte
			val, err := tx.Get(ctx, key).Result()
			switch {
			case errors.Is(err, redis.Nil):
				current = nil
			case err != nil:
				return err
			default:
				current = []byte(val)
			}

			next, err := fn(current)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, c.ttl)
				return nil
			})
			return err
		}, key)

		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return errors.Wrap(ErrUnreachable, err.Error())
	}
	return errors.Wrap(ErrUnreachable, "update retry budget exceeded")
}

// Counters provides the typed increment/decrement primitives of §4.3 on top
// of a Cache. They are not part of the Cache interface itself because they
// encode the seed-fallback policy, which is a C3 protocol concern rather
// than a cache storage concern.
type Counters struct {
	Cache Cache
}

// Increment implements "increment(key, db_seed)": current+1 if present,
// else db_seed+1 if db_seed else 1.
func (c Counters) Increment(ctx context.Context, key string, dbSeed int) error {
	return c.Cache.Update(ctx, key, func(current []byte) ([]byte, error) {
		if current != nil {
			n, err := strconv.Atoi(string(current))
			if err != nil {
				n = 0
			}
			return itoa(n + 1), nil
		}
		if dbSeed != 0 {
			return itoa(dbSeed + 1), nil
		}
		return itoa(1), nil
	})
}

// Decrement implements "decrement(key, db_seed)": current-1 if present
// (clamped at 0), else db_seed-1 if db_seed else 0.
func (c Counters) Decrement(ctx context.Context, key string, dbSeed int) error {
	return c.Cache.Update(ctx, key, func(current []byte) ([]byte, error) {
		if current != nil {
			n, err := strconv.Atoi(string(current))
			if err != nil {
				n = 0
			}
			if n <= 0 {
				return itoa(0), nil
			}
			return itoa(n - 1), nil
		}
		if dbSeed != 0 {
			v := dbSeed - 1
			if v < 0 {
				v = 0
			}
			return itoa(v), nil
		}
		return itoa(0), nil
	})
}

// GetInt reads a counter key, falling back to def on a cache miss.
func (c Counters) GetInt(ctx context.Context, key string, def int) (int, error) {
	val, ok, err := c.Cache.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// SetInt writes a counter key unconditionally (used by get_ready resets).
func (c Counters) SetInt(ctx context.Context, key string, value int) error {
	return c.Cache.Set(ctx, key, strconv.Itoa(value))
}

// TaskNameList provides the append/filter-out list operations for
// list_of_tasks_enqueued (§4.3).
type TaskNameList struct {
	Cache Cache
}

func (l TaskNameList) Append(ctx context.Context, key string, taskName string) error {
	return l.Cache.Update(ctx, key, func(current []byte) ([]byte, error) {
		var names []string
		if current != nil {
			if err := json.Unmarshal(current, &names); err != nil {
				names = nil
			}
		}
		names = append(names, taskName)
		return json.Marshal(names)
	})
}

func (l TaskNameList) Remove(ctx context.Context, key string, taskName string) error {
	return l.Cache.Update(ctx, key, func(current []byte) ([]byte, error) {
		var names []string
		if current != nil {
			if err := json.Unmarshal(current, &names); err != nil {
				names = nil
			}
		}
		kept := names[:0:0]
		for _, n := range names {
			if n != taskName {
				kept = append(kept, n)
			}
		}
		return json.Marshal(kept)
	})
}

func (l TaskNameList) All(ctx context.Context, key string) ([]string, error) {
	val, ok, err := l.Cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(val), &names); err != nil {
		return nil, nil
	}
	return names, nil
}

func (l TaskNameList) Set(ctx context.Context, key string, names []string) error {
	if names == nil {
		names = []string{}
	}
	b, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return l.Cache.Set(ctx, key, string(b))
}

func itoa(n int) []byte {
	return []byte(strconv.Itoa(n))
}
