package cache

import (
	"context"
	"sync"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache is an in-process Cache used to exercise Counters/TaskNameList
// without a Redis instance.
type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache {
	return &memCache{data: map[string]string{}}
}

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

func (m *memCache) Update(ctx context.Context, key string, fn UpdateFunc) error {
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

func TestCountersIncrementSeedsFromDBOnMiss(t *testing.T) {
	c := Counters{Cache: newMemCache()}
	ctx := context.Background()

	require.NoError(t, c.Increment(ctx, "k", 4))
	n, err := c.GetInt(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, c.Increment(ctx, "k", 4))
	n, err = c.GetInt(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestCountersIncrementNoSeedStartsAtOne(t *testing.T) {
	c := Counters{Cache: newMemCache()}
	ctx := context.Background()

	require.NoError(t, c.Increment(ctx, "k", 0))
	n, err := c.GetInt(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountersDecrementClampsAtZero(t *testing.T) {
	c := Counters{Cache: newMemCache()}
	ctx := context.Background()

	require.NoError(t, c.Decrement(ctx, "k", 0))
	n, err := c.GetInt(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, c.SetInt(ctx, "k", 1))
	require.NoError(t, c.Decrement(ctx, "k", 0))
	n, err = c.GetInt(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCountersDecrementSeedsFromDBOnMiss(t *testing.T) {
	c := Counters{Cache: newMemCache()}
	ctx := context.Background()

	require.NoError(t, c.Decrement(ctx, "k", 3))
	n, err := c.GetInt(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTaskNameListAppendAndRemove(t *testing.T) {
	l := TaskNameList{Cache: newMemCache()}
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "tasks", "a"))
	require.NoError(t, l.Append(ctx, "tasks", "b"))

	names, err := l.All(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, l.Remove(ctx, "tasks", "a"))
	names, err = l.All(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestTaskNameListSetResetsToEmpty(t *testing.T) {
	l := TaskNameList{Cache: newMemCache()}
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "tasks", "a"))
	require.NoError(t, l.Set(ctx, "tasks", nil))

	names, err := l.All(ctx, "tasks")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestPipelineAndJobKeyLayout(t *testing.T) {
	assert.Equal(t, "3_status", PipelineKey(3, KeyStatus))
	assert.Equal(t, "3_7_status", JobKey(3, 7, KeyStatus))
}
