package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicetrack/internal/cache"
	"voicetrack/internal/domain"
)

func sample() []domain.Stage {
	return []domain.Stage{{ID: "stage1", Tasks: []domain.Task{{ID: "task1", Order: 1, Status: domain.TaskInProgress}}}}
}

func TestStageCacheCopiesInAndOut(t *testing.T) {
	c, err := cache.NewStageCache(4)
	require.NoError(t, err)
	stages := sample()
	require.True(t, c.PutAt("p1", c.Epoch("p1"), stages))
	stages[0].Tasks[0].Status = domain.TaskApproved

	got, ok := c.Get("p1")
	require.True(t, ok)
	assert.Equal(t, domain.TaskInProgress, got[0].Tasks[0].Status)

	got[0].Tasks[0].Status = domain.TaskNotApproved
	again, _ := c.Get("p1")
	assert.Equal(t, domain.TaskInProgress, again[0].Tasks[0].Status)
}

func TestStageCacheInvalidateAndEvict(t *testing.T) {
	c, err := cache.NewStageCache(1)
	require.NoError(t, err)
	require.True(t, c.PutAt("p1", c.Epoch("p1"), sample()))
	require.True(t, c.PutAt("p2", c.Epoch("p2"), sample()))
	_, ok := c.Get("p1")
	assert.False(t, ok, "p1 should be evicted")
	c.Invalidate("p2")
	assert.Equal(t, 0, c.Len())
}

func TestNilStageCache(t *testing.T) {
	c, err := cache.NewStageCache(0)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.False(t, c.PutAt("p1", c.Epoch("p1"), sample()))
	_, ok := c.Get("p1")
	assert.False(t, ok)
	c.Invalidate("p1")
}

func TestPutAtDropsStaleLoads(t *testing.T) {
	c, err := cache.NewStageCache(4)
	require.NoError(t, err)
	epoch := c.Epoch("p1")
	c.Invalidate("p1")
	assert.False(t, c.PutAt("p1", epoch, sample()))
	_, ok := c.Get("p1")
	assert.False(t, ok)
	assert.True(t, c.PutAt("p1", c.Epoch("p1"), sample()))
}
