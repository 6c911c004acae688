package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// setupTestRedis creates a cache backed by miniredis
func setupTestRedis(t *testing.T) (*RedisProgressCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisProgressCacheWithClient(client, 2*time.Second, zerolog.Nop())
	t.Cleanup(func() {
		c.Close()
		mr.Close()
	})
	return c, mr
}

func TestRedisProgressCache_CampaignRoundTrip(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	_, ok, err := c.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetCampaign(ctx, &model.CampaignProgress{CampaignID: "c1", Status: model.CampaignSending, TotalEmails: 10, EmailsSent: 4}, 0))

	got, ok, err := c.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, got.EmailsSent)
	assert.Equal(t, model.CampaignSending, got.Status)
}

func TestRedisProgressCache_NeverStoresOlderSnapshot(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.SetCampaign(ctx, &model.CampaignProgress{CampaignID: "c1", EmailsSent: 7}, 0))
	require.NoError(t, c.SetCampaign(ctx, &model.CampaignProgress{CampaignID: "c1", EmailsSent: 5}, 0))

	got, _, _ := c.GetCampaign(ctx, "c1")
	assert.Equal(t, 7, got.EmailsSent)

	require.NoError(t, c.SetBatches(ctx, "c1", []model.BatchProgress{{BatchNumber: 1, EmailsSent: 3}, {BatchNumber: 2, EmailsSent: 2}}, 0))
	require.NoError(t, c.SetBatches(ctx, "c1", []model.BatchProgress{{BatchNumber: 1, EmailsSent: 1}}, 0))

	batches, ok, _ := c.GetBatches(ctx, "c1")
	require.True(t, ok)
	assert.Len(t, batches, 2)
}

func TestRedisProgressCache_TTLAndInvalidate(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.SetCampaign(ctx, &model.CampaignProgress{CampaignID: "c1", EmailsSent: 1}, 0))
	mr.FastForward(3 * time.Second)
	_, ok, _ := c.GetCampaign(ctx, "c1")
	assert.False(t, ok)

	require.NoError(t, c.SetBatches(ctx, "c1", []model.BatchProgress{{BatchNumber: 1}}, 0))
	require.NoError(t, c.Invalidate(ctx, "c1"))
	_, ok, _ = c.GetBatches(ctx, "c1")
	assert.False(t, ok)
}

func TestRedisProgressCache_CorruptEntryIsMiss(t *testing.T) {
	c, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("progress:campaign:c1", "{not json"))

	_, ok, err := c.GetCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisProgressCache_DropsSnapshotLoadedBeforeInvalidate(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	gen, err := c.Generation(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, gen)

	// the batch finishes while the reader is still loading
	require.NoError(t, c.Invalidate(ctx, "c1"))
	require.NoError(t, c.SetCampaign(ctx, &model.CampaignProgress{CampaignID: "c1", Status: model.CampaignSending, EmailsSent: 2}, gen))
	require.NoError(t, c.SetBatches(ctx, "c1", []model.BatchProgress{{BatchNumber: 1, Status: model.BatchSending, EmailsSent: 2}}, gen))

	_, ok, err := c.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.GetBatches(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err = c.Generation(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, gen)
	require.NoError(t, c.SetCampaign(ctx, &model.CampaignProgress{CampaignID: "c1", Status: model.CampaignCompleted, EmailsSent: 2}, gen))

	got, ok, err := c.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.CampaignCompleted, got.Status)
}
