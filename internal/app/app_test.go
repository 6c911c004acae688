package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Store = "memory"
	cfg.Provider = "log"
	cfg.RatePerSecond = 1000
	cfg.BatchSize = 2
	cfg.BatchTimeout = time.Minute
	cfg.RabbitConfig.Queue = "batch_sends"
	return cfg
}

func TestNew_MemoryStackSendsQueuedBatch(t *testing.T) {
	ctx := context.Background()
	a, err := app.New(ctx, memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Queue.(*queue.InMemoryQueue)
	require.True(t, ok)
	assert.NoError(t, a.Ready(ctx))

	c, err := a.Campaigns.CreateCampaign(ctx, "Spring", "", nil, "")
	require.NoError(t, err)
	_, err = a.Campaigns.ProcessCampaign(ctx, c.ID, []*model.Recipient{
		{CustomerEmail: "a@example.com"},
		{CustomerEmail: "b@example.com"},
		{CustomerEmail: "c@example.com"},
	}, 0)
	require.NoError(t, err)

	_, err = a.Campaigns.EnqueueBatch(ctx, c.ID, 1)
	require.NoError(t, err)
	_, err = a.Campaigns.EnqueueBatch(ctx, c.ID, 2)
	require.NoError(t, err)

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Drain(drainCtx))

	got, err := a.Store.Campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, got.Status)
	assert.Equal(t, 3, got.EmailsSent)
}
