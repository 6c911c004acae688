package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// ProgressCache holds short-lived progress snapshots so that many pollers
// of one campaign share a single database read.
//
// Every Invalidate bumps the campaign's generation. A reader takes the
// generation before loading the store and passes it to Set; the write is
// dropped if the generation moved in between, so a snapshot loaded before
// a state change is never cached after it.
type ProgressCache interface {
	Generation(ctx context.Context, campaignID string) (int64, error)
	GetCampaign(ctx context.Context, campaignID string) (*model.CampaignProgress, bool, error)
	SetCampaign(ctx context.Context, p *model.CampaignProgress, gen int64) error
	GetBatches(ctx context.Context, campaignID string) ([]model.BatchProgress, bool, error)
	SetBatches(ctx context.Context, campaignID string, batches []model.BatchProgress, gen int64) error
	Invalidate(ctx context.Context, campaignID string) error
}

// generationTTL outlives any in-flight progress read by a wide margin.
const generationTTL = time.Hour

// RedisProgressCache stores snapshots as JSON with a TTL. Writes are
// dropped when the generation moved, and never replace a snapshot that
// reports more sent emails.
type RedisProgressCache struct {
	Redis *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewRedisProgressCache connects using a redis:// URL and pings the server.
func NewRedisProgressCache(ctx context.Context, redisURL string, ttl time.Duration, log zerolog.Logger) (*RedisProgressCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed connecting to redis: %w", err)
	}

	log.Info().Msg("redis progress cache connected")
	return NewRedisProgressCacheWithClient(client, ttl, log), nil
}

func NewRedisProgressCacheWithClient(client *redis.Client, ttl time.Duration, log zerolog.Logger) *RedisProgressCache {
	return &RedisProgressCache{Redis: client, ttl: ttl, log: log}
}

func (c *RedisProgressCache) Close() error {
	return c.Redis.Close()
}

func campaignKey(id string) string { return "progress:campaign:" + id }
func batchesKey(id string) string  { return "progress:batches:" + id }
func genKey(id string) string      { return "progress:gen:" + id }

func (c *RedisProgressCache) get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.Redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next set.
		c.log.Warn().Err(err).Str("key", key).Msg("dropping unreadable progress snapshot")
		return false, nil
	}
	return true, nil
}

func (c *RedisProgressCache) Generation(ctx context.Context, campaignID string) (int64, error) {
	gen, err := c.Redis.Get(ctx, genKey(campaignID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// setGuarded writes payload unless the campaign's generation is no longer
// gen or the cached entry reports more sent emails than sent. A concurrent
// writer winning the WATCH race is fine.
func (c *RedisProgressCache) setGuarded(ctx context.Context, campaignID, key string, gen int64, payload []byte, sent int, sentOf func([]byte) (int, error)) error {
	err := c.Redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey(campaignID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}

		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if prev, perr := sentOf(raw); perr == nil && prev > sent {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, c.ttl)
			return nil
		})
		return err
	}, genKey(campaignID), key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisProgressCache) GetCampaign(ctx context.Context, campaignID string) (*model.CampaignProgress, bool, error) {
	var p model.CampaignProgress
	ok, err := c.get(ctx, campaignKey(campaignID), &p)
	if !ok || err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (c *RedisProgressCache) SetCampaign(ctx context.Context, p *model.CampaignProgress, gen int64) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.setGuarded(ctx, p.CampaignID, campaignKey(p.CampaignID), gen, payload, p.EmailsSent, func(raw []byte) (int, error) {
		var prev model.CampaignProgress
		err := json.Unmarshal(raw, &prev)
		return prev.EmailsSent, err
	})
}

func (c *RedisProgressCache) GetBatches(ctx context.Context, campaignID string) ([]model.BatchProgress, bool, error) {
	var batches []model.BatchProgress
	ok, err := c.get(ctx, batchesKey(campaignID), &batches)
	if !ok || err != nil {
		return nil, false, err
	}
	return batches, true, nil
}

func sumSent(batches []model.BatchProgress) int {
	total := 0
	for _, b := range batches {
		total += b.EmailsSent
	}
	return total
}

func (c *RedisProgressCache) SetBatches(ctx context.Context, campaignID string, batches []model.BatchProgress, gen int64) error {
	payload, err := json.Marshal(batches)
	if err != nil {
		return err
	}
	return c.setGuarded(ctx, campaignID, batchesKey(campaignID), gen, payload, sumSent(batches), func(raw []byte) (int, error) {
		var prev []model.BatchProgress
		err := json.Unmarshal(raw, &prev)
		return sumSent(prev), err
	})
}

func (c *RedisProgressCache) Invalidate(ctx context.Context, campaignID string) error {
	_, err := c.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(campaignID))
		pipe.Expire(ctx, genKey(campaignID), generationTTL)
		pipe.Del(ctx, campaignKey(campaignID), batchesKey(campaignID))
		return nil
	})
	return err
}

// NoopCache is used when no Redis URL is configured.
type NoopCache struct{}

func (NoopCache) Generation(context.Context, string) (int64, error) { return 0, nil }
func (NoopCache) GetCampaign(context.Context, string) (*model.CampaignProgress, bool, error) {
	return nil, false, nil
}
func (NoopCache) SetCampaign(context.Context, *model.CampaignProgress, int64) error { return nil }
func (NoopCache) GetBatches(context.Context, string) ([]model.BatchProgress, bool, error) {
	return nil, false, nil
}
func (NoopCache) SetBatches(context.Context, string, []model.BatchProgress, int64) error { return nil }
func (NoopCache) Invalidate(context.Context, string) error                              { return nil }

var (
	_ ProgressCache = (*RedisProgressCache)(nil)
	_ ProgressCache = NoopCache{}
)
