package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/cache"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// Tracker answers progress queries. Reads go through a short-lived cache;
// the store stays the source of truth and a cache failure only costs a
// database round trip.
type Tracker struct {
	Store *repository.Store
	Cache cache.ProgressCache
	Log   zerolog.Logger
}

func NewTracker(store *repository.Store, c cache.ProgressCache, log zerolog.Logger) *Tracker {
	if c == nil {
		c = cache.NoopCache{}
	}
	return &Tracker{Store: store, Cache: c, Log: log}
}

// CampaignProgress returns the campaign's counters and per-status batch
// counts as one snapshot.
func (t *Tracker) CampaignProgress(ctx context.Context, campaignID string) (*model.CampaignProgress, error) {
	cached, ok, err := t.Cache.GetCampaign(ctx, campaignID)
	t.observe(err, ok, campaignID)
	if ok {
		return cached, nil
	}
	gen, genErr := t.generation(ctx, campaignID)

	c, err := t.Store.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	batches, err := t.Store.Batches.ListBatches(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	var tally model.BatchTally
	for _, b := range batches {
		tally.Add(b.Status)
	}
	p := &model.CampaignProgress{
		CampaignID:       c.ID,
		Status:           c.Status,
		TotalEmails:      c.TotalEmails,
		EmailsSent:       c.EmailsSent,
		BatchCount:       c.BatchCount,
		BatchesCompleted: tally.Completed,
		BatchesFailed:    tally.Failed,
		BatchesSending:   tally.Sending,
		ObservedAt:       time.Now().UTC(),
	}
	if genErr == nil {
		if err := t.Cache.SetCampaign(ctx, p, gen); err != nil {
			t.Log.Warn().Err(err).Str("campaign_id", campaignID).Msg("progress cache write failed")
		}
	}
	return p, nil
}

// BatchProgress reads one batch straight from the store.
func (t *Tracker) BatchProgress(ctx context.Context, campaignID string, batchNumber int) (*model.BatchProgress, error) {
	b, err := t.Store.Batches.GetBatch(ctx, campaignID, batchNumber)
	if err != nil {
		return nil, err
	}
	p := model.NewBatchProgress(b)
	return &p, nil
}

// ListBatchProgress returns every batch of the campaign in batch order.
func (t *Tracker) ListBatchProgress(ctx context.Context, campaignID string) ([]model.BatchProgress, error) {
	cached, ok, err := t.Cache.GetBatches(ctx, campaignID)
	t.observe(err, ok, campaignID)
	if ok {
		return cached, nil
	}
	gen, genErr := t.generation(ctx, campaignID)

	if _, err := t.Store.Campaigns.GetByID(ctx, campaignID); err != nil {
		return nil, err
	}
	batches, err := t.Store.Batches.ListBatches(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	out := make([]model.BatchProgress, len(batches))
	for i, b := range batches {
		out[i] = model.NewBatchProgress(b)
	}
	if genErr == nil {
		if err := t.Cache.SetBatches(ctx, campaignID, out, gen); err != nil {
			t.Log.Warn().Err(err).Str("campaign_id", campaignID).Msg("progress cache write failed")
		}
	}
	return out, nil
}

// generation must be read before the store: a snapshot is only cached if no
// state change was published while it was being loaded.
func (t *Tracker) generation(ctx context.Context, campaignID string) (int64, error) {
	gen, err := t.Cache.Generation(ctx, campaignID)
	if err != nil {
		t.Log.Warn().Err(err).Str("campaign_id", campaignID).Msg("progress cache generation read failed; not caching")
	}
	return gen, err
}

// Invalidate drops cached snapshots after a state change.
func (t *Tracker) Invalidate(ctx context.Context, campaignID string) {
	if err := t.Cache.Invalidate(ctx, campaignID); err != nil {
		t.Log.Warn().Err(err).Str("campaign_id", campaignID).Msg("progress cache invalidate failed")
	}
}

func (t *Tracker) observe(err error, hit bool, campaignID string) {
	switch {
	case err != nil:
		metrics.ProgressCache.WithLabelValues("error").Inc()
		t.Log.Warn().Err(err).Str("campaign_id", campaignID).Msg("progress cache read failed")
	case hit:
		metrics.ProgressCache.WithLabelValues("hit").Inc()
	default:
		metrics.ProgressCache.WithLabelValues("miss").Inc()
	}
}
