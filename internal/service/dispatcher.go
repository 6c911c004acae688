package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/transport"
)

const DefaultBatchTimeout = 10 * time.Minute

// TestSubjectPrefix marks emails sent to test users.
const TestSubjectPrefix = "[TEST] "

// Dispatcher sends one batch at a time and records every outcome.
type Dispatcher struct {
	Store    *repository.Store
	Renderer *Renderer
	Sender   transport.Sender
	Tracker  *Tracker
	Timeout  time.Duration
	Log      zerolog.Logger
}

// BatchResult summarizes one SendBatch run.
type BatchResult struct {
	CampaignID   string            `json:"campaign_id"`
	BatchNumber  int               `json:"batch_number"`
	Status       model.BatchStatus `json:"status"`
	Attempted    int               `json:"attempted"`
	Sent         int               `json:"sent"`
	Failed       int               `json:"failed"`
	Unattempted  int               `json:"unattempted"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Batch        *model.Batch      `json:"batch"`
}

// SendBatch claims a ready batch, delivers to each unsent recipient in order
// and finishes the batch as completed or failed. A per-recipient delivery
// failure is recorded and the loop moves on. A transport outage stops the
// loop after the current recipient; the batch is finished as failed and the
// outage is returned alongside the result.
//
// The run is detached from ctx cancellation. It is bounded by Timeout
// instead, after which remaining recipients are left unsent.
func (d *Dispatcher) SendBatch(ctx context.Context, campaignID string, batchNumber int) (*BatchResult, error) {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	log := d.Log.With().Str("campaign_id", campaignID).Int("batch_number", batchNumber).Logger()

	batch, err := d.Store.Batches.ClaimBatch(ctx, campaignID, batchNumber)
	if err != nil {
		return nil, err
	}
	d.invalidate(ctx, campaignID)
	log.Info().Int("batch_size", batch.BatchSize).Msg("batch claimed")

	// The campaign is read after the claim: from here on its template
	// config can no longer change.
	campaign, err := d.Store.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, d.abort(ctx, log, batch, fmt.Errorf("load campaign: %w", err))
	}
	recipients, err := d.Store.Recipients.ListUnsent(ctx, campaignID, batchNumber)
	if err != nil {
		return nil, d.abort(ctx, log, batch, fmt.Errorf("load recipients: %w", err))
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := &BatchResult{CampaignID: campaignID, BatchNumber: batchNumber}
	var transportErr, storeErr error
	timedOut := false

	for i, rec := range recipients {
		if runCtx.Err() != nil {
			timedOut = true
			res.Unattempted = len(recipients) - i
			break
		}

		sendErr := d.deliver(runCtx, campaign, rec)
		if sendErr != nil && (runCtx.Err() != nil || errors.Is(sendErr, context.DeadlineExceeded)) {
			timedOut = true
			res.Unattempted = len(recipients) - i
			break
		}
		res.Attempted++

		if sendErr == nil {
			if _, err := d.Store.Recipients.RecordDelivery(ctx, campaignID, rec.RecordID); err != nil {
				storeErr = fmt.Errorf("record delivery of %s: %w", rec.RecordID, err)
				res.Unattempted = len(recipients) - i - 1
				break
			}
			res.Sent++
			metrics.EmailsDispatched.WithLabelValues("sent").Inc()
			continue
		}

		res.Failed++
		metrics.EmailsDispatched.WithLabelValues("failed").Inc()
		log.Warn().Err(sendErr).Str("record_id", rec.RecordID).Msg("recipient delivery failed")
		if err := d.Store.Recipients.RecordFailure(ctx, campaignID, rec.RecordID, sendErr.Error()); err != nil {
			log.Error().Err(err).Str("record_id", rec.RecordID).Msg("failed to record delivery failure")
		}

		if appErrors.IsTransportUnavailable(sendErr) {
			transportErr = sendErr
			res.Unattempted = len(recipients) - i - 1
			break
		}
	}
	if res.Unattempted > 0 {
		metrics.EmailsDispatched.WithLabelValues("skipped").Add(float64(res.Unattempted))
	}

	outcome := model.BatchOutcome{Status: model.BatchCompleted, FailedEmails: res.Failed}
	if res.Failed > 0 || res.Unattempted > 0 || storeErr != nil {
		outcome.Status = model.BatchFailed
		outcome.ErrorMessage = failureMessage(batch.BatchSize, res, transportErr, storeErr, timedOut, timeout)
	}

	finished, err := d.Store.Batches.FinishBatch(ctx, campaignID, batchNumber, outcome)
	d.invalidate(ctx, campaignID)
	if err != nil {
		log.Error().Err(err).Msg("failed to finish batch; it stays in sending until reset")
		return nil, err
	}

	res.Status = finished.Status
	res.ErrorMessage = finished.ErrorMessage
	res.Batch = finished
	metrics.BatchesFinished.WithLabelValues(string(finished.Status)).Inc()
	metrics.BatchDuration.Observe(time.Since(started).Seconds())

	log.Info().
		Str("status", string(finished.Status)).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("unattempted", res.Unattempted).
		Dur("elapsed", time.Since(started)).
		Msg("batch finished")

	if storeErr != nil {
		return res, storeErr
	}
	if transportErr != nil {
		return res, transportErr
	}
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, c *model.Campaign, rec *model.Recipient) error {
	email, err := d.Renderer.Render(c.BaseTemplate, c.TemplateConfig, rec)
	if err != nil {
		return appErrors.NewDeliveryFailure(rec.CustomerEmail, err)
	}
	return d.Sender.Send(ctx, transport.Message{
		To:       email.To,
		ToName:   email.ToName,
		Subject:  email.Subject,
		HTMLBody: email.HTMLBody,
	})
}

// abort fails a claimed batch that could not even start sending.
func (d *Dispatcher) abort(ctx context.Context, log zerolog.Logger, b *model.Batch, cause error) error {
	_, err := d.Store.Batches.FinishBatch(ctx, b.CampaignID, b.BatchNumber, model.BatchOutcome{
		Status:       model.BatchFailed,
		ErrorMessage: fmt.Sprintf("batch aborted before sending: %v", cause),
	})
	d.invalidate(ctx, b.CampaignID)
	if err != nil {
		log.Error().Err(err).Msg("failed to mark aborted batch as failed")
	}
	log.Error().Err(cause).Msg("batch aborted")
	return cause
}

func (d *Dispatcher) invalidate(ctx context.Context, campaignID string) {
	if d.Tracker != nil {
		d.Tracker.Invalidate(ctx, campaignID)
	}
}

func failureMessage(batchSize int, res *BatchResult, transportErr, storeErr error, timedOut bool, timeout time.Duration) string {
	parts := []string{}
	if res.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d of %d emails failed to send", res.Failed, batchSize))
	}
	switch {
	case transportErr != nil:
		parts = append(parts, fmt.Sprintf("email transport unavailable, %d emails not attempted", res.Unattempted))
	case timedOut:
		parts = append(parts, fmt.Sprintf("batch timed out after %s, %d emails not attempted", timeout, res.Unattempted))
	case storeErr != nil:
		parts = append(parts, fmt.Sprintf("stopped on storage error, %d emails not attempted", res.Unattempted))
	}
	return strings.Join(parts, "; ")
}

// TestSendResult reports one test dispatch.
type TestSendResult struct {
	CampaignID string            `json:"campaign_id"`
	Sent       int               `json:"sent"`
	Failed     int               `json:"failed"`
	Deliveries []TestSendOutcome `json:"deliveries"`
}

type TestSendOutcome struct {
	Email string `json:"email"`
	Sent  bool   `json:"sent"`
	Error string `json:"error,omitempty"`
}

// SendTest renders the campaign for every active test user and sends it to
// them. No batch or recipient state is touched.
func (d *Dispatcher) SendTest(ctx context.Context, campaignID string) (*TestSendResult, error) {
	log := d.Log.With().Str("campaign_id", campaignID).Logger()

	campaign, err := d.Store.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	users, err := d.Store.TestUsers.ListTestUsers(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, appErrors.NewInvalidState("no active test users configured")
	}

	recipients := make([]*model.Recipient, len(users))
	for i, u := range users {
		recipients[i] = u.AsRecipient(campaignID, i+1)
	}
	if err := enrichFromSchools(ctx, d.Store.Schools, recipients); err != nil {
		log.Warn().Err(err).Msg("school lookup failed; sending test emails without school data")
	}

	res := &TestSendResult{CampaignID: campaignID, Deliveries: []TestSendOutcome{}}
	for _, rec := range recipients {
		out := TestSendOutcome{Email: rec.CustomerEmail}
		email, err := d.Renderer.Render(campaign.BaseTemplate, campaign.TemplateConfig, rec)
		if err == nil {
			err = d.Sender.Send(ctx, transport.Message{
				To:       email.To,
				ToName:   email.ToName,
				Subject:  TestSubjectPrefix + email.Subject,
				HTMLBody: email.HTMLBody,
			})
		}

		if err == nil {
			out.Sent = true
			res.Sent++
			metrics.TestEmails.WithLabelValues("sent").Inc()
		} else {
			out.Error = err.Error()
			res.Failed++
			metrics.TestEmails.WithLabelValues("failed").Inc()
		}
		res.Deliveries = append(res.Deliveries, out)

		if appErrors.IsTransportUnavailable(err) {
			log.Error().Err(err).Msg("test send stopped: transport unavailable")
			return res, err
		}
	}

	log.Info().Int("sent", res.Sent).Int("failed", res.Failed).Msg("test emails dispatched")
	return res, nil
}
