package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// Queue carries batch send jobs from the API to whatever runs the dispatcher.
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// BatchJob asks a worker to run sendBatch for one batch.
type BatchJob struct {
	CampaignID  string `json:"campaign_id"`
	BatchNumber int    `json:"batch_number"`
}

// DecodeBatchJob accepts the payload shapes the in-memory and AMQP queues
// hand to subscribers.
func DecodeBatchJob(payload any) (BatchJob, error) {
	var job BatchJob
	switch p := payload.(type) {
	case BatchJob:
		job = p
	case *BatchJob:
		if p == nil {
			return job, appErrors.NewInvalidInput("empty batch job")
		}
		job = *p
	case []byte:
		if err := json.Unmarshal(p, &job); err != nil {
			return job, appErrors.NewInvalidInput("malformed batch job: %v", err)
		}
	default:
		return job, appErrors.NewInvalidInput("unexpected batch job payload %T", payload)
	}
	if job.CampaignID == "" || job.BatchNumber < 1 {
		return job, appErrors.NewInvalidInput("batch job needs campaign_id and batch_number >= 1")
	}
	return job, nil
}

// InMemoryQueue runs subscribers on goroutines inside the API process.
// Failed jobs are retried with linear backoff unless the error is permanent.
type InMemoryQueue struct {
	MaxRetries int
	Backoff    time.Duration

	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	inflight sync.WaitGroup
	log      zerolog.Logger
}

func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		handlers:   make(map[string][]func(payload any) error),
		log:        log,
	}
}

type job struct {
	topic   string
	payload any
	attempt int
}

func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	for _, h := range handlers {
		q.inflight.Add(1)
		go q.process(h, job{topic: topic, payload: payload})
	}
	return nil
}

func (q *InMemoryQueue) process(handler func(payload any) error, j job) {
	defer q.inflight.Done()
	for {
		j.attempt++
		err := handler(j.payload)
		if err == nil {
			return
		}
		log := q.log.With().Str("topic", j.topic).Int("attempt", j.attempt).Err(err).Logger()
		if appErrors.IsPermanent(err) {
			log.Warn().Msg("job rejected, not retrying")
			return
		}
		if j.attempt > q.MaxRetries {
			log.Error().Msg("job failed after final retry")
			return
		}
		log.Warn().Msg("job failed, retrying")
		time.Sleep(time.Duration(j.attempt) * q.Backoff)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Drain waits for in-flight jobs, or until ctx is done.
func (q *InMemoryQueue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatchSender is the part of the dispatcher a subscriber needs.
type BatchSender func(ctx context.Context, campaignID string, batchNumber int) error

// BatchSendHandler turns queued jobs into sendBatch calls. A transport
// outage has already failed the batch, so it is not retried here: an
// operator resets the batch once the provider is back.
func BatchSendHandler(send BatchSender, log zerolog.Logger) func(payload any) error {
	return func(payload any) error {
		j, err := DecodeBatchJob(payload)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed batch job")
			return err
		}
		l := log.With().Str("campaign_id", j.CampaignID).Int("batch_number", j.BatchNumber).Logger()
		l.Info().Msg("processing queued batch")

		err = send(context.Background(), j.CampaignID, j.BatchNumber)
		switch {
		case err == nil:
			return nil
		case appErrors.IsTransportUnavailable(err):
			l.Error().Err(err).Msg("batch failed: transport unavailable")
			return nil
		case appErrors.IsPermanent(err):
			l.Warn().Err(err).Msg("batch job rejected")
			return err
		}
		l.Error().Err(err).Msg("batch job failed")
		return err
	}
}

// StartBatchSendSubscriber wires BatchSendHandler to topic.
func StartBatchSendSubscriber(q Queue, topic string, send BatchSender, log zerolog.Logger) error {
	if err := q.Subscribe(topic, BatchSendHandler(send, log)); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}
