package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

func newTestQueue() *InMemoryQueue {
	q := NewInMemoryQueue(zerolog.Nop())
	q.Backoff = time.Millisecond
	return q
}

func drain(t *testing.T, q *InMemoryQueue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
}

func TestInMemoryQueue_RetriesTransientErrors(t *testing.T) {
	q := newTestQueue()
	var calls int32
	require.NoError(t, q.Subscribe("jobs", func(any) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("db connection reset")
		}
		return nil
	}))

	require.NoError(t, q.Publish("jobs", BatchJob{CampaignID: "c1", BatchNumber: 1}))
	drain(t, q)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestInMemoryQueue_StopsAfterMaxRetries(t *testing.T) {
	q := newTestQueue()
	q.MaxRetries = 2
	var calls int32
	require.NoError(t, q.Subscribe("jobs", func(any) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("still down")
	}))

	require.NoError(t, q.Publish("jobs", "x"))
	drain(t, q)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestInMemoryQueue_PermanentErrorIsNotRetried(t *testing.T) {
	q := newTestQueue()
	var calls int32
	require.NoError(t, q.Subscribe("jobs", func(any) error {
		atomic.AddInt32(&calls, 1)
		return appErrors.NewInvalidState("batch 1 is completed")
	}))

	require.NoError(t, q.Publish("jobs", "x"))
	drain(t, q)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestInMemoryQueue_PublishWithoutSubscriber(t *testing.T) {
	assert.Error(t, newTestQueue().Publish("nobody", 1))
}

func TestDecodeBatchJob(t *testing.T) {
	j, err := DecodeBatchJob([]byte(`{"campaign_id":"c1","batch_number":2}`))
	require.NoError(t, err)
	assert.Equal(t, BatchJob{CampaignID: "c1", BatchNumber: 2}, j)

	j, err = DecodeBatchJob(&BatchJob{CampaignID: "c2", BatchNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, "c2", j.CampaignID)

	for _, bad := range []any{[]byte("{"), 42, BatchJob{CampaignID: "c1"}, (*BatchJob)(nil)} {
		_, err := DecodeBatchJob(bad)
		assert.True(t, appErrors.IsInvalidInput(err), "%#v", bad)
	}
}

func TestBatchSendHandler(t *testing.T) {
	var got BatchJob
	h := BatchSendHandler(func(_ context.Context, cid string, n int) error {
		got = BatchJob{CampaignID: cid, BatchNumber: n}
		return appErrors.NewTransportUnavailable(errors.New("throttled"))
	}, zerolog.Nop())

	// the batch is already failed; nothing to retry
	assert.NoError(t, h(BatchJob{CampaignID: "c1", BatchNumber: 3}))
	assert.Equal(t, BatchJob{CampaignID: "c1", BatchNumber: 3}, got)

	assert.Error(t, h("garbage"))
}

type fakeAck struct {
	acked            bool
	nacked, requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func TestSettle(t *testing.T) {
	transient := errors.New("timeout")
	tests := []struct {
		label       string
		err         error
		redelivered bool
		want        SettleDecision
	}{
		{"success", nil, false, Ack},
		{"permanent", appErrors.NewInvalidState("sending"), false, Ack},
		{"first transient failure", transient, false, Requeue},
		{"second transient failure", transient, true, Drop},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.err, tt.redelivered))

			a := &fakeAck{}
			require.NoError(t, settle(a, tt.redelivered, tt.err))
			assert.Equal(t, tt.want == Ack, a.acked)
			assert.Equal(t, tt.want == Requeue, a.requeued)
		})
	}
}
