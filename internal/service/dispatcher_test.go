package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

func TestSendBatch_OneBadRecipientFailsBatchButSendsTheRest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.planned(t, 100, 100)
	h.sender.setReject("user37@example.com", true)

	res, err := h.svc.SendBatch(ctx, c.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, model.BatchFailed, res.Status)
	assert.Equal(t, 99, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Unattempted)
	assert.Equal(t, "1 of 100 emails failed to send", res.ErrorMessage)
	assert.Len(t, h.sender.messages(), 99)

	b := h.batch(t, c.ID, 1)
	assert.Equal(t, 99, b.EmailsSent)
	assert.Equal(t, 1, b.FailedEmails)
	assert.NotNil(t, b.CompletedAt)

	cp := h.campaign(t, c.ID)
	assert.Equal(t, model.CampaignFailed, cp.Status)
	assert.Equal(t, 99, cp.EmailsSent)

	bad, err := h.mem.GetRecipient(ctx, c.ID, c.ID+"_37")
	require.NoError(t, err)
	assert.False(t, bad.EmailSent)
	assert.Contains(t, bad.LastError, "mailbox does not exist")

	recs, total, err := h.mem.ListRecipients(ctx, c.ID, 1, 0, 100)
	require.NoError(t, err)
	require.Equal(t, 100, total)
	require.Len(t, recs, 100)
	for _, r := range recs {
		assert.Equal(t, r.Position != 37, r.EmailSent, "recipient %d", r.Position)
	}

	// fix the address, reset and resend: only the failed recipient goes out
	h.sender.setReject("user37@example.com", false)
	_, err = h.svc.ResetBatch(ctx, c.ID, 1, false)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignReady, h.campaign(t, c.ID).Status)

	res, err = h.svc.SendBatch(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, res.Status)
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, h.sender.messages(), 100)

	cp = h.campaign(t, c.ID)
	assert.Equal(t, model.CampaignCompleted, cp.Status)
	assert.Equal(t, 100, cp.EmailsSent)
}

func TestSendBatch_RejectsBatchThatIsNotReady(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.planned(t, 3, 3)

	_, err := h.svc.SendBatch(ctx, c.ID, 1)
	require.NoError(t, err)
	before := h.batch(t, c.ID, 1)

	_, err = h.svc.SendBatch(ctx, c.ID, 1)
	assert.True(t, appErrors.IsInvalidState(err))

	after := h.batch(t, c.ID, 1)
	assert.Equal(t, before.EmailsSent, after.EmailsSent)
	assert.Equal(t, before.Status, after.Status)
	assert.Len(t, h.sender.messages(), 3)

	_, err = h.svc.SendBatch(ctx, c.ID, 9)
	assert.True(t, appErrors.IsNotFound(err))
	_, err = h.svc.SendBatch(ctx, "nope", 1)
	assert.True(t, appErrors.IsNotFound(err))
	_, err = h.svc.SendBatch(ctx, c.ID, 0)
	assert.True(t, appErrors.IsInvalidInput(err))
}

func TestSendBatch_ConcurrentCallsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	c := h.planned(t, 4, 4)
	h.sender.gate = make(chan struct{})

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := h.svc.SendBatch(context.Background(), c.ID, 1)
			results <- err
		}()
	}

	// the winner is parked in Send, so the loser reports first
	first := <-results
	assert.True(t, appErrors.IsInvalidState(first), "got %v", first)

	close(h.sender.gate)
	assert.NoError(t, <-results)
	assert.Len(t, h.sender.messages(), 4)
	assert.Equal(t, 4, h.batch(t, c.ID, 1).EmailsSent)
}

func TestSendBatch_TransportOutageAbortsRemainingRecipients(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.planned(t, 10, 10)
	h.sender.downFrom = 3

	res, err := h.svc.SendBatch(ctx, c.ID, 1)
	assert.True(t, appErrors.IsTransportUnavailable(err))
	require.NotNil(t, res)

	assert.Equal(t, model.BatchFailed, res.Status)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 7, res.Unattempted)
	assert.Contains(t, res.ErrorMessage, "7 emails not attempted")

	untouched, err := h.mem.GetRecipient(ctx, c.ID, c.ID+"_4")
	require.NoError(t, err)
	assert.False(t, untouched.EmailSent)
	assert.Empty(t, untouched.LastError)
	assert.Equal(t, model.CampaignFailed, h.campaign(t, c.ID).Status)
}

func TestSendBatch_MissingEmailIsARecipientFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, err := h.svc.CreateCampaign(ctx, "Blank rows", "", nil, "")
	require.NoError(t, err)

	recipients := makeRecipients(3)
	recipients[1].CustomerEmail = ""
	_, err = h.svc.ProcessCampaign(ctx, c.ID, recipients, 10)
	require.NoError(t, err)

	res, err := h.svc.SendBatch(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)

	blank, _ := h.mem.GetRecipient(ctx, c.ID, c.ID+"_2")
	assert.Contains(t, blank.LastError, "customerEmail")
}

func TestSendBatch_TimeoutLeavesRestUnsent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.planned(t, 5, 5)
	h.svc.Dispatcher.Timeout = 30 * time.Millisecond
	h.sender.onSend = func() { time.Sleep(20 * time.Millisecond) }

	res, err := h.svc.SendBatch(ctx, c.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, model.BatchFailed, res.Status)
	assert.Positive(t, res.Unattempted)
	assert.Equal(t, 5, res.Sent+res.Failed+res.Unattempted)
	assert.Contains(t, res.ErrorMessage, "timed out")
}

func TestSendBatch_AllBatchesCompleteTheCampaign(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.planned(t, 5, 2)

	for n := 1; n <= 3; n++ {
		res, err := h.svc.SendBatch(ctx, c.ID, n)
		require.NoError(t, err)
		assert.Equal(t, model.BatchCompleted, res.Status)
		if n < 3 {
			assert.Equal(t, model.CampaignSending, h.campaign(t, c.ID).Status)
		}
	}

	p, err := h.svc.Tracker.CampaignProgress(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, p.Status)
	assert.Equal(t, 5, p.EmailsSent)
	assert.Equal(t, 3, p.BatchesCompleted)

	// recipients went out in list order
	var order []string
	for _, m := range h.sender.messages() {
		order = append(order, m.To)
	}
	assert.Equal(t, "user1@example.com", order[0])
	assert.Equal(t, "user5@example.com", order[4])
}

func TestSendBatch_ProgressNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.planned(t, 20, 20)

	var mu sync.Mutex
	var seen []int
	h.sender.onSend = func() {
		p, err := h.svc.Tracker.CampaignProgress(ctx, c.ID)
		if err == nil {
			mu.Lock()
			seen = append(seen, p.EmailsSent)
			mu.Unlock()
		}
	}

	_, err := h.svc.SendBatch(ctx, c.ID, 1)
	require.NoError(t, err)

	require.Len(t, seen, 20)
	assert.True(t, sort.IntsAreSorted(seen), "emails_sent went backwards: %v", seen)
	assert.Equal(t, 19, seen[19])
}

func TestSendTest_GoesToActiveTestUsersOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, err := h.svc.CreateCampaign(ctx, "Preview me", "", model.TemplateConfig{"subject": "Fresh gear"}, "")
	require.NoError(t, err)

	_, err = h.svc.SendTest(ctx, c.ID)
	assert.True(t, appErrors.IsInvalidState(err))

	require.NoError(t, h.mem.UpsertSchool(ctx, &model.School{SchoolCode: "VT", SchoolName: "Virginia Tech"}))
	for i, active := range []bool{true, true, false} {
		require.NoError(t, h.mem.UpsertTestUser(ctx, &model.TestUser{
			Email:      fmt.Sprintf("qa%d@example.com", i),
			Name:       "Quinn Tester",
			SchoolCode: "VT",
			Active:     active,
		}))
	}

	res, err := h.svc.SendTest(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Zero(t, res.Failed)

	msgs := h.sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "[TEST] Hi Quinn, Virginia Tech Collection Just Dropped!", msgs[0].Subject)
	assert.Contains(t, msgs[0].HTMLBody, "Test Product")

	// no dispatch state was touched
	cp := h.campaign(t, c.ID)
	assert.Equal(t, model.CampaignDraft, cp.Status)
	assert.Zero(t, cp.EmailsSent)
}
