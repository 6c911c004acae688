package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
	"github.com/unclebandit/campaign-dispatch/internal/transport"
)

// fakeSender records messages and fails the addresses it is told to.
type fakeSender struct {
	mu       sync.Mutex
	sent     []transport.Message
	reject   map[string]bool
	downFrom int // 1-based send attempt at which the provider goes down; 0 never
	attempts int
	gate     chan struct{}
	onSend   func()
}

func newFakeSender() *fakeSender {
	return &fakeSender{reject: map[string]bool{}}
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(ctx context.Context, msg transport.Message) error {
	if f.gate != nil {
		<-f.gate
	}
	if f.onSend != nil {
		f.onSend()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.downFrom > 0 && f.attempts >= f.downFrom {
		return appErrors.NewTransportUnavailable(errors.New("provider returned 503"))
	}
	if err := transport.ValidateAddress(msg.To); err != nil {
		return err
	}
	if f.reject[msg.To] {
		return appErrors.NewDeliveryFailure(msg.To, errors.New("mailbox does not exist"))
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Message(nil), f.sent...)
}

func (f *fakeSender) setReject(email string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject[email] = on
}

type harness struct {
	svc    *service.CampaignService
	mem    *repository.MemoryStore
	sender *fakeSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, mem := repository.NewMemoryBackedStore()
	log := zerolog.Nop()
	sender := newFakeSender()
	tracker := service.NewTracker(store, nil, log)
	renderer := service.NewRenderer()
	return &harness{
		svc: &service.CampaignService{
			Store:    store,
			Tracker:  tracker,
			Renderer: renderer,
			Log:      log,
			Dispatcher: &service.Dispatcher{
				Store:    store,
				Renderer: renderer,
				Sender:   sender,
				Tracker:  tracker,
				Log:      log,
			},
		},
		mem:    mem,
		sender: sender,
	}
}

// planned creates a campaign and plans n generated recipients into it.
func (h *harness) planned(t *testing.T, n, batchSize int) *model.Campaign {
	t.Helper()
	ctx := context.Background()
	c, err := h.svc.CreateCampaign(ctx, "Fall drop", "", nil, "")
	require.NoError(t, err)
	_, err = h.svc.ProcessCampaign(ctx, c.ID, makeRecipients(n), batchSize)
	require.NoError(t, err)
	return c
}

func (h *harness) campaign(t *testing.T, id string) *model.Campaign {
	t.Helper()
	c, err := h.mem.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (h *harness) batch(t *testing.T, id string, n int) *model.Batch {
	t.Helper()
	b, err := h.mem.GetBatch(context.Background(), id, n)
	require.NoError(t, err)
	return b
}
