package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

type testSESClient struct {
	sesiface.SESAPI
	received *ses.SendEmailInput
	err      error
}

func (c *testSESClient) SendEmailWithContext(ctx aws.Context, in *ses.SendEmailInput, _ ...request.Option) (*ses.SendEmailOutput, error) {
	c.received = in
	if c.err != nil {
		return nil, c.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

var testMessage = Message{To: "fan@example.com", ToName: "Fan", Subject: "Hi", HTMLBody: "<p>hi</p>"}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		label string
		addr  string
		ok    bool
	}{
		{"plain", "fan@example.com", true},
		{"padded", "  fan@example.com ", true},
		{"missing at", "fan.example.com", false},
		{"display name", "Fan <fan@example.com>", false},
		{"no tld", "fan@localhost", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		err := ValidateAddress(tt.addr)
		if tt.ok {
			assert.NoError(t, err, tt.label)
		} else {
			assert.True(t, appErrors.IsDeliveryFailure(err), tt.label)
		}
	}
}

func TestSESSender_BuildsRequest(t *testing.T) {
	client := &testSESClient{}
	s := NewSESSenderWithClient(zerolog.Nop(), client, "news@example.com", "help@example.com")

	require.NoError(t, s.Send(context.Background(), testMessage))

	require.NotNil(t, client.received)
	assert.Equal(t, "news@example.com", aws.StringValue(client.received.Source))
	assert.Equal(t, "fan@example.com", aws.StringValue(client.received.Destination.ToAddresses[0]))
	assert.Equal(t, "Hi", aws.StringValue(client.received.Message.Subject.Data))
	assert.Equal(t, "help@example.com", aws.StringValue(client.received.ReplyToAddresses[0]))
}

func TestSESSender_InvalidAddressNeverCallsAPI(t *testing.T) {
	client := &testSESClient{}
	s := NewSESSenderWithClient(zerolog.Nop(), client, "news@example.com", "")

	err := s.Send(context.Background(), Message{To: "not-an-address"})
	assert.True(t, appErrors.IsDeliveryFailure(err))
	assert.Nil(t, client.received)
}

func TestSESSender_Classification(t *testing.T) {
	tests := []struct {
		label       string
		err         error
		unavailable bool
	}{
		{"rejected", awserr.New(ses.ErrCodeMessageRejected, "Email address is not verified", nil), false},
		{"paused", awserr.New(ses.ErrCodeAccountSendingPausedException, "paused", nil), true},
		{"throttled", awserr.New("Throttling", "Maximum sending rate exceeded", nil), true},
		{"network", awserr.New(request.ErrCodeRequestError, "send request failed", errors.New("dial tcp")), true},
		{"bad request", awserr.NewRequestFailure(awserr.New("Unknown", "bad", nil), 400, "req-1"), false},
		{"server error", awserr.NewRequestFailure(awserr.New("InternalFailure", "boom", nil), 500, "req-2"), true},
		{"plain error", errors.New("boom"), true},
	}
	for _, tt := range tests {
		s := NewSESSenderWithClient(zerolog.Nop(), &testSESClient{err: tt.err}, "news@example.com", "")
		err := s.Send(context.Background(), testMessage)
		if tt.unavailable {
			assert.True(t, appErrors.IsTransportUnavailable(err), tt.label)
		} else {
			assert.True(t, appErrors.IsDeliveryFailure(err), tt.label)
		}
	}
}

func TestSendGridSender_StatusMapping(t *testing.T) {
	tests := []struct {
		label  string
		status int
		check  func(error) bool
	}{
		{"accepted", 202, func(err error) bool { return err == nil }},
		{"bad request", 400, appErrors.IsDeliveryFailure},
		{"unauthorized", 401, appErrors.IsTransportUnavailable},
		{"rate limited", 429, appErrors.IsTransportUnavailable},
		{"server error", 503, appErrors.IsTransportUnavailable},
	}
	for _, tt := range tests {
		var sent *mail.SGMailV3
		s := newSendGridSender(zerolog.Nop(), "news@example.com", "News", func(ctx context.Context, m *mail.SGMailV3) (int, string, error) {
			sent = m
			return tt.status, "", nil
		})
		err := s.Send(context.Background(), testMessage)
		assert.True(t, tt.check(err), tt.label)
		require.NotNil(t, sent, tt.label)
		assert.Equal(t, "Hi", sent.Subject, tt.label)
	}
}

func TestSendGridSender_ClientErrorIsUnavailable(t *testing.T) {
	s := newSendGridSender(zerolog.Nop(), "news@example.com", "News", func(ctx context.Context, m *mail.SGMailV3) (int, string, error) {
		return 0, "", errors.New("connection refused")
	})
	assert.True(t, appErrors.IsTransportUnavailable(s.Send(context.Background(), testMessage)))
}

type countingSender struct{ calls int }

func (c *countingSender) Name() string { return "count" }
func (c *countingSender) Send(ctx context.Context, msg Message) error {
	c.calls++
	return nil
}

func TestRateLimitedSender_StopsOnCancelledContext(t *testing.T) {
	next := &countingSender{}
	s := NewRateLimitedSender(next, 0.001, 1)

	require.NoError(t, s.Send(context.Background(), testMessage))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, testMessage)
	assert.Error(t, err)
	assert.Equal(t, 1, next.calls)
}
