package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// sendGridFunc posts one message and returns the HTTP status and body.
type sendGridFunc func(ctx context.Context, m *mail.SGMailV3) (int, string, error)

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	log       zerolog.Logger
	fromEmail string
	fromName  string
	send      sendGridFunc
}

func NewSendGridSender(log zerolog.Logger, apiKey, fromEmail, fromName string) *SendGridSender {
	client := sendgrid.NewSendClient(apiKey)
	return newSendGridSender(log, fromEmail, fromName, func(ctx context.Context, m *mail.SGMailV3) (int, string, error) {
		resp, err := client.SendWithContext(ctx, m)
		if err != nil {
			return 0, "", err
		}
		return resp.StatusCode, resp.Body, nil
	})
}

func newSendGridSender(log zerolog.Logger, fromEmail, fromName string, send sendGridFunc) *SendGridSender {
	return &SendGridSender{
		log:       log.With().Str("transport", "sendgrid").Logger(),
		fromEmail: fromEmail,
		fromName:  fromName,
		send:      send,
	}
}

func (s *SendGridSender) Name() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if err := ValidateAddress(msg.To); err != nil {
		return err
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, "", msg.HTMLBody)

	status, body, err := s.send(ctx, message)
	if err != nil {
		return appErrors.NewTransportUnavailable(err)
	}

	switch {
	case status >= 200 && status < 300:
		s.log.Debug().Str("to", msg.To).Int("status", status).Msg("email sent")
		return nil
	case status == http.StatusTooManyRequests, status == http.StatusUnauthorized, status == http.StatusForbidden, status >= 500:
		return appErrors.NewTransportUnavailable(fmt.Errorf("sendgrid returned status %d: %s", status, body))
	default:
		return appErrors.NewDeliveryFailure(msg.To, fmt.Errorf("sendgrid returned status %d: %s", status, body))
	}
}
