package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// SESSender sends through Amazon SES.
type SESSender struct {
	log     zerolog.Logger
	client  sesiface.SESAPI
	source  string
	replyTo string
}

func NewSESSender(log zerolog.Logger, region, source, replyTo string) (*SESSender, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("couldn't configure AWS client: %w", err)
	}
	return NewSESSenderWithClient(log, ses.New(sess), source, replyTo), nil
}

func NewSESSenderWithClient(log zerolog.Logger, client sesiface.SESAPI, source, replyTo string) *SESSender {
	return &SESSender{log: log.With().Str("transport", "ses").Logger(), client: client, source: source, replyTo: replyTo}
}

func (s *SESSender) Name() string { return "ses" }

func (s *SESSender) Send(ctx context.Context, msg Message) error {
	if err := ValidateAddress(msg.To); err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(s.source),
		Destination: &ses.Destination{ToAddresses: []*string{aws.String(msg.To)}},
		Message: &ses.Message{
			Subject: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(msg.Subject)},
			Body: &ses.Body{
				Html: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(msg.HTMLBody)},
			},
		},
	}
	if s.replyTo != "" {
		input.ReplyToAddresses = []*string{aws.String(s.replyTo)}
	}

	out, err := s.client.SendEmailWithContext(ctx, input)
	if err != nil {
		return s.classify(msg.To, err)
	}
	s.log.Debug().Str("to", msg.To).Str("message_id", aws.StringValue(out.MessageId)).Msg("email sent")
	return nil
}

// classify splits SES errors into per-recipient rejections and provider
// outages.
func (s *SESSender) classify(to string, err error) error {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return appErrors.NewTransportUnavailable(err)
	}

	switch aerr.Code() {
	case ses.ErrCodeMessageRejected, "InvalidParameterValue":
		return appErrors.NewDeliveryFailure(to, err)
	case ses.ErrCodeAccountSendingPausedException,
		ses.ErrCodeConfigurationSetSendingPausedException,
		ses.ErrCodeMailFromDomainNotVerifiedException,
		"Throttling",
		request.ErrCodeRequestError,
		request.CanceledErrorCode:
		return appErrors.NewTransportUnavailable(err)
	}

	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() >= 400 && reqErr.StatusCode() < 500 && reqErr.StatusCode() != 403 && reqErr.StatusCode() != 429 {
		return appErrors.NewDeliveryFailure(to, err)
	}
	return appErrors.NewTransportUnavailable(err)
}
