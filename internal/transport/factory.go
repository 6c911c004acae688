package transport

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/config"
)

// FromConfig builds the configured provider wrapped in the rate limiter.
func FromConfig(log zerolog.Logger, cfg config.MailConfig) (Sender, error) {
	var base Sender
	switch cfg.Provider {
	case "ses":
		s, err := NewSESSender(log, cfg.AWSRegion, cfg.SESSender, cfg.SESReplyTo)
		if err != nil {
			return nil, err
		}
		base = s
	case "sendgrid":
		base = NewSendGridSender(log, cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName)
	case "log", "":
		base = NewLogSender(log)
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
	return NewRateLimitedSender(base, cfg.RatePerSecond, 1), nil
}
