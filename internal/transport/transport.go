package transport

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// Message is one fully rendered email.
type Message struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
}

// Sender delivers a single message. Implementations return an error whose
// appErrors kind is DeliveryFailure when only this recipient is affected and
// TransportUnavailable when the provider itself is unusable.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// ValidateAddress rejects addresses the provider would bounce anyway.
func ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return appErrors.NewDeliveryFailure(addr, fmt.Errorf("invalid address: %w", err))
	}
	if parsed.Address != addr {
		return appErrors.NewDeliveryFailure(addr, fmt.Errorf("invalid address: expected a bare address"))
	}
	at := strings.LastIndex(addr, "@")
	if !strings.Contains(addr[at+1:], ".") {
		return appErrors.NewDeliveryFailure(addr, fmt.Errorf("invalid address: domain has no dot"))
	}
	return nil
}
