// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// Kind classifies an application error so callers can branch on it
// without string matching.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindInvalidState         Kind = "invalid_state"
	KindNotFound             Kind = "not_found"
	KindAlreadyPlanned       Kind = "already_planned"
	KindMissingRequiredField Kind = "missing_required_field"
	KindDeliveryFailure      Kind = "delivery_failure"
	KindTransportUnavailable Kind = "transport_unavailable"
)

// AppError carries a Kind, a human readable message and an optional cause.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newf(kind Kind, cause error, format string, args ...any) error {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func NewInvalidInput(format string, args ...any) error {
	return newf(KindInvalidInput, nil, format, args...)
}

func NewInvalidState(format string, args ...any) error {
	return newf(KindInvalidState, nil, format, args...)
}

func NewAlreadyPlanned(campaignID string) error {
	return newf(KindAlreadyPlanned, nil, "campaign %s already has a batch plan; reset it to draft first", campaignID)
}

func NewMissingRequiredField(field string) error {
	return newf(KindMissingRequiredField, nil, "missing required field %q", field)
}

// Helper constructors for the not-found family.
func NewCampaignNotFound(id string) error {
	return newf(KindNotFound, nil, "campaign with ID %s not found", id)
}

func NewBatchNotFound(campaignID string, batchNumber int) error {
	return newf(KindNotFound, nil, "batch %d of campaign %s not found", batchNumber, campaignID)
}

func NewRecipientNotFound(campaignID, recordID string) error {
	return newf(KindNotFound, nil, "recipient %s of campaign %s not found", recordID, campaignID)
}

func NewTestUserNotFound(email string) error {
	return newf(KindNotFound, nil, "test user %s not found", email)
}

// NewDeliveryFailure wraps a per-recipient send error. It is recorded
// against the recipient and never aborts a batch.
func NewDeliveryFailure(email string, cause error) error {
	return newf(KindDeliveryFailure, cause, "delivery to %s failed", email)
}

// NewTransportUnavailable wraps an error that means the mail provider
// itself cannot be reached.
func NewTransportUnavailable(cause error) error {
	return newf(KindTransportUnavailable, cause, "email transport unavailable")
}

// KindOf returns the Kind of the first AppError in err's chain, or "".
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func IsInvalidInput(err error) bool         { return KindOf(err) == KindInvalidInput }
func IsInvalidState(err error) bool         { return KindOf(err) == KindInvalidState }
func IsNotFound(err error) bool             { return KindOf(err) == KindNotFound }
func IsAlreadyPlanned(err error) bool       { return KindOf(err) == KindAlreadyPlanned }
func IsMissingRequiredField(err error) bool { return KindOf(err) == KindMissingRequiredField }
func IsDeliveryFailure(err error) bool      { return KindOf(err) == KindDeliveryFailure }
func IsTransportUnavailable(err error) bool { return KindOf(err) == KindTransportUnavailable }

// IsPermanent reports whether retrying the same request can never succeed.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindInvalidState, KindNotFound, KindAlreadyPlanned, KindMissingRequiredField:
		return true
	}
	return false
}
