package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names, not Go ones
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// StatusFor maps an application error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch appErrors.KindOf(err) {
	case appErrors.KindInvalidInput:
		return http.StatusBadRequest, "invalid_input"
	case appErrors.KindMissingRequiredField:
		return http.StatusBadRequest, "missing_required_field"
	case appErrors.KindNotFound:
		return http.StatusNotFound, "not_found"
	case appErrors.KindInvalidState:
		return http.StatusConflict, "invalid_state"
	case appErrors.KindAlreadyPlanned:
		return http.StatusConflict, "already_planned"
	case appErrors.KindTransportUnavailable:
		return http.StatusServiceUnavailable, "transport_unavailable"
	case appErrors.KindDeliveryFailure:
		return http.StatusBadGateway, "delivery_failure"
	}
	return http.StatusInternalServerError, "internal"
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes the error envelope. Internal errors are logged and
// their detail is not sent to the client.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	WriteErrorWith(w, log, err, nil)
}

// WriteErrorWith adds extra top-level fields to the error envelope.
func WriteErrorWith(w http.ResponseWriter, log zerolog.Logger, err error, extra map[string]any) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	body := map[string]any{"error": msg, "code": code}
	for k, v := range extra {
		body[k] = v
	}
	WriteJSON(w, status, body)
}

// decodeJSON decodes the request body into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return appErrors.NewInvalidInput("request body is empty")
		}
		return appErrors.NewInvalidInput("invalid body: %v", err)
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return appErrors.NewInvalidInput("%v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return appErrors.NewMissingRequiredField(fe.Field())
		}
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return appErrors.NewInvalidInput("invalid body: %s", strings.Join(fields, ", "))
}
