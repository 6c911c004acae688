package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{appErrors.NewInvalidInput("bad"), http.StatusBadRequest, "invalid_input"},
		{appErrors.NewMissingRequiredField("name"), http.StatusBadRequest, "missing_required_field"},
		{appErrors.NewCampaignNotFound("x"), http.StatusNotFound, "not_found"},
		{appErrors.NewInvalidState("sending"), http.StatusConflict, "invalid_state"},
		{appErrors.NewAlreadyPlanned("x"), http.StatusConflict, "already_planned"},
		{appErrors.NewTransportUnavailable(errors.New("down")), http.StatusServiceUnavailable, "transport_unavailable"},
		{appErrors.NewDeliveryFailure("a@b.co", errors.New("bounce")), http.StatusBadGateway, "delivery_failure"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := StatusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, zerolog.Nop(), errors.New("pq: password authentication failed"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestDecodeJSON_Validation(t *testing.T) {
	decode := func(raw string) error {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(raw))
		var body testUserRequest
		return decodeJSON(r, &body)
	}

	assert.NoError(t, decode(`{"email":"qa@example.com"}`))
	assert.True(t, appErrors.IsMissingRequiredField(decode(`{"name":"QA"}`)))
	assert.True(t, appErrors.IsInvalidInput(decode(`{"email":"not-an-email"}`)))
	assert.True(t, appErrors.IsInvalidInput(decode(`{`)))
	assert.True(t, appErrors.IsInvalidInput(decode(``)))
}
