package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		payload      any
		expectedBody string
	}{
		{
			name:         "simple map",
			status:       http.StatusOK,
			payload:      map[string]string{"message": "hello"},
			expectedBody: `{"message":"hello"}`,
		},
		{
			name:         "struct",
			status:       http.StatusCreated,
			payload:      struct{ ID string }{ID: "123"},
			expectedBody: `{"ID":"123"}`,
		},
		{
			name:         "error response",
			status:       http.StatusBadRequest,
			payload:      ErrorResponse{Error: "bad request", Code: "invalid_input"},
			expectedBody: `{"error":"bad request","code":"invalid_input"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeJSON(w, tt.status, tt.payload)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestWriteError_ValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	err := domainErrors.NewValidationError("email", "must be valid email")

	writeError(w, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	json.NewDecoder(w.Body).Decode(&response)
	assert.Equal(t, "validation_error", response.Code)
	assert.Contains(t, response.Error, "email")
}

func TestWriteError_DomainErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"payment not found", domainErrors.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
		{"unknown gateway", fmt.Errorf("%w %q", domainErrors.ErrUnsupportedGateway, "bitcoin"), http.StatusNotFound, "unsupported_gateway"},
		{"bad signature", domainErrors.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
		{"malformed webhook", fmt.Errorf("%w: unexpected end of JSON input", domainErrors.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{"pending payment", domainErrors.ErrPaymentPending, http.StatusConflict, "payment_pending"},
		{"invalid state transition", domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
		{"refund too large", domainErrors.ErrRefundExceedsAmount, http.StatusUnprocessableEntity, "refund_exceeds_amount"},
		{"provider rejected", domainErrors.ErrProviderRejected, http.StatusUnprocessableEntity, "provider_rejected"},
		{"provider unavailable", domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
		{"lock busy", domainErrors.ErrLockAcquisitionFailed, http.StatusServiceUnavailable, "busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response ErrorResponse
			err := json.NewDecoder(w.Body).Decode(&response)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCode, response.Code)
		})
	}
}

func TestWriteError_WrappedDomainErrorUsesMessage(t *testing.T) {
	w := httptest.NewRecorder()
	err := domainErrors.NewDomainError("provider_rejected", "refund window closed", domainErrors.ErrProviderRejected)

	writeError(w, fmt.Errorf("saga step failed: %w", err))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var response ErrorResponse
	json.NewDecoder(w.Body).Decode(&response)
	assert.Equal(t, "provider_rejected", response.Code)
	assert.Equal(t, "refund window closed", response.Error)
}

func TestWriteError_GenericDomainError(t *testing.T) {
	w := httptest.NewRecorder()
	err := domainErrors.NewDomainError("custom_error", "custom error message", nil)

	writeError(w, err)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var response ErrorResponse
	json.NewDecoder(w.Body).Decode(&response)
	assert.Equal(t, "custom_error", response.Code)
	assert.Equal(t, "custom error message", response.Error)
}

func TestWriteError_UnknownError_FallbackToInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	err := errors.New("unexpected error")

	writeError(w, err)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var response ErrorResponse
	json.NewDecoder(w.Body).Decode(&response)
	assert.Equal(t, "internal_error", response.Code)
	assert.Equal(t, "internal server error", response.Error)
}

func TestDecodeAndValidate_CreatePaymentRequest(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"valid", `{"order_id":"O1","method":"gcash","customer_email":"juan@example.com"}`, ""},
		{"method optional", `{"order_id":"O1"}`, ""},
		{"missing order", `{"method":"gcash"}`, "OrderID"},
		{"unknown method", `{"order_id":"O1","method":"bitcoin"}`, "Method"},
		{"bad email", `{"order_id":"O1","customer_email":"nope"}`, "CustomerEmail"},
		{"bad return url", `{"order_id":"O1","return_url":"not a url"}`, "ReturnURL"},
		{"invalid json", `{order_id}`, "body"},
		{"empty body", ``, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(tt.body))

			var dst CreatePaymentRequest
			err := decodeAndValidate(req, &dst)

			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, "O1", dst.OrderID)
				return
			}
			var validationErr *domainErrors.ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			assert.Equal(t, tt.wantField, validationErr.Field)
		})
	}
}

func TestDecodeAndValidate_RefundAmountIsExact(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/refund", bytes.NewReader([]byte(`{"amount":"100.10","reason":"damaged"}`)))

	var dst RefundRequest
	require.NoError(t, decodeAndValidate(req, &dst))
	require.NotNil(t, dst.Amount)
	assert.Equal(t, "100.1", dst.Amount.String())
	assert.Equal(t, "damaged", dst.Reason)

	req = httptest.NewRequest(http.MethodPost, "/refund", bytes.NewReader([]byte(`{"amount":"ten"}`)))
	err := decodeAndValidate(req, &dst)
	var validationErr *domainErrors.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}
