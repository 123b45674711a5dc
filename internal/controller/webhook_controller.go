package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/cassiomorais/paygate/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MaxWebhookBytes bounds a webhook body. Signatures are computed over the
// exact bytes, so the body is read whole and never re-encoded.
const MaxWebhookBytes = 1 << 20

// WebhookController receives provider callbacks on /webhooks/{gateway}.
type WebhookController struct {
	reconciler *service.Reconciler
	logger     zerolog.Logger
}

func NewWebhookController(reconciler *service.Reconciler, logger zerolog.Logger) *WebhookController {
	return &WebhookController{reconciler: reconciler, logger: logger}
}

// Receive handles POST /webhooks/{gateway}. Events that change nothing still
// get a 200 so providers stop redelivering; only infrastructure failures
// return 5xx.
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "webhook body too large", Code: "payload_too_large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "could not read body", Code: "invalid_input"})
		return
	}

	outcome, err := h.reconciler.HandleWebhook(r.Context(), gatewayName, payload, r.Header)
	if err != nil {
		h.logger.Warn().
			Err(err).
			Str("gateway", gatewayName).
			Str("remote_ip", r.RemoteAddr).
			Msg("Webhook rejected")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Status: string(outcome)})
}
