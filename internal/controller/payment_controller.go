package controller

import (
	"net/http"
	"strconv"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxListLimit = 100

// PaymentController handles payment-related HTTP requests.
type PaymentController struct {
	paymentService *service.PaymentService
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{paymentService: paymentService}
}

// CreatePayment handles POST /api/v1/payments
func (h *PaymentController) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.paymentService.CreatePayment(r.Context(), service.CreatePaymentInput{
		OrderID:       req.OrderID,
		Method:        req.Method,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Description:   req.Description,
		ReturnURL:     req.ReturnURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreatePaymentResponse{
		Payment:      FromRecord(out.Record),
		RedirectURL:  out.RedirectURL,
		ClientSecret: out.ClientSecret,
	})
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *PaymentController) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}

	rec, err := h.paymentService.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromRecord(rec))
}

// ListPayments handles GET /api/v1/payments
func (h *PaymentController) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := payment.ListFilter{
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}

	if s := q.Get("order_id"); s != "" {
		filter.OrderID = &s
	}
	if s := q.Get("status"); s != "" {
		status, err := payment.ParseStatus(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = &status
	}
	if s := q.Get("method"); s != "" {
		method, err := payment.ParseMethod(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Method = &method
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	records, err := h.paymentService.ListPayments(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*PaymentResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, FromRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetEvents handles GET /api/v1/payments/{id}/events
func (h *PaymentController) GetEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}

	events, err := h.paymentService.GetEvents(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, FromEvent(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyPayment handles POST /api/v1/payments/{id}/verify
func (h *PaymentController) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}

	rec, err := h.paymentService.VerifyPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromRecord(rec))
}

// RefundPayment handles POST /api/v1/payments/{id}/refund
func (h *PaymentController) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}

	var req RefundRequest
	if r.ContentLength != 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	out, err := h.paymentService.RefundPayment(r.Context(), id, service.RefundInput{
		Amount: req.Amount,
		Reason: req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if out.Pending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, RefundResponse{
		Payment:  FromRecord(out.Record),
		RefundID: out.RefundID,
		Amount:   gateway.FormatAmount(out.Amount, out.Record.Currency),
		Partial:  out.Partial,
		Pending:  out.Pending,
	})
}

// CancelPayment handles POST /api/v1/payments/{id}/cancel
func (h *PaymentController) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}

	rec, err := h.paymentService.CancelPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromRecord(rec))
}

// CapturePayment handles POST /api/v1/payments/{id}/capture
func (h *PaymentController) CapturePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}

	rec, err := h.paymentService.CapturePayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromRecord(rec))
}

// ListGateways handles GET /api/v1/gateways
func (h *PaymentController) ListGateways(w http.ResponseWriter, r *http.Request) {
	infos := h.paymentService.Gateways()
	resp := make([]*GatewayResponse, 0, len(infos))
	for _, info := range infos {
		resp = append(resp, FromGatewayInfo(info))
	}
	writeJSON(w, http.StatusOK, resp)
}

func paymentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domainErrors.NewValidationError("id", "invalid payment id"))
		return uuid.Nil, false
	}
	return id, true
}
