package handler

import (
	"encoding/json"
	"net/http"

	"github.com/quota-admission-service/internal/model"
	"github.com/quota-admission-service/internal/service"
)

// ConsumeHandler serves POST /quota/consume: charge one request against both
// windows and return the admission decision.
type ConsumeHandler struct {
	svc *service.AdmissionService
}

func NewConsumeHandler(svc *service.AdmissionService) *ConsumeHandler {
	return &ConsumeHandler{svc: svc}
}

type consumeRequest struct {
	APIKey    string `json:"apiKey"`
	RequestID string `json:"requestId"`
	Route     string `json:"route"`
	Cost      int    `json:"cost"`
}

func (h *ConsumeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Cost == 0 {
		req.Cost = 1
	}

	status, decision, err := h.svc.Admit(r.Context(), req.APIKey, req.RequestID, req.Route, req.Cost)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, status, decision)
}

// RefundHandler serves POST /quota/refund: compensate a previously allowed
// charge. The response is 200 with {refunded: bool} either way; the second
// refund of the same requestId reports false.
type RefundHandler struct {
	svc *service.AdmissionService
}

func NewRefundHandler(svc *service.AdmissionService) *RefundHandler {
	return &RefundHandler{svc: svc}
}

type refundRequest struct {
	APIKey    string `json:"apiKey"`
	RequestID string `json:"requestId"`
}

type refundResponse struct {
	Refunded bool `json:"refunded"`
}

func (h *RefundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	refunded, err := h.svc.Refund(r.Context(), req.APIKey, req.RequestID)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, refundResponse{Refunded: refunded})
}

// StatusHandler serves GET /quota/status: a non-mutating usage snapshot for
// the key identified by the apiKey query parameter.
type StatusHandler struct {
	svc *service.AdmissionService
}

func NewStatusHandler(svc *service.AdmissionService) *StatusHandler {
	return &StatusHandler{svc: svc}
}

type statusResponse struct {
	Plan   string               `json:"plan"`
	Limits statusLimits         `json:"limits"`
	Usage  *model.UsageSnapshot `json:"usage"`
}

type statusLimits struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
	RequestsPerDay    int `json:"requestsPerDay"`
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Status(r.Context(), r.URL.Query().Get("apiKey"))
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, statusResponse{
		Plan: result.Key.Name,
		Limits: statusLimits{
			RequestsPerMinute: result.Key.RequestsPerMinute,
			RequestsPerDay:    result.Key.RequestsPerDay,
		},
		Usage: result.Usage,
	})
}
