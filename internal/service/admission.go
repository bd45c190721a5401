package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/quota-admission-service/internal/metrics"
	"github.com/quota-admission-service/internal/middleware"
	"github.com/quota-admission-service/internal/model"
	"github.com/quota-admission-service/internal/store"
)

// AdmissionService is the façade the gateway talks to: it resolves a raw
// secret to a key, delegates accounting to the quota store, and maps the
// result to a caller-facing decision and status code.
type AdmissionService struct {
	store store.Store
}

// NewAdmissionService creates the admission façade.
func NewAdmissionService(s store.Store) *AdmissionService {
	return &AdmissionService{store: s}
}

// Admit decides whether one request may proceed. An unresolvable secret never
// touches accounting state: the 401 decision is produced without a quota
// store call. Retrying the same requestId replays the original decision.
func (s *AdmissionService) Admit(ctx context.Context, rawSecret, requestID, route string, cost int) (int, *model.Decision, error) {
	if rawSecret == "" {
		return 0, nil, NewBadRequest("invalid_request", "apiKey is required")
	}
	if requestID == "" {
		return 0, nil, NewBadRequest("invalid_request", "requestId is required")
	}
	if cost < 1 {
		return 0, nil, NewBadRequest("invalid_request", "cost must be at least 1")
	}

	apiKey, err := s.resolve(ctx, rawSecret)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.Decisions.WithLabelValues("invalid_key").Inc()
			return http.StatusUnauthorized, &model.Decision{Allowed: false, Reason: model.ReasonInvalidKey}, nil
		}
		return 0, nil, s.storeFailure(err, "failed to resolve API key")
	}

	decision, err := s.store.Consume(ctx, apiKey, requestID, cost)
	if err != nil {
		return 0, nil, s.storeFailure(err, "consume failed")
	}

	if decision.Allowed {
		metrics.Decisions.WithLabelValues("allowed").Inc()
		return http.StatusOK, decision, nil
	}

	outcome := "rate_limited"
	if decision.Reason == model.ReasonQuotaExceeded {
		outcome = "quota_exceeded"
	}
	metrics.Decisions.WithLabelValues(outcome).Inc()
	log.Debug().
		Str("key_id", apiKey.ID.String()).
		Str("route", route).
		Str("reason", string(decision.Reason)).
		Msg("request denied")
	return http.StatusTooManyRequests, decision, nil
}

// Refund compensates a previously allowed charge, for example after the
// operation the charge admitted has failed elsewhere. It is idempotent: the
// second refund of the same requestId reports false. An unresolvable secret
// also reports false rather than failing, so the response is always
// {refunded: bool}.
func (s *AdmissionService) Refund(ctx context.Context, rawSecret, requestID string) (bool, error) {
	if rawSecret == "" {
		return false, NewBadRequest("invalid_request", "apiKey is required")
	}
	if requestID == "" {
		return false, NewBadRequest("invalid_request", "requestId is required")
	}

	apiKey, err := s.resolve(ctx, rawSecret)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.Refunds.WithLabelValues("noop").Inc()
			return false, nil
		}
		return false, s.storeFailure(err, "failed to resolve API key")
	}

	refunded, err := s.store.Refund(ctx, apiKey, requestID)
	if err != nil {
		return false, s.storeFailure(err, "refund failed")
	}

	result := "noop"
	if refunded {
		result = "refunded"
	}
	metrics.Refunds.WithLabelValues(result).Inc()
	return refunded, nil
}

// StatusResult is the non-mutating usage report for one key.
type StatusResult struct {
	Key   *model.APIKey
	Usage *model.UsageSnapshot
}

// Status reports current consumption for the key without charging anything.
func (s *AdmissionService) Status(ctx context.Context, rawSecret string) (*StatusResult, error) {
	if rawSecret == "" {
		return nil, NewBadRequest("invalid_request", "apiKey is required")
	}

	apiKey, err := s.resolve(ctx, rawSecret)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewUnauthorized("invalid_key", "Invalid API key")
		}
		return nil, s.storeFailure(err, "failed to resolve API key")
	}

	usage, err := s.store.Usage(ctx, apiKey)
	if err != nil {
		return nil, s.storeFailure(err, "usage lookup failed")
	}

	return &StatusResult{Key: apiKey, Usage: usage}, nil
}

func (s *AdmissionService) resolve(ctx context.Context, rawSecret string) (*model.APIKey, error) {
	return s.store.GetAPIKeyByHash(ctx, middleware.SHA256Hex(rawSecret))
}

func (s *AdmissionService) storeFailure(err error, msg string) error {
	log.Error().Err(err).Msg(msg)
	if errors.Is(err, store.ErrTxRetriesExhausted) {
		return NewUnavailable("store_unavailable", "Temporary storage contention, retry the request")
	}
	return NewInternal("internal_error", "An unexpected storage error occurred")
}
