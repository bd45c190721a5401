package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quota-admission-service/internal/middleware"
	"github.com/quota-admission-service/internal/model"
	"github.com/quota-admission-service/internal/store"
)

const (
	maxRequestsPerMinute = 100000
	maxRequestsPerDay    = 10000000
)

// KeyRegistryService owns API-key identity: creation, lookup, rotation and
// status flips. It has no window or accounting logic.
type KeyRegistryService struct {
	store            store.KeyStore
	defaultPerMinute int
	defaultPerDay    int
}

// NewKeyRegistryService creates a key registry backed by the given store.
func NewKeyRegistryService(s store.KeyStore, defaultPerMinute, defaultPerDay int) *KeyRegistryService {
	return &KeyRegistryService{
		store:            s,
		defaultPerMinute: defaultPerMinute,
		defaultPerDay:    defaultPerDay,
	}
}

// CreateKeyInput contains the parameters for creating a new API key.
type CreateKeyInput struct {
	Name              string
	Owner             string
	RequestsPerMinute *int
	RequestsPerDay    *int
}

// CreateKeyResult contains the output of a successful key creation. RawKey is
// the only copy of the secret that will ever exist: it is not persisted and
// cannot be retrieved again.
type CreateKeyResult struct {
	APIKey *model.APIKey
	RawKey string
}

// Create validates input, generates a new API key, and persists its hash.
func (s *KeyRegistryService) Create(ctx context.Context, input CreateKeyInput) (*CreateKeyResult, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, NewBadRequest("invalid_request", "name is required")
	}
	if strings.TrimSpace(input.Owner) == "" {
		return nil, NewBadRequest("invalid_request", "owner is required")
	}

	perMinute, perDay, err := s.normalizeLimits(input.RequestsPerMinute, input.RequestsPerDay)
	if err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate API key")
		return nil, NewInternal("internal_error", "Failed to create API key")
	}

	apiKey := &model.APIKey{
		Name:              input.Name,
		Owner:             input.Owner,
		KeyHash:           middleware.SHA256Hex(rawKey),
		KeyPrefix:         keyPrefix(rawKey),
		RequestsPerMinute: perMinute,
		RequestsPerDay:    perDay,
		Status:            model.StatusActive,
	}

	if err := s.store.CreateAPIKey(ctx, apiKey); err != nil {
		log.Error().Err(err).Msg("failed to create API key")
		return nil, NewInternal("internal_error", "Failed to create API key")
	}

	return &CreateKeyResult{APIKey: apiKey, RawKey: rawKey}, nil
}

// Get returns a key by id. The secret hash never leaves the service layer.
func (s *KeyRegistryService) Get(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	apiKey, err := s.store.GetAPIKeyByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "API key not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to get API key")
		return nil, NewInternal("internal_error", "Failed to get API key")
	}
	return apiKey, nil
}

// List returns a page of keys plus the total count.
func (s *KeyRegistryService) List(ctx context.Context, page, perPage int) ([]*model.APIKey, int, error) {
	keys, total, err := s.store.ListAPIKeys(ctx, page, perPage)
	if err != nil {
		log.Error().Err(err).Msg("failed to list API keys")
		return nil, 0, NewInternal("internal_error", "Failed to list API keys")
	}
	return keys, total, nil
}

// UpdateLimits validates and applies partial updates to an existing key.
func (s *KeyRegistryService) UpdateLimits(ctx context.Context, id uuid.UUID, updates store.KeyUpdates) (*model.APIKey, error) {
	if updates.Name != nil && strings.TrimSpace(*updates.Name) == "" {
		return nil, NewBadRequest("invalid_request", "name cannot be empty")
	}
	if updates.Owner != nil && strings.TrimSpace(*updates.Owner) == "" {
		return nil, NewBadRequest("invalid_request", "owner cannot be empty")
	}
	if updates.RequestsPerMinute != nil {
		if *updates.RequestsPerMinute < 1 || *updates.RequestsPerMinute > maxRequestsPerMinute {
			return nil, NewBadRequest("invalid_request", "requestsPerMinute must be between 1 and 100000")
		}
	}
	if updates.RequestsPerDay != nil {
		if *updates.RequestsPerDay < 1 || *updates.RequestsPerDay > maxRequestsPerDay {
			return nil, NewBadRequest("invalid_request", "requestsPerDay must be between 1 and 10000000")
		}
	}

	if err := s.store.UpdateAPIKeyLimits(ctx, id, updates); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "API key not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to update API key")
		return nil, NewInternal("internal_error", "Failed to update API key")
	}

	apiKey, err := s.store.GetAPIKeyByID(ctx, id)
	if err != nil {
		return nil, NewNotFound("not_found", "API key not found")
	}
	return apiKey, nil
}

// SetStatus flips a key between active and disabled. A disabled key stops
// resolving immediately for new consume calls; decisions already cached in
// idempotency records stay replayable until their TTL lapses.
func (s *KeyRegistryService) SetStatus(ctx context.Context, id uuid.UUID, status model.APIKeyStatus) (*model.APIKey, error) {
	if status != model.StatusActive && status != model.StatusDisabled {
		return nil, NewBadRequest("invalid_request", "status must be 'active' or 'disabled'")
	}

	if err := s.store.UpdateAPIKeyStatus(ctx, id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "API key not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to update API key status")
		return nil, NewInternal("internal_error", "Failed to update API key status")
	}

	apiKey, err := s.store.GetAPIKeyByID(ctx, id)
	if err != nil {
		return nil, NewNotFound("not_found", "API key not found")
	}
	return apiKey, nil
}

// RotateResult contains the output of a successful key rotation.
type RotateResult struct {
	RawKey    string
	KeyPrefix string
}

// Rotate replaces the key's secret. The old hash stops resolving in the same
// atomic store update that makes the new one valid.
func (s *KeyRegistryService) Rotate(ctx context.Context, id uuid.UUID) (*RotateResult, error) {
	if _, err := s.store.GetAPIKeyByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "API key not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to load API key")
		return nil, NewInternal("internal_error", "Failed to rotate API key")
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate API key")
		return nil, NewInternal("internal_error", "Failed to rotate API key")
	}
	prefix := keyPrefix(rawKey)

	if err := s.store.RotateAPIKey(ctx, id, middleware.SHA256Hex(rawKey), prefix); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "API key not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to rotate API key")
		return nil, NewInternal("internal_error", "Failed to rotate API key")
	}

	return &RotateResult{RawKey: rawKey, KeyPrefix: prefix}, nil
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	return "ak_" + hex.EncodeToString(b), nil
}

func keyPrefix(rawKey string) string {
	return rawKey[:12] + "..."
}

func (s *KeyRegistryService) normalizeLimits(perMinute, perDay *int) (int, int, error) {
	rpm := s.defaultPerMinute
	rpd := s.defaultPerDay

	if perMinute != nil {
		if *perMinute < 1 || *perMinute > maxRequestsPerMinute {
			return 0, 0, fmt.Errorf("requestsPerMinute must be between 1 and 100000")
		}
		rpm = *perMinute
	}

	if perDay != nil {
		if *perDay < 1 || *perDay > maxRequestsPerDay {
			return 0, 0, fmt.Errorf("requestsPerDay must be between 1 and 10000000")
		}
		rpd = *perDay
	}

	return rpm, rpd, nil
}
