package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/quota-admission-service/internal/model"
)

// KeyStore defines operations for API key identity management.
// GetAPIKeyByHash resolves only ACTIVE keys: a disabled key, a rotated-away
// hash and a hash that never existed are all the same ErrNotFound.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, page, perPage int) ([]*model.APIKey, int, error)
	CountAPIKeys(ctx context.Context) (int, error)
	UpdateAPIKeyLimits(ctx context.Context, id uuid.UUID, updates KeyUpdates) error
	UpdateAPIKeyStatus(ctx context.Context, id uuid.UUID, status model.APIKeyStatus) error
	RotateAPIKey(ctx context.Context, id uuid.UUID, keyHash, keyPrefix string) error
}

// QuotaStore is the consistency-critical core. Consume and Refund execute as
// one atomic read-modify-write each: window counts and the idempotency record
// for a request change together or not at all. Replaying a requestId before
// its record expires returns the stored decision without touching any window.
type QuotaStore interface {
	Consume(ctx context.Context, key *model.APIKey, requestID string, cost int) (*model.Decision, error)
	Refund(ctx context.Context, key *model.APIKey, requestID string) (bool, error)
	Usage(ctx context.Context, key *model.APIKey) (*model.UsageSnapshot, error)
}

// Store combines both KeyStore and QuotaStore. The backend is chosen once at
// process startup: Postgres when DATABASE_URL is configured, in-memory
// otherwise.
type Store interface {
	KeyStore
	QuotaStore
}

type KeyUpdates struct {
	Name              *string `json:"name,omitempty"`
	Owner             *string `json:"owner,omitempty"`
	RequestsPerMinute *int    `json:"requestsPerMinute,omitempty"`
	RequestsPerDay    *int    `json:"requestsPerDay,omitempty"`
}
