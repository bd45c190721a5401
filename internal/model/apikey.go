package model

import (
	"time"

	"github.com/google/uuid"
)

type APIKeyStatus string

const (
	StatusActive   APIKeyStatus = "active"
	StatusDisabled APIKeyStatus = "disabled"
)

type APIKey struct {
	ID                uuid.UUID    `json:"id"`
	Name              string       `json:"name"`
	Owner             string       `json:"owner"`
	KeyHash           string       `json:"-"`
	KeyPrefix         string       `json:"keyPrefix"`
	RequestsPerMinute int          `json:"requestsPerMinute"`
	RequestsPerDay    int          `json:"requestsPerDay"`
	Status            APIKeyStatus `json:"status"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}
