package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quota-admission-service/internal/store"
)

type HealthHandler struct {
	store     store.KeyStore
	backend   string
	startTime time.Time
}

func NewHealthHandler(s store.KeyStore, backend string) *HealthHandler {
	return &HealthHandler{
		store:     s,
		backend:   backend,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Backend       string `json:"backend"`
	TotalAPIKeys  int    `json:"totalApiKeys"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	total, err := h.store.CountAPIKeys(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to count API keys")
		RespondError(w, http.StatusServiceUnavailable, "unhealthy", "Storage backend unreachable")
		return
	}

	RespondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       "1.0.0",
		Backend:       h.backend,
		TotalAPIKeys:  total,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}
