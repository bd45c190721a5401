package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quota-admission-service/internal/handler"
	"github.com/quota-admission-service/internal/httputil"
	"github.com/quota-admission-service/internal/middleware"
	"github.com/quota-admission-service/internal/model"
	"github.com/quota-admission-service/internal/service"
	"github.com/quota-admission-service/internal/store"
)

// --- List API Keys ---

type ListAPIKeysHandler struct {
	svc *service.KeyRegistryService
}

func NewListAPIKeysHandler(svc *service.KeyRegistryService) *ListAPIKeysHandler {
	return &ListAPIKeysHandler{svc: svc}
}

type listAPIKeysResponse struct {
	APIKeys []apiKeyItem `json:"apiKeys"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"perPage"`
}

type apiKeyItem struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Owner     string     `json:"owner"`
	KeyPrefix string     `json:"keyPrefix"`
	Limits    limitsJSON `json:"limits"`
	Status    string     `json:"status"`
	CreatedAt string     `json:"createdAt"`
}

type limitsJSON struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
	RequestsPerDay    int `json:"requestsPerDay"`
}

func (h *ListAPIKeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	keys, total, err := h.svc.List(r.Context(), page, perPage)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	items := make([]apiKeyItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, toAPIKeyItem(key))
	}

	handler.RespondJSON(w, http.StatusOK, listAPIKeysResponse{
		APIKeys: items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// --- Get API Key ---

type GetAPIKeyHandler struct {
	svc *service.KeyRegistryService
}

func NewGetAPIKeyHandler(svc *service.KeyRegistryService) *GetAPIKeyHandler {
	return &GetAPIKeyHandler{svc: svc}
}

// ServeHTTP returns key metadata. The response never includes the secret or
// its hash.
func (h *GetAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	key, err := h.svc.Get(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, toAPIKeyItem(key))
}

// --- Create API Key ---

type CreateAPIKeyHandler struct {
	svc *service.KeyRegistryService
}

func NewCreateAPIKeyHandler(svc *service.KeyRegistryService) *CreateAPIKeyHandler {
	return &CreateAPIKeyHandler{svc: svc}
}

type createAPIKeyRequest struct {
	Name   string      `json:"name"`
	Owner  string      `json:"owner"`
	Limits *limitsJSON `json:"limits,omitempty"`
}

type createAPIKeyResponse struct {
	ID        uuid.UUID  `json:"id"`
	APIKey    string     `json:"apiKey"`
	Name      string     `json:"name"`
	Owner     string     `json:"owner"`
	Limits    limitsJSON `json:"limits"`
	CreatedAt string     `json:"createdAt"`
}

// ServeHTTP creates a key and returns the raw secret. This response is the
// only time the secret is ever shown.
func (h *CreateAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	input := service.CreateKeyInput{Name: req.Name, Owner: req.Owner}
	if req.Limits != nil {
		input.RequestsPerMinute = &req.Limits.RequestsPerMinute
		input.RequestsPerDay = &req.Limits.RequestsPerDay
	}

	result, err := h.svc.Create(r.Context(), input)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("id", result.APIKey.ID.String()).
		Str("admin", getAdmin(r)).
		Msg("API key created")

	handler.RespondJSON(w, http.StatusCreated, createAPIKeyResponse{
		ID:     result.APIKey.ID,
		APIKey: result.RawKey,
		Name:   result.APIKey.Name,
		Owner:  result.APIKey.Owner,
		Limits: limitsJSON{
			RequestsPerMinute: result.APIKey.RequestsPerMinute,
			RequestsPerDay:    result.APIKey.RequestsPerDay,
		},
		CreatedAt: result.APIKey.CreatedAt.Format(time.RFC3339),
	})
}

// --- Update API Key limits ---

type UpdateAPIKeyHandler struct {
	svc *service.KeyRegistryService
}

func NewUpdateAPIKeyHandler(svc *service.KeyRegistryService) *UpdateAPIKeyHandler {
	return &UpdateAPIKeyHandler{svc: svc}
}

func (h *UpdateAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	var updates store.KeyUpdates
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&updates); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	key, err := h.svc.UpdateLimits(r.Context(), id, updates)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, toAPIKeyItem(key))
}

// --- Set API Key status ---

type SetAPIKeyStatusHandler struct {
	svc *service.KeyRegistryService
}

func NewSetAPIKeyStatusHandler(svc *service.KeyRegistryService) *SetAPIKeyStatusHandler {
	return &SetAPIKeyStatusHandler{svc: svc}
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type setStatusResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

func (h *SetAPIKeyStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	key, err := h.svc.SetStatus(r.Context(), id, model.APIKeyStatus(req.Status))
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("id", id.String()).
		Str("status", string(key.Status)).
		Str("admin", getAdmin(r)).
		Msg("API key status changed")

	handler.RespondJSON(w, http.StatusOK, setStatusResponse{ID: key.ID, Status: string(key.Status)})
}

// --- Rotate API Key ---

type RotateAPIKeyHandler struct {
	svc *service.KeyRegistryService
}

func NewRotateAPIKeyHandler(svc *service.KeyRegistryService) *RotateAPIKeyHandler {
	return &RotateAPIKeyHandler{svc: svc}
}

type rotateAPIKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	APIKey    string    `json:"apiKey"`
	KeyPrefix string    `json:"keyPrefix"`
}

// ServeHTTP rotates the key's secret. The previous secret stops resolving in
// the same step; the new raw secret is shown once here.
func (h *RotateAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return
	}

	result, err := h.svc.Rotate(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("id", id.String()).
		Str("admin", getAdmin(r)).
		Msg("API key rotated")

	handler.RespondJSON(w, http.StatusOK, rotateAPIKeyResponse{
		ID:        id,
		APIKey:    result.RawKey,
		KeyPrefix: result.KeyPrefix,
	})
}

// --- Helpers ---

func getAdmin(r *http.Request) string {
	return middleware.GetAdminEmail(r.Context())
}

func toAPIKeyItem(key *model.APIKey) apiKeyItem {
	return apiKeyItem{
		ID:        key.ID,
		Name:      key.Name,
		Owner:     key.Owner,
		KeyPrefix: key.KeyPrefix,
		Limits: limitsJSON{
			RequestsPerMinute: key.RequestsPerMinute,
			RequestsPerDay:    key.RequestsPerDay,
		},
		Status:    string(key.Status),
		CreatedAt: key.CreatedAt.Format(time.RFC3339),
	}
}
