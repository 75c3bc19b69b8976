package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/licentra/licentra/internal/models"
	"github.com/licentra/licentra/internal/services"
)

// ResellersHandler handles reseller and quota HTTP requests
type ResellersHandler struct {
	resellerStore *models.ResellerStore
	userStore     *models.UserStore
	quotaService  *services.QuotaService
}

func NewResellersHandler(resellerStore *models.ResellerStore, userStore *models.UserStore, quotaService *services.QuotaService) *ResellersHandler {
	return &ResellersHandler{
		resellerStore: resellerStore,
		userStore:     userStore,
		quotaService:  quotaService,
	}
}

// CreateResellerRequest represents the request body for reseller creation
type CreateResellerRequest struct {
	Name             string `json:"name" validate:"required"`
	MaxUsersQuota    *int   `json:"maxUsersQuota" validate:"omitempty,min=0"`
	MaxLicensesQuota *int   `json:"maxLicensesQuota" validate:"omitempty,min=0"`
}

// UpdateQuotasRequest represents the request body for quota updates
type UpdateQuotasRequest struct {
	MaxUsersQuota    *int `json:"maxUsersQuota" validate:"omitempty,min=0"`
	MaxLicensesQuota *int `json:"maxLicensesQuota" validate:"omitempty,min=0"`
}

// RegisterRoutes registers reseller routes
func (h *ResellersHandler) RegisterRoutes(r chi.Router) {
	r.Route("/resellers", func(r chi.Router) {
		r.Get("/", h.ListResellers)
		r.Post("/", h.CreateReseller)
		r.Post("/recount", h.RecountAll)

		r.Route("/{resellerID}", func(r chi.Router) {
			r.Get("/", h.GetReseller)
			r.Put("/quotas", h.UpdateQuotas)
			r.Post("/recount", h.Recount)
			r.Get("/users", h.ListUsers)
			r.Post("/users/{userID}", h.AssignUser)
		})
	})
}

func (h *ResellersHandler) CreateReseller(w http.ResponseWriter, r *http.Request) {
	var req CreateResellerRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Reseller name is required")
		return
	}

	reseller, err := h.resellerStore.Create(r.Context(), req.Name, req.MaxUsersQuota, req.MaxLicensesQuota)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create reseller")
		RespondError(w, http.StatusInternalServerError, "Failed to create reseller")
		return
	}

	RespondJSON(w, http.StatusCreated, reseller)
}

func (h *ResellersHandler) ListResellers(w http.ResponseWriter, r *http.Request) {
	resellers, err := h.resellerStore.List(r.Context())
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to list resellers")
		return
	}

	RespondJSON(w, http.StatusOK, resellers)
}

func (h *ResellersHandler) GetReseller(w http.ResponseWriter, r *http.Request) {
	reseller, ok := h.loadReseller(w, r)
	if !ok {
		return
	}

	RespondJSON(w, http.StatusOK, reseller)
}

// UpdateQuotas applies new quota ceilings. Omitted fields keep their current
// value; a quota below current usage is rejected with the validation message.
func (h *ResellersHandler) UpdateQuotas(w http.ResponseWriter, r *http.Request) {
	reseller, ok := h.loadReseller(w, r)
	if !ok {
		return
	}

	var req UpdateQuotasRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.quotaService.UpdateReseller(r.Context(), reseller.ID, req.MaxUsersQuota, req.MaxLicensesQuota)
	if err != nil {
		var validationErr *services.QuotaValidationError
		if errors.As(err, &validationErr) {
			RespondError(w, http.StatusUnprocessableEntity, validationErr.Message)
			return
		}
		log.Error().Err(err).Int("resellerId", reseller.ID).Msg("Failed to update quotas")
		RespondError(w, http.StatusInternalServerError, "Failed to update quotas")
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}

func (h *ResellersHandler) Recount(w http.ResponseWriter, r *http.Request) {
	reseller, ok := h.loadReseller(w, r)
	if !ok {
		return
	}

	if err := h.quotaService.UpdateCounts(r.Context(), reseller.ID); err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to recount")
		return
	}

	updated, err := h.resellerStore.Get(r.Context(), reseller.ID)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to load reseller")
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}

// RecountAll recomputes counters for every reseller
func (h *ResellersHandler) RecountAll(w http.ResponseWriter, r *http.Request) {
	if err := h.quotaService.UpdateAllCounts(r.Context()); err != nil {
		log.Error().Err(err).Msg("Bulk recount had failures")
		RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"recounted": true})
}

func (h *ResellersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	reseller, ok := h.loadReseller(w, r)
	if !ok {
		return
	}

	users, err := h.userStore.ListByReseller(r.Context(), reseller.ID)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	RespondJSON(w, http.StatusOK, users)
}

// AssignUser assigns a user to the reseller, gated by the user quota
func (h *ResellersHandler) AssignUser(w http.ResponseWriter, r *http.Request) {
	reseller, ok := h.loadReseller(w, r)
	if !ok {
		return
	}

	userID, err := URLParamInt(r, "userID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	if err := h.quotaService.AssignUserToReseller(r.Context(), reseller.ID, userID); err != nil {
		var quotaErr *services.QuotaExceededError
		if errors.As(err, &quotaErr) {
			RespondError(w, http.StatusUnprocessableEntity, quotaErr.Error())
			return
		}
		if err == models.ErrUserNotFound {
			RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error().Err(err).Int("resellerId", reseller.ID).Int("userId", userID).Msg("Failed to assign user")
		RespondError(w, http.StatusInternalServerError, "Failed to assign user")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"assigned": true})
}

func (h *ResellersHandler) loadReseller(w http.ResponseWriter, r *http.Request) (*models.Reseller, bool) {
	id, err := URLParamInt(r, "resellerID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid reseller ID")
		return nil, false
	}

	reseller, err := h.resellerStore.Get(r.Context(), id)
	if err == models.ErrResellerNotFound {
		RespondError(w, http.StatusNotFound, "Reseller not found")
		return nil, false
	}
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to load reseller")
		return nil, false
	}

	return reseller, true
}
