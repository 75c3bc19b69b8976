package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/licentra/licentra/internal/models"
	"github.com/licentra/licentra/internal/services"
)

// UsersHandler handles managed-user HTTP requests
type UsersHandler struct {
	userStore    *models.UserStore
	quotaService *services.QuotaService
}

func NewUsersHandler(userStore *models.UserStore, quotaService *services.QuotaService) *UsersHandler {
	return &UsersHandler{
		userStore:    userStore,
		quotaService: quotaService,
	}
}

// CreateUserRequest represents the request body for user creation
type CreateUserRequest struct {
	Name string `json:"name" validate:"required"`
}

// RegisterRoutes registers user routes
func (h *UsersHandler) RegisterRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.CreateUser)

		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Delete("/reseller", h.RemoveFromReseller)
		})
	})
}

func (h *UsersHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "User name is required")
		return
	}

	user, err := h.userStore.Create(r.Context(), req.Name)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	RespondJSON(w, http.StatusCreated, user)
}

func (h *UsersHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamInt(r, "userID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := h.userStore.Get(r.Context(), id)
	if err == models.ErrUserNotFound {
		RespondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	RespondJSON(w, http.StatusOK, user)
}

// RemoveFromReseller clears the user's reseller assignment. Removing a user
// that has no reseller reports removed=false, not an error.
func (h *UsersHandler) RemoveFromReseller(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamInt(r, "userID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	removed, err := h.quotaService.RemoveUserFromReseller(r.Context(), id)
	if err == models.ErrUserNotFound {
		RespondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to remove user from reseller")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}
