package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/licentra/licentra/internal/config"
	"github.com/licentra/licentra/internal/models"
	"github.com/licentra/licentra/internal/services"
)

// LicensesHandler handles license management HTTP requests
type LicensesHandler struct {
	cfg             *config.AppConfig
	licenseStore    *models.LicenseStore
	activationStore *models.ActivationStore
	resellerStore   *models.ResellerStore
	bindingService  *services.BindingService
	quotaService    *services.QuotaService
	activityService *services.ActivityService
}

func NewLicensesHandler(
	cfg *config.AppConfig,
	licenseStore *models.LicenseStore,
	activationStore *models.ActivationStore,
	resellerStore *models.ResellerStore,
	bindingService *services.BindingService,
	quotaService *services.QuotaService,
	activityService *services.ActivityService,
) *LicensesHandler {
	return &LicensesHandler{
		cfg:             cfg,
		licenseStore:    licenseStore,
		activationStore: activationStore,
		resellerStore:   resellerStore,
		bindingService:  bindingService,
		quotaService:    quotaService,
		activityService: activityService,
	}
}

// CreateLicenseRequest represents the request body for license issuance.
// Unset fields fall back to the configured issuing defaults.
type CreateLicenseRequest struct {
	MaxDevices *int       `json:"maxDevices" validate:"omitempty,min=1"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	Perpetual  bool       `json:"perpetual"`
	DeviceType *string    `json:"deviceType"`
	Notes      *string    `json:"notes"`
	ResellerID *int       `json:"resellerId"`
	UserID     *int       `json:"userId"`
}

// RegisterRoutes registers license routes
func (h *LicensesHandler) RegisterRoutes(r chi.Router) {
	r.Route("/licenses", func(r chi.Router) {
		r.Get("/", h.ListLicenses)
		r.Post("/", h.CreateLicense)

		r.Route("/{licenseID}", func(r chi.Router) {
			r.Get("/", h.GetLicense)
			r.Delete("/", h.DeleteLicense)
			r.Post("/suspend", h.Suspend)
			r.Post("/unsuspend", h.Unsuspend)
			r.Post("/expire", h.Expire)
			r.Post("/reset-devices", h.ResetDevices)
			r.Get("/devices", h.ListDevices)
			r.Delete("/devices/{deviceHash}", h.UnbindDevice)
			r.Get("/activity", h.GetActivity)
		})
	})
}

// CreateLicense issues a new license with a generated key
func (h *LicensesHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	var req CreateLicenseRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	defaults := h.cfg.Licensing()

	maxDevices := defaults.DefaultMaxDevices
	if req.MaxDevices != nil {
		maxDevices = *req.MaxDevices
	}

	expiresAt := req.ExpiresAt
	if expiresAt == nil && !req.Perpetual && defaults.DefaultValidityDays > 0 {
		t := time.Now().AddDate(0, 0, defaults.DefaultValidityDays)
		expiresAt = &t
	}

	// Gate on the reseller's license quota before issuing
	if req.ResellerID != nil {
		reseller, err := h.resellerStore.Get(r.Context(), *req.ResellerID)
		if err != nil {
			RespondError(w, http.StatusNotFound, "Reseller not found")
			return
		}
		if !h.quotaService.CanAddLicense(reseller) {
			RespondError(w, http.StatusUnprocessableEntity, "License quota exceeded for reseller")
			return
		}
	}

	license, err := h.licenseStore.Create(r.Context(), maxDevices, expiresAt, req.DeviceType, req.Notes, req.ResellerID, req.UserID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create license")
		RespondError(w, http.StatusInternalServerError, "Failed to create license")
		return
	}

	if req.ResellerID != nil {
		if err := h.quotaService.UpdateCounts(r.Context(), *req.ResellerID); err != nil {
			log.Error().Err(err).Int("resellerId", *req.ResellerID).Msg("Failed to recount reseller after issue")
		}
	}

	RespondJSON(w, http.StatusCreated, license)
}

// ListLicenses lists live licenses, optionally fuzzy-filtered by ?search=
func (h *LicensesHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.licenseStore.List(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list licenses")
		RespondError(w, http.StatusInternalServerError, "Failed to list licenses")
		return
	}

	RespondJSON(w, http.StatusOK, licenses)
}

func (h *LicensesHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	license, ok := h.loadLicense(w, r)
	if !ok {
		return
	}

	RespondJSON(w, http.StatusOK, license)
}

// DeleteLicense soft-deletes a license and recounts its reseller
func (h *LicensesHandler) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	license, ok := h.loadLicense(w, r)
	if !ok {
		return
	}

	if err := h.licenseStore.SoftDelete(r.Context(), license.ID); err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to delete license")
		return
	}

	if err := h.quotaService.ReleaseLicense(r.Context(), license); err != nil {
		log.Error().Err(err).Int("licenseId", license.ID).Msg("Failed to recount reseller after delete")
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *LicensesHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.bindingService.Suspend)
}

func (h *LicensesHandler) Unsuspend(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.bindingService.Unsuspend)
}

func (h *LicensesHandler) Expire(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.bindingService.Expire)
}

func (h *LicensesHandler) ResetDevices(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.bindingService.ResetDeviceBindings)
}

func (h *LicensesHandler) lifecycleOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, license *models.License) error) {
	license, ok := h.loadLicense(w, r)
	if !ok {
		return
	}

	if err := op(r.Context(), license); err != nil {
		log.Error().Err(err).Int("licenseId", license.ID).Msg("License lifecycle operation failed")
		RespondError(w, http.StatusInternalServerError, "Operation failed")
		return
	}

	RespondJSON(w, http.StatusOK, license)
}

// ListDevices lists all activations of a license
func (h *LicensesHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	license, ok := h.loadLicense(w, r)
	if !ok {
		return
	}

	activations, err := h.activationStore.ListByLicense(r.Context(), license.ID)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to list devices")
		return
	}

	RespondJSON(w, http.StatusOK, activations)
}

// UnbindDevice removes a single device binding
func (h *LicensesHandler) UnbindDevice(w http.ResponseWriter, r *http.Request) {
	license, ok := h.loadLicense(w, r)
	if !ok {
		return
	}

	removed, err := h.bindingService.Unbind(r.Context(), license, chi.URLParam(r, "deviceHash"))
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to unbind device")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// GetActivity returns the display-only device activity summary
func (h *LicensesHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	license, ok := h.loadLicense(w, r)
	if !ok {
		return
	}

	activity, err := h.activityService.Summary(r.Context(), license.ID)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to load device activity")
		return
	}

	RespondJSON(w, http.StatusOK, activity)
}

func (h *LicensesHandler) loadLicense(w http.ResponseWriter, r *http.Request) (*models.License, bool) {
	id, err := URLParamInt(r, "licenseID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid license ID")
		return nil, false
	}

	license, err := h.licenseStore.Get(r.Context(), id)
	if err == models.ErrLicenseNotFound {
		RespondError(w, http.StatusNotFound, "License not found")
		return nil, false
	}
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to load license")
		return nil, false
	}

	return license, true
}
