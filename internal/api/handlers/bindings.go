package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/licentra/licentra/internal/metrics"
	"github.com/licentra/licentra/internal/services"
)

// BindingsHandler exposes the validate-and-bind boundary operation
type BindingsHandler struct {
	bindingService *services.BindingService
	metricsManager *metrics.Manager
}

func NewBindingsHandler(bindingService *services.BindingService, metricsManager *metrics.Manager) *BindingsHandler {
	return &BindingsHandler{
		bindingService: bindingService,
		metricsManager: metricsManager,
	}
}

// ValidateBindingRequest represents the request body for device validation
type ValidateBindingRequest struct {
	LicenseKey string            `json:"licenseKey" validate:"required"`
	DeviceHash string            `json:"deviceHash" validate:"required"`
	DeviceInfo map[string]string `json:"deviceInfo"`
}

// RegisterRoutes registers binding routes
func (h *BindingsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/validate", h.ValidateAndBind)
}

// ValidateAndBind validates a license key for a device and binds it when the
// lifecycle and capacity checks pass.
func (h *BindingsHandler) ValidateAndBind(w http.ResponseWriter, r *http.Request) {
	var req ValidateBindingRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "licenseKey and deviceHash are required")
		return
	}

	result, err := h.bindingService.ValidateAndBind(r.Context(), req.LicenseKey, req.DeviceHash, req.DeviceInfo)
	if err != nil {
		log.Error().Err(err).Msg("Device binding failed")
	}

	if h.metricsManager != nil {
		h.metricsManager.RecordBindResult(string(result.Code))
	}

	RespondJSON(w, statusForBindingCode(result.Code), result)
}

func statusForBindingCode(code services.BindingCode) int {
	switch code {
	case services.CodeDeviceBound, services.CodeDeviceAlreadyBound:
		return http.StatusOK
	case services.CodeLicenseNotFound:
		return http.StatusNotFound
	case services.CodeBindingFailed:
		return http.StatusInternalServerError
	default:
		// Policy rejections: expired, inactive, at capacity
		return http.StatusForbidden
	}
}
