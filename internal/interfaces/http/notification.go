package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"famfin/internal/domain/notification"
)

type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error)
}

// NotificationHandler registers the devices that receive sync pushes.
type NotificationHandler struct {
	devices DeviceRegistrar
	logger  *zap.Logger
}

func NewNotificationHandler(devices DeviceRegistrar, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{devices: devices, logger: logger.Named("notification_handler")}
}

type RegisterDeviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
}

// HandleRegisterDevice handles POST /api/devices
func (h *NotificationHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	token, err := h.devices.RegisterDevice(r.Context(), notification.CreateDeviceTokenParams{
		UserID:     userID,
		Token:      req.Token,
		DeviceType: req.DeviceType,
	})
	if err != nil {
		if errors.Is(err, notification.ErrInvalidToken) || errors.Is(err, notification.ErrInvalidDeviceType) {
			writeError(w, h.logger, http.StatusBadRequest, err.Error(), err)
			return
		}
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to register device", err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, map[string]any{
		"success": true,
		"token":   token.Token,
	})
}
