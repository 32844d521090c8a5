package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omarafosh/NFC-Card-Germany/internal/api/http/dto"
	"github.com/omarafosh/NFC-Card-Germany/internal/bridge"
)

type DeviceLister interface {
	Devices() []bridge.DeviceStats
}

type DevicesHandler struct {
	devices DeviceLister
}

func NewDevicesHandler(devices DeviceLister) *DevicesHandler {
	return &DevicesHandler{devices: devices}
}

func (h *DevicesHandler) List(ctx *gin.Context) {
	devices := h.devices.Devices()
	ctx.JSON(http.StatusOK, dto.DevicesResponse{Devices: devices, Count: len(devices)})
}
