package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omarafosh/NFC-Card-Germany/internal/api/http/dto"
)

type DeviceStatus interface {
	Connected() (bool, string)
}

type TerminalHandler struct {
	id     int64
	name   string
	status DeviceStatus
}

func NewTerminalHandler(id int64, name string, status DeviceStatus) *TerminalHandler {
	return &TerminalHandler{id: id, name: name, status: status}
}

func (h *TerminalHandler) Get(ctx *gin.Context) {
	connected, deviceName := h.status.Connected()
	ctx.JSON(http.StatusOK, dto.TerminalResponse{
		ID:              h.id,
		Name:            h.name,
		DeviceConnected: connected,
		DeviceName:      deviceName,
	})
}
