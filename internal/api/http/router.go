package http

import (
	"github.com/gin-gonic/gin"

	"github.com/omarafosh/NFC-Card-Germany/internal/api/http/handler"
	"github.com/omarafosh/NFC-Card-Germany/internal/api/http/middleware"
)

type Services struct {
	Devices     handler.DeviceLister
	Status      handler.DeviceStatus
	TerminalID  int64
	Name        string
	TokenSecret string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	v1 := engine.Group("/v1")
	if srvs.TokenSecret != "" {
		v1.Use(middleware.JWTAuth(srvs.TokenSecret))
	}

	devicesHandler := handler.NewDevicesHandler(srvs.Devices)
	v1.GET("/devices", devicesHandler.List)

	terminalHandler := handler.NewTerminalHandler(srvs.TerminalID, srvs.Name, srvs.Status)
	v1.GET("/terminal", terminalHandler.Get)
}
