package dto

import "github.com/omarafosh/NFC-Card-Germany/internal/bridge"

type HealthResponse struct {
	Status string `json:"status"`
}

type DevicesResponse struct {
	Devices []bridge.DeviceStats `json:"devices"`
	Count   int                  `json:"count"`
}

type TerminalResponse struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	DeviceConnected bool   `json:"device_connected"`
	DeviceName      string `json:"device_name"`
}
