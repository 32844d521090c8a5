package store

import (
	"context"
	"time"
)

type TerminalMetadata struct {
	DeviceConnected bool      `json:"device_connected"`
	DeviceName      *string   `json:"device_name"`
	IsShutdown      bool      `json:"is_shutdown"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
}

type Terminal struct {
	ID            int64
	BranchID      int64
	Name          string
	ConnectionURL string
	LastSync      *time.Time
	Metadata      TerminalMetadata
}

type TerminalStore interface {
	// EnsureTerminal creates the terminal, and a default branch when none
	// exists, if no terminal with id is present.
	EnsureTerminal(ctx context.Context, id int64, name string) (created bool, err error)
	UpdateHeartbeat(ctx context.Context, id int64, meta TerminalMetadata) error
	GetTerminal(ctx context.Context, id int64) (Terminal, error)
}
