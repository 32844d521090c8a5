package bridge

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

type HeartbeatSync interface {
	Heartbeat(ctx context.Context, meta store.TerminalMetadata) error
}

// DeviceStatus reports reader connectivity; *Bridge implements it.
type DeviceStatus interface {
	Connected() (bool, string)
}

type HeartbeatConfig struct {
	Interval        time.Duration
	ShutdownTimeout time.Duration
}

// Emitter publishes terminal liveness on a ticker and whenever Trigger is
// called.
type Emitter struct {
	cfg      HeartbeatConfig
	sync     HeartbeatSync
	status   DeviceStatus
	trigger  chan struct{}
	shutdown atomic.Bool
}

func NewEmitter(cfg HeartbeatConfig, sync HeartbeatSync, status DeviceStatus) *Emitter {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Emitter{
		cfg:     cfg,
		sync:    sync,
		status:  status,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate heartbeat. Requests made while one is
// pending coalesce.
func (e *Emitter) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Emitter) Run(ctx context.Context) error {
	e.beat(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.beat(ctx)
		case <-e.trigger:
			e.beat(ctx)
		}
	}
}

func (e *Emitter) beat(ctx context.Context) {
	if e.shutdown.Load() {
		return
	}
	connected, name := e.status.Connected()
	meta := store.TerminalMetadata{
		DeviceConnected: connected,
		DeviceName:      &name,
		LastHeartbeat:   time.Now().UTC(),
	}
	if err := e.sync.Heartbeat(ctx, meta); err != nil {
		if ctx.Err() == nil {
			slog.Warn("Heartbeat failed", "error", err)
		}
		return
	}
	slog.Debug("Heartbeat sent", "device_connected", connected, "device_name", name)
}

// Shutdown marks the terminal offline. It runs on its own deadline because
// the caller's context is usually already cancelled.
func (e *Emitter) Shutdown() error {
	e.shutdown.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()

	err := e.sync.Heartbeat(ctx, store.TerminalMetadata{
		DeviceConnected: false,
		DeviceName:      nil,
		IsShutdown:      true,
		LastHeartbeat:   time.Now().UTC(),
	})
	if err != nil {
		slog.Error("Shutdown heartbeat failed", "error", err)
		return err
	}
	slog.Info("Terminal marked offline")
	return nil
}
