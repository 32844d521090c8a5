// Package bridge connects card readers to the remote store: it tracks card
// presence per reader, verifies signatures, records scans and executes
// remote write requests.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
	"github.com/omarafosh/NFC-Card-Germany/internal/notify"
	"github.com/omarafosh/NFC-Card-Germany/internal/signature"
)

const DefaultDeviceName = "NFC Bridge"

type Config struct {
	NewCardWindow time.Duration
	VerifyTimeout time.Duration
	WriteTimeout  time.Duration
	Access        CardAccess
}

func DefaultConfig() Config {
	return Config{
		NewCardWindow: 50 * time.Millisecond,
		VerifyTimeout: 800 * time.Millisecond,
		WriteTimeout:  5 * time.Second,
		Access:        DefaultCardAccess(),
	}
}

// Bridge consumes one transport's events and runs a device actor per
// attached reader.
type Bridge struct {
	transport hardware.Transport
	deps      *deviceDeps

	mu       sync.RWMutex
	devices  map[hardware.Reader]*device
	order    []*device
	nextID   int
	onChange func()

	wg sync.WaitGroup
}

func New(cfg Config, transport hardware.Transport, scans ScanSync, codec *signature.Codec, notifier notify.Notifier) *Bridge {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Bridge{
		transport: transport,
		deps: &deviceDeps{
			tracker:      Tracker{NewCardWindow: cfg.NewCardWindow},
			sync:         scans,
			verifier:     NewVerifier(codec, cfg.Access, cfg.VerifyTimeout),
			access:       cfg.Access,
			notifier:     notifier,
			writeTimeout: cfg.WriteTimeout,
		},
		devices: make(map[hardware.Reader]*device),
	}
}

// OnDeviceChange registers fn to be called after a reader attaches or
// detaches. It must be set before Run.
func (b *Bridge) OnDeviceChange(fn func()) {
	b.onChange = fn
}

func (b *Bridge) Run(ctx context.Context) error {
	events := make(chan hardware.Event, 32)
	transportDone := make(chan error, 1)
	go func() {
		transportDone <- b.transport.Run(ctx, events)
	}()

	defer func() {
		b.wg.Wait()
		slog.Info("Bridge stopped")
	}()

	for {
		select {
		case ev := <-events:
			b.dispatch(ctx, ev)
		case err := <-transportDone:
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = fmt.Errorf("transport stopped")
			}
			return fmt.Errorf("hardware transport: %w", err)
		case <-ctx.Done():
			// Let the transport unwind; events it flushes on the way out
			// are dropped along with the device actors.
			for {
				select {
				case <-events:
				case <-transportDone:
					return nil
				}
			}
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, ev hardware.Event) {
	switch ev.Kind {
	case hardware.ReaderAttached:
		b.attach(ctx, ev.Reader, ev.At)
	case hardware.ReaderDetached:
		b.detach(ev.Reader)
	case hardware.CardDetected, hardware.CardRemoved:
		d := b.lookup(ev.Reader)
		if d == nil {
			slog.Debug("Event for unknown reader", "kind", ev.Kind, "reader", readerName(ev.Reader))
			return
		}
		d.presence(ev.Kind, ev.UID, ev.At)
	}
}

func (b *Bridge) attach(ctx context.Context, r hardware.Reader, at time.Time) {
	if r == nil {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	b.mu.Lock()
	if _, ok := b.devices[r]; ok {
		b.mu.Unlock()
		return
	}
	id := fmt.Sprintf("device-%d", b.nextID)
	b.nextID++
	d := newDevice(id, r, b.deps, at)
	b.devices[r] = d
	b.order = append(b.order, d)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		d.run(ctx)
	}()

	slog.Info("Reader connected", "device", id, "reader", r.Name())
	b.changed()
}

func (b *Bridge) detach(r hardware.Reader) {
	b.mu.Lock()
	d, ok := b.devices[r]
	if ok {
		delete(b.devices, r)
		for i, o := range b.order {
			if o == d {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	d.detach()
	slog.Info("Reader disconnected", "device", d.id, "reader", r.Name())
	b.changed()
}

func (b *Bridge) changed() {
	if b.onChange != nil {
		b.onChange()
	}
}

func (b *Bridge) lookup(r hardware.Reader) *device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.devices[r]
}

// WriteSignature writes sig to the card with uid on whichever reader holds
// it. It fails with hardware.ErrNoCard when no reader does.
func (b *Bridge) WriteSignature(ctx context.Context, uid string, sig []byte) error {
	uid = signature.NormalizeUID(uid)

	b.mu.RLock()
	var target *device
	for _, d := range b.order {
		if d.UID() == uid {
			target = d
			break
		}
	}
	b.mu.RUnlock()

	if target == nil {
		return fmt.Errorf("%w: %s", hardware.ErrNoCard, uid)
	}
	return target.write(ctx, uid, sig)
}

// Devices returns statistics for attached readers in attach order.
func (b *Bridge) Devices() []DeviceStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]DeviceStats, 0, len(b.order))
	for _, d := range b.order {
		out = append(out, d.Stats())
	}
	return out
}

// Connected reports whether any reader is attached and the label of the
// first one.
func (b *Bridge) Connected() (bool, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.order) == 0 {
		return false, DefaultDeviceName
	}
	return true, b.order[0].reader.Name()
}

func readerName(r hardware.Reader) string {
	if r == nil {
		return ""
	}
	return r.Name()
}
