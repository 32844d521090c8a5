package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sstallion/go-hid"
)

const (
	ACR122UVendorID  uint16 = 0x072F
	ACR122UProductID uint16 = 0x2200

	hidReportSize    = 272
	maxHIDIOFailures = 5
)

type HIDConfig struct {
	VendorID     uint16
	ProductID    uint16
	PollInterval time.Duration
	Settle       time.Duration
	Reannounce   time.Duration
	RetryDelay   time.Duration
}

func DefaultHIDConfig() HIDConfig {
	return HIDConfig{
		VendorID:     ACR122UVendorID,
		ProductID:    ACR122UProductID,
		PollInterval: 500 * time.Millisecond,
		Settle:       50 * time.Millisecond,
		Reannounce:   3 * time.Second,
		RetryDelay:   2 * time.Second,
	}
}

// HIDTransport polls a single USB HID reader for card presence.
type HIDTransport struct {
	cfg HIDConfig
}

func NewHIDTransport(cfg HIDConfig) *HIDTransport {
	return &HIDTransport{cfg: cfg}
}

func (t *HIDTransport) Run(ctx context.Context, sink chan<- Event) error {
	if err := hid.Init(); err != nil {
		return fmt.Errorf("failed to initialise hidapi: %w", err)
	}
	defer hid.Exit()

	for {
		dev, err := hid.OpenFirst(t.cfg.VendorID, t.cfg.ProductID)
		if err != nil {
			slog.Debug("HID reader not found", "vendor_id", fmt.Sprintf("%04X", t.cfg.VendorID),
				"product_id", fmt.Sprintf("%04X", t.cfg.ProductID), "error", err)
			if !sleepCtx(ctx, t.cfg.RetryDelay) {
				return nil
			}
			continue
		}

		name, err := dev.GetProductStr()
		if err != nil || name == "" {
			name = fmt.Sprintf("HID %04X:%04X", t.cfg.VendorID, t.cfg.ProductID)
		}
		reader := newHIDReader(name, dev, t.cfg.Settle)
		slog.Info("HID reader opened", "reader", name)

		err = t.session(ctx, reader, sink)
		reader.Close()
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("HID reader lost", "reader", name, "error", err)
		if !sleepCtx(ctx, t.cfg.RetryDelay) {
			return nil
		}
	}
}

// session polls one opened device until it fails repeatedly or ctx ends.
func (t *HIDTransport) session(ctx context.Context, reader *HIDReader, sink chan<- Event) error {
	if !emit(ctx, sink, Event{Kind: ReaderAttached, Reader: reader}) {
		return ctx.Err()
	}

	var (
		last      string
		announced time.Time
		failures  int
	)
	defer func() {
		// The orchestrator may already be gone during shutdown.
		detachCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if last != "" {
			emit(detachCtx, sink, Event{Kind: CardRemoved, Reader: reader, UID: last})
		}
		emit(detachCtx, sink, Event{Kind: ReaderDetached, Reader: reader})
	}()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		uid, err := reader.UID(ctx)
		switch {
		case err == nil:
			failures = 0
		case isNoCard(err):
			failures = 0
			uid = ""
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			slog.Debug("HID poll failed", "reader", reader.Name(), "failures", failures, "error", err)
			if failures >= maxHIDIOFailures {
				return err
			}
			continue
		}

		if uid == "" {
			if last != "" {
				emit(ctx, sink, Event{Kind: CardRemoved, Reader: reader, UID: last})
				last = ""
			}
			continue
		}

		now := time.Now()
		if uid != last || now.Sub(announced) >= t.cfg.Reannounce {
			if !emit(ctx, sink, Event{Kind: CardDetected, Reader: reader, UID: uid, At: now}) {
				return ctx.Err()
			}
			announced = now
			last = uid
		}
	}
}

func isNoCard(err error) bool {
	var se *StatusError
	return errors.As(err, &se) || errors.Is(err, ErrShortResponse) || errors.Is(err, ErrNoCard)
}

type hidDevice interface {
	SendFeatureReport(b []byte) (int, error)
	GetFeatureReport(b []byte) (int, error)
	Close() error
}

// HIDReader sends pseudo-APDUs wrapped in CCID frames as feature report 0.
type HIDReader struct {
	apduReader
	dev    hidDevice
	settle time.Duration

	ioMu   sync.Mutex
	seq    byte
	closed bool
}

func newHIDReader(name string, dev hidDevice, settle time.Duration) *HIDReader {
	r := &HIDReader{dev: dev, settle: settle}
	r.apduReader = apduReader{name: name, tx: r}
	return r
}

func (r *HIDReader) transmit(ctx context.Context, cmd []byte) ([]byte, error) {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()

	if r.closed {
		return nil, ErrNoCard
	}

	frame := buildXfrBlock(r.seq, cmd)
	r.seq++

	report := append([]byte{0x00}, frame...)
	if _, err := r.dev.SendFeatureReport(report); err != nil {
		return nil, fmt.Errorf("send feature report: %w", err)
	}
	if !sleepCtx(ctx, r.settle) {
		return nil, ctx.Err()
	}

	buf := make([]byte, hidReportSize)
	n, err := r.dev.GetFeatureReport(buf)
	if err != nil {
		return nil, fmt.Errorf("get feature report: %w", err)
	}
	if n <= 1 {
		return nil, ErrShortResponse
	}
	return parseDataBlock(buf[1:n])
}

func (r *HIDReader) Close() error {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.dev.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
