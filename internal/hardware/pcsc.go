package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebfe/scard"
)

const pnpNotification = `\\?PnP?\Notification`

type PCSCConfig struct {
	// PollTimeout bounds each GetStatusChange wait so cancellation and
	// reader enumeration are noticed promptly.
	PollTimeout time.Duration
	RetryDelay  time.Duration
}

func DefaultPCSCConfig() PCSCConfig {
	return PCSCConfig{
		PollTimeout: time.Second,
		RetryDelay:  2 * time.Second,
	}
}

// scardContext is the part of *scard.Context the transport uses.
type scardContext interface {
	ListReaders() ([]string, error)
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
	Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (scardCard, error)
	Release() error
}

type scardCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Disconnect(d scard.Disposition) error
}

type systemContext struct {
	*scard.Context
}

func (c systemContext) Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (scardCard, error) {
	card, err := c.Context.Connect(reader, mode, proto)
	if err != nil {
		return nil, err
	}
	return card, nil
}

func establishSystemContext() (scardContext, error) {
	sc, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return systemContext{sc}, nil
}

// PCSCTransport watches every reader known to the PC/SC service.
type PCSCTransport struct {
	cfg       PCSCConfig
	establish func() (scardContext, error)
}

func NewPCSCTransport(cfg PCSCConfig) *PCSCTransport {
	return &PCSCTransport{cfg: cfg, establish: establishSystemContext}
}

func (t *PCSCTransport) Run(ctx context.Context, sink chan<- Event) error {
	for {
		sc, err := t.establish()
		if err != nil {
			slog.Error("Failed to establish PC/SC context", "error", err)
		} else {
			err = t.watch(ctx, sc, sink)
			sc.Release()
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("PC/SC monitor stopped, restarting", "error", err)
		}
		if !sleepCtx(ctx, t.cfg.RetryDelay) {
			return nil
		}
	}
}

func (t *PCSCTransport) watch(ctx context.Context, sc scardContext, sink chan<- Event) error {
	readers := make(map[string]*PCSCReader)
	pnpState := scard.StateUnaware

	defer func() {
		detachCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for name, r := range readers {
			t.detach(detachCtx, r, sink)
			delete(readers, name)
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		names, err := sc.ListReaders()
		if err != nil && !errors.Is(err, scard.ErrNoReadersAvailable) {
			slog.Warn("Failed to enumerate readers", "error", err)
			names = nil
			for name := range readers {
				names = append(names, name)
			}
		}
		t.reconcile(ctx, names, readers, sink)

		states := make([]scard.ReaderState, 0, len(readers)+1)
		states = append(states, scard.ReaderState{Reader: pnpNotification, CurrentState: pnpState})
		order := make([]*PCSCReader, 0, len(readers))
		for _, r := range readers {
			states = append(states, scard.ReaderState{Reader: r.Name(), CurrentState: r.state})
			order = append(order, r)
		}

		err = sc.GetStatusChange(states, t.cfg.PollTimeout)
		switch {
		case err == nil:
		case errors.Is(err, scard.ErrTimeout):
			continue
		case errors.Is(err, scard.ErrUnknownReader), errors.Is(err, scard.ErrReaderUnavailable):
			// A reader vanished between enumeration and the wait.
			continue
		default:
			return fmt.Errorf("get status change: %w", err)
		}

		pnpState = states[0].EventState &^ scard.StateChanged
		for i, r := range order {
			st := states[i+1]
			if st.EventState&scard.StateChanged == 0 {
				continue
			}
			r.state = st.EventState &^ scard.StateChanged
			t.presence(ctx, r, st.EventState, sink)
		}
	}
}

// reconcile attaches new readers and detaches vanished ones.
func (t *PCSCTransport) reconcile(ctx context.Context, names []string, readers map[string]*PCSCReader, sink chan<- Event) {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		seen[name] = true
		if _, ok := readers[name]; ok {
			continue
		}
		r, err := t.newReader(name)
		if err != nil {
			slog.Error("Failed to open reader", "reader", name, "error", err)
			continue
		}
		readers[name] = r
		slog.Info("Reader attached", "reader", name)
		emit(ctx, sink, Event{Kind: ReaderAttached, Reader: r})
	}
	for name, r := range readers {
		if seen[name] {
			continue
		}
		delete(readers, name)
		t.detach(ctx, r, sink)
	}
}

func (t *PCSCTransport) detach(ctx context.Context, r *PCSCReader, sink chan<- Event) {
	if uid := r.disconnect(); uid != "" {
		emit(ctx, sink, Event{Kind: CardRemoved, Reader: r, UID: uid})
	}
	r.Close()
	slog.Info("Reader detached", "reader", r.Name())
	emit(ctx, sink, Event{Kind: ReaderDetached, Reader: r})
}

// cardEvents extracts the reader's card insertion/removal counter, kept by
// PC/SC in the high word of the event state.
func cardEvents(state scard.StateFlag) uint16 {
	return uint16(state >> 16)
}

func (t *PCSCTransport) presence(ctx context.Context, r *PCSCReader, state scard.StateFlag, sink chan<- Event) {
	present := state&scard.StatePresent != 0 && state&scard.StateMute == 0
	events := cardEvents(state)
	switch {
	case present && !r.hasCard():
		t.detect(ctx, r, events, sink)
	case present && events != r.events:
		// The card was swapped between two waits; the present bit never
		// dropped but the handle now points at a card that is gone.
		uid := r.disconnect()
		slog.Info("Card replaced on reader", "reader", r.Name(), "uid", uid)
		emit(ctx, sink, Event{Kind: CardRemoved, Reader: r, UID: uid})
		t.detect(ctx, r, events, sink)
	case !present && r.hasCard():
		uid := r.disconnect()
		emit(ctx, sink, Event{Kind: CardRemoved, Reader: r, UID: uid})
	}
}

func (t *PCSCTransport) detect(ctx context.Context, r *PCSCReader, events uint16, sink chan<- Event) {
	uid, err := r.connect(ctx)
	if err != nil {
		slog.Warn("Failed to read card", "reader", r.Name(), "error", err)
		return
	}
	r.events = events
	emit(ctx, sink, Event{Kind: CardDetected, Reader: r, UID: uid})
}

// PCSCReader owns a private PC/SC context for card I/O so transmissions never
// contend with the monitor's blocking status wait.
type PCSCReader struct {
	apduReader
	state  scard.StateFlag
	events uint16

	ioMu sync.Mutex
	sc   scardContext
	card scardCard
	uid  string
}

func (t *PCSCTransport) newReader(name string) (*PCSCReader, error) {
	sc, err := t.establish()
	if err != nil {
		return nil, fmt.Errorf("establish reader context: %w", err)
	}
	r := &PCSCReader{sc: sc, state: scard.StateUnaware}
	r.apduReader = apduReader{name: name, tx: r}
	return r, nil
}

func (r *PCSCReader) connect(ctx context.Context) (string, error) {
	r.ioMu.Lock()
	if r.sc == nil {
		r.ioMu.Unlock()
		return "", ErrNoCard
	}
	card, err := r.sc.Connect(r.Name(), scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		r.ioMu.Unlock()
		return "", fmt.Errorf("connect: %w", err)
	}
	r.card = card
	r.ioMu.Unlock()

	uid, err := r.UID(ctx)
	if err != nil {
		r.disconnect()
		return "", err
	}

	r.ioMu.Lock()
	r.uid = uid
	r.ioMu.Unlock()
	return uid, nil
}

func (r *PCSCReader) hasCard() bool {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	return r.card != nil
}

// disconnect drops the card handle and returns the UID it was bound to.
func (r *PCSCReader) disconnect() string {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	if r.card == nil {
		return ""
	}
	if err := r.card.Disconnect(scard.LeaveCard); err != nil {
		slog.Debug("Card disconnect failed", "reader", r.Name(), "error", err)
	}
	uid := r.uid
	r.card = nil
	r.uid = ""
	return uid
}

func (r *PCSCReader) transmit(_ context.Context, cmd []byte) ([]byte, error) {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	if r.card == nil {
		return nil, ErrNoCard
	}
	resp, err := r.card.Transmit(cmd)
	if err != nil {
		if errors.Is(err, scard.ErrRemovedCard) || errors.Is(err, scard.ErrNoSmartcard) {
			return nil, fmt.Errorf("%w: %w", ErrNoCard, err)
		}
		return nil, fmt.Errorf("transmit: %w", err)
	}
	return resp, nil
}

func (r *PCSCReader) Close() error {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	if r.sc == nil {
		return nil
	}
	err := r.sc.Release()
	r.sc = nil
	return err
}
