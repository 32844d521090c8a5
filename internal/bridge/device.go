package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
	"github.com/omarafosh/NFC-Card-Germany/internal/notify"
	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

type ScanSync interface {
	RecordScan(ctx context.Context, uid string, meta store.ScanMetadata) (int64, error)
	UpdateScan(ctx context.Context, eventID int64, upd store.ScanUpdate) error
	HealCardSecurity(ctx context.Context, uid string) (bool, error)
}

type messageKind int

const (
	msgPresence messageKind = iota + 1
	msgWrite
	msgDetach
)

type message struct {
	kind  messageKind
	event hardware.EventKind
	uid   string
	at    time.Time
	sig   []byte
	reply chan error
}

type deviceDeps struct {
	tracker      Tracker
	sync         ScanSync
	verifier     *Verifier
	access       CardAccess
	notifier     notify.Notifier
	writeTimeout time.Duration
}

// device is the actor owning one reader's presence state. Everything that
// touches state runs on its goroutine, in mailbox order.
type device struct {
	id     string
	reader hardware.Reader
	deps   *deviceDeps
	inbox  *mailbox
	done   chan struct{}
	uid    atomic.Value
	stats  deviceStats

	state ReaderState
}

func newDevice(id string, reader hardware.Reader, deps *deviceDeps, now time.Time) *device {
	d := &device{
		id:     id,
		reader: reader,
		deps:   deps,
		inbox:  newMailbox(),
		done:   make(chan struct{}),
	}
	d.uid.Store("")
	d.stats.s = DeviceStats{DeviceID: id, Label: reader.Name(), ConnectedAt: now}
	return d
}

// UID is the card currently on the reader as last published by the actor.
func (d *device) UID() string {
	return d.uid.Load().(string)
}

func (d *device) Stats() DeviceStats {
	s := d.stats.snapshot()
	s.CurrentUID = d.UID()
	return s
}

func (d *device) presence(kind hardware.EventKind, uid string, at time.Time) {
	d.inbox.put(message{kind: msgPresence, event: kind, uid: uid, at: at})
}

func (d *device) detach() {
	d.inbox.put(message{kind: msgDetach})
}

// write asks the actor to write sig to the card, provided uid is still the
// card on this reader when the request is dequeued.
func (d *device) write(ctx context.Context, uid string, sig []byte) error {
	reply := make(chan error, 1)
	if !d.inbox.put(message{kind: msgWrite, uid: uid, sig: sig, reply: reply}) {
		return fmt.Errorf("%w: reader detached", hardware.ErrNoCard)
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *device) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.reject(d.inbox.close())
			return
		case <-d.inbox.signal:
		}

		msgs := d.inbox.drain()
		for i, m := range msgs {
			switch m.kind {
			case msgPresence:
				d.onPresence(ctx, m.event, m.uid, m.at)
			case msgWrite:
				m.reply <- d.onWrite(ctx, m.uid, m.sig)
			case msgDetach:
				d.onDetach(ctx)
				d.reject(msgs[i+1:])
				d.reject(d.inbox.close())
				return
			}
		}
	}
}

func (d *device) reject(msgs []message) {
	for _, m := range msgs {
		if m.kind == msgWrite {
			m.reply <- fmt.Errorf("%w: reader detached", hardware.ErrNoCard)
		}
	}
}

func (d *device) setState(s ReaderState) {
	d.state = s
	d.uid.Store(s.UID)
}

func (d *device) onPresence(ctx context.Context, kind hardware.EventKind, uid string, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	next, effects := d.deps.tracker.Transition(d.state, kind, uid, at)
	if len(effects) == 0 {
		slog.Debug("Presence event absorbed", "device", d.id, "kind", kind, "uid", uid)
	}
	d.setState(next)

	for _, e := range effects {
		switch e.Kind {
		case EffectClose:
			d.closeEpisode(ctx, e.UID, e.EventID)
		case EffectOpen:
			d.openEpisode(ctx, e.UID, at)
		}
	}
}

func (d *device) openEpisode(ctx context.Context, uid string, at time.Time) {
	d.stats.scan(at)
	secured := d.deps.verifier.Verify(ctx, d.reader, uid)
	slog.Info("Card detected", "device", d.id, "uid", uid, "secured", secured)

	id, err := d.deps.sync.RecordScan(ctx, uid, store.ScanMetadata{Secured: secured, SignatureValid: secured})
	if err != nil {
		if d.state.UID == uid {
			d.setState(ReaderState{})
		}
		if ctx.Err() != nil {
			slog.Debug("Scan not recorded before shutdown", "device", d.id, "uid", uid)
			return
		}
		d.stats.fail(err, time.Now())
		slog.Error("Failed to record scan", "device", d.id, "uid", uid, "error", err)
		d.deps.notifier.Notify("Scan not synced", fmt.Sprintf("Card %s could not be recorded. Present it again.", uid))
		return
	}
	if d.state.UID == uid {
		d.state.EventID = id
	}

	if secured {
		healed, err := d.deps.sync.HealCardSecurity(ctx, uid)
		if err != nil {
			slog.Warn("Failed to heal card security flag", "uid", uid, "error", err)
		} else if healed {
			slog.Info("Card security flag restored", "uid", uid)
		}
	}
}

func (d *device) closeEpisode(ctx context.Context, uid string, eventID int64) {
	slog.Info("Card removed", "device", d.id, "uid", uid, "event_id", eventID)
	if eventID == 0 {
		return
	}
	if err := d.deps.sync.UpdateScan(ctx, eventID, store.Removed()); err != nil {
		if ctx.Err() != nil {
			return
		}
		d.stats.fail(err, time.Now())
		slog.Error("Failed to close scan", "device", d.id, "uid", uid, "event_id", eventID, "error", err)
	}
}

func (d *device) onDetach(ctx context.Context) {
	if d.state.UID != "" {
		d.closeEpisode(ctx, d.state.UID, d.state.EventID)
	}
	d.setState(ReaderState{})
}

func (d *device) onWrite(ctx context.Context, uid string, sig []byte) error {
	if d.state.UID == "" || d.state.UID != uid {
		return fmt.Errorf("%w: %s", hardware.ErrNoCard, uid)
	}

	wctx := ctx
	if d.deps.writeTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, d.deps.writeTimeout)
		defer cancel()
	}
	if err := d.deps.access.writeSignature(wctx, d.reader, sig); err != nil {
		d.stats.fail(err, time.Now())
		return err
	}
	slog.Info("Signature written", "device", d.id, "uid", uid)

	if d.state.EventID != 0 {
		if err := d.deps.sync.UpdateScan(ctx, d.state.EventID, store.Secured()); err != nil {
			slog.Warn("Failed to mark scan secured", "event_id", d.state.EventID, "error", err)
		}
	}
	return nil
}
