package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
	"github.com/omarafosh/NFC-Card-Germany/internal/notify"
	"github.com/omarafosh/NFC-Card-Germany/internal/signature"
	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

const seenActionsLimit = 512

type ActionSource interface {
	PendingActions(ctx context.Context, terminalID int64) ([]store.TerminalAction, error)
	SubscribeActions(ctx context.Context, terminalID int64) (store.Subscription, error)
}

type ActionSync interface {
	CompleteAction(ctx context.Context, id int64) error
	FailAction(ctx context.Context, id int64, message string) error
	MarkCardSecured(ctx context.Context, uid, signatureHex string) error
}

type SignatureWriter interface {
	WriteSignature(ctx context.Context, uid string, sig []byte) error
}

type ListenerConfig struct {
	TerminalID      int64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Listener executes terminal actions queued by the dashboard. Each action
// runs on its own goroutine so a reader that is slow to answer does not hold
// up writes addressed to other readers.
type Listener struct {
	cfg      ListenerConfig
	source   ActionSource
	writer   SignatureWriter
	sync     ActionSync
	notifier notify.Notifier

	mu    sync.Mutex
	seen  map[int64]struct{}
	order []int64
	// unreported holds executed actions whose final status never reached
	// the store. A redelivery retries the report without touching the card.
	unreported map[int64]outcome

	wg sync.WaitGroup
}

type outcome struct {
	failed  bool
	message string
}

func NewListener(cfg ListenerConfig, source ActionSource, writer SignatureWriter, actions ActionSync, notifier notify.Notifier) *Listener {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Listener{
		cfg:        cfg,
		source:     source,
		writer:     writer,
		sync:       actions,
		notifier:   notifier,
		seen:       make(map[int64]struct{}),
		unreported: make(map[int64]outcome),
	}
}

// Run keeps a subscription open until ctx is cancelled, reconnecting with
// capped exponential backoff. It returns once every started action is done.
func (l *Listener) Run(ctx context.Context) error {
	defer l.wg.Wait()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.InitialInterval
	bo.MaxInterval = l.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		err := l.session(ctx, bo)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()
		slog.Warn("Action subscription lost, reconnecting", "terminal_id", l.cfg.TerminalID, "retry_in", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) session(ctx context.Context, bo backoff.BackOff) error {
	sub, err := l.source.SubscribeActions(ctx, l.cfg.TerminalID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	slog.Info("Listening for remote actions", "terminal_id", l.cfg.TerminalID)

	// Subscribe before draining so an insert between the two is not lost;
	// the duplicate delivery is absorbed by the seen set.
	pending, err := l.source.PendingActions(ctx, l.cfg.TerminalID)
	if err != nil {
		return fmt.Errorf("load pending actions: %w", err)
	}
	bo.Reset()
	for _, a := range pending {
		l.dispatch(ctx, a)
	}

	for {
		a, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		l.dispatch(ctx, a)
	}
}

func (l *Listener) dispatch(ctx context.Context, a store.TerminalAction) {
	if a.TerminalID != 0 && a.TerminalID != l.cfg.TerminalID {
		return
	}
	if a.Status != store.ActionPending {
		return
	}

	l.mu.Lock()
	res, retry := l.unreported[a.ID]
	if retry {
		delete(l.unreported, a.ID)
	}
	fresh := !retry && l.markSeen(a.ID)
	l.mu.Unlock()

	switch {
	case retry:
		slog.Info("Retrying action status report", "action_id", a.ID)
		l.spawn(func() { l.report(ctx, a.ID, res) })
	case !fresh:
		slog.Debug("Duplicate action delivery ignored", "action_id", a.ID)
	case a.ActionType != store.ActionWriteSignature:
		slog.Info("Ignoring unsupported action", "action_id", a.ID, "action_type", a.ActionType)
	default:
		l.spawn(func() { l.execute(ctx, a) })
	}
}

func (l *Listener) spawn(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// markSeen must be called with mu held.
func (l *Listener) markSeen(id int64) bool {
	if _, ok := l.seen[id]; ok {
		return false
	}
	l.seen[id] = struct{}{}
	l.order = append(l.order, id)
	if len(l.order) > seenActionsLimit {
		delete(l.seen, l.order[0])
		delete(l.unreported, l.order[0])
		l.order = l.order[1:]
	}
	return true
}

func (l *Listener) execute(ctx context.Context, a store.TerminalAction) {
	slog.Info("Remote write requested", "action_id", a.ID)

	uid, sig, err := parseWritePayload(a.Payload)
	if err != nil {
		l.report(ctx, a.ID, outcome{failed: true, message: "invalid payload: " + err.Error()})
		return
	}

	if err := l.writer.WriteSignature(ctx, uid, sig); err != nil {
		if ctx.Err() != nil {
			return
		}
		msg := hardware.FriendlyError(err)
		if errors.Is(err, hardware.ErrNoCard) {
			msg = "card not present"
		}
		slog.Error("Remote write failed", "action_id", a.ID, "uid", uid, "error", err)
		l.report(ctx, a.ID, outcome{failed: true, message: msg})
		l.notifier.Notify("Write failed", fmt.Sprintf("Card %s: %s", uid, msg))
		return
	}

	l.report(ctx, a.ID, outcome{})
	sigHex := fmt.Sprintf("%X", sig)
	if err := l.sync.MarkCardSecured(ctx, uid, sigHex); err != nil {
		slog.Error("Failed to update card record", "uid", uid, "error", err)
	}
	slog.Info("Remote write completed", "action_id", a.ID, "uid", uid)
	l.notifier.Notify("Card secured", fmt.Sprintf("Signature written to card %s", uid))
}

// report stores the final status of an executed action. When the store
// cannot be reached the outcome is kept for the next delivery of the action.
func (l *Listener) report(ctx context.Context, id int64, res outcome) {
	var err error
	if res.failed {
		err = l.sync.FailAction(ctx, id, res.message)
	} else {
		err = l.sync.CompleteAction(ctx, id)
	}
	if err == nil {
		return
	}
	slog.Error("Failed to report action status", "action_id", id, "failed", res.failed, "error", err)
	l.mu.Lock()
	l.unreported[id] = res
	l.mu.Unlock()
}

func parseWritePayload(raw json.RawMessage) (string, []byte, error) {
	var p store.WriteSignaturePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", nil, err
	}
	uid := signature.NormalizeUID(p.UID)
	if uid == "" {
		return "", nil, errors.New("uid is missing")
	}
	sig, err := signature.ParseHex(p.Signature)
	if err != nil {
		return "", nil, err
	}
	return uid, sig, nil
}
