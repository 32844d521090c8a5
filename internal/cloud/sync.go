package cloud

import (
	"context"
	"time"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

type Config struct {
	TerminalID   int64
	ScanPolicy   Policy
	UpdatePolicy Policy
	// CallTimeout bounds a single remote call.
	CallTimeout time.Duration
}

func DefaultConfig(terminalID int64) Config {
	return Config{
		TerminalID:   terminalID,
		ScanPolicy:   Policy{Attempts: 3, BaseDelay: time.Second},
		UpdatePolicy: Policy{Attempts: 2, BaseDelay: 500 * time.Millisecond},
		CallTimeout:  10 * time.Second,
	}
}

var once = Policy{Attempts: 1}

// Sync is the bridge's only writer to the remote store.
type Sync struct {
	store store.Store
	cfg   Config
}

func NewSync(st store.Store, cfg Config) *Sync {
	return &Sync{store: st, cfg: cfg}
}

func (s *Sync) TerminalID() int64 { return s.cfg.TerminalID }

// RecordScan opens a PRESENT episode for uid and returns its event id.
func (s *Sync) RecordScan(ctx context.Context, uid string, meta store.ScanMetadata) (int64, error) {
	return Do(ctx, s.cfg.ScanPolicy, "record scan", s.cfg.CallTimeout, func(ctx context.Context) (int64, error) {
		return s.store.CreateScan(ctx, store.NewScanEvent{
			TerminalID: s.cfg.TerminalID,
			UID:        uid,
			Status:     store.ScanPresent,
			Metadata:   meta,
		})
	})
}

func (s *Sync) UpdateScan(ctx context.Context, eventID int64, upd store.ScanUpdate) error {
	_, err := Do(ctx, s.cfg.UpdatePolicy, "update scan", s.cfg.CallTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.UpdateScan(ctx, eventID, upd)
	})
	return err
}

// MarkCardSecured stores a freshly written signature on the card record.
func (s *Sync) MarkCardSecured(ctx context.Context, uid, signatureHex string) error {
	_, err := Do(ctx, s.cfg.UpdatePolicy, "mark card secured", s.cfg.CallTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.UpdateCardSecurity(ctx, uid, store.CardSecurity{
			Signature:      signatureHex,
			Secured:        true,
			SignatureValid: true,
		})
	})
	return err
}

func (s *Sync) HealCardSecurity(ctx context.Context, uid string) (bool, error) {
	return Do(ctx, once, "heal card security", s.cfg.CallTimeout, func(ctx context.Context) (bool, error) {
		return s.store.HealCardSecurity(ctx, uid)
	})
}

func (s *Sync) Heartbeat(ctx context.Context, meta store.TerminalMetadata) error {
	_, err := Do(ctx, once, "heartbeat", s.cfg.CallTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.UpdateHeartbeat(ctx, s.cfg.TerminalID, meta)
	})
	return err
}

func (s *Sync) CompleteAction(ctx context.Context, id int64) error {
	_, err := Do(ctx, s.cfg.UpdatePolicy, "complete action", s.cfg.CallTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.CompleteAction(ctx, id)
	})
	return err
}

func (s *Sync) FailAction(ctx context.Context, id int64, message string) error {
	_, err := Do(ctx, s.cfg.UpdatePolicy, "fail action", s.cfg.CallTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.FailAction(ctx, id, message)
	})
	return err
}

// EnsureTerminal registers this terminal, creating a default branch when the
// store has none.
func (s *Sync) EnsureTerminal(ctx context.Context, name string) (bool, error) {
	return Do(ctx, once, "ensure terminal", s.cfg.CallTimeout, func(ctx context.Context) (bool, error) {
		return s.store.EnsureTerminal(ctx, s.cfg.TerminalID, name)
	})
}
