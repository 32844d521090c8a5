// Package memory is an in-process store.Store for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

type Card struct {
	UID            string
	Signature      string
	Secured        *bool
	SignatureValid bool
}

type Store struct {
	mu sync.Mutex

	nextScanID   int64
	nextActionID int64
	scans        map[int64]store.ScanEvent
	scanOrder    []int64
	cards        map[string]Card
	terminals    map[int64]store.Terminal
	branches     int
	actions      map[int64]store.TerminalAction
	subs         map[*subscription]struct{}
	heartbeats   []store.TerminalMetadata

	createCalls int
	updateCalls int
	createFails []error
	updateFails []error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		scans:     make(map[int64]store.ScanEvent),
		cards:     make(map[string]Card),
		terminals: make(map[int64]store.Terminal),
		actions:   make(map[int64]store.TerminalAction),
		subs:      make(map[*subscription]struct{}),
	}
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.closeLocked()
	}
	s.subs = make(map[*subscription]struct{})
}

func (s *Store) CreateScan(_ context.Context, ev store.NewScanEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.createCalls++
	if len(s.createFails) > 0 {
		err := s.createFails[0]
		s.createFails = s.createFails[1:]
		return 0, err
	}

	s.nextScanID++
	id := s.nextScanID
	s.scans[id] = store.ScanEvent{
		ID:         id,
		TerminalID: ev.TerminalID,
		UID:        ev.UID,
		Status:     ev.Status,
		Processed:  ev.Processed,
		Metadata:   ev.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	s.scanOrder = append(s.scanOrder, id)
	return id, nil
}

func (s *Store) UpdateScan(_ context.Context, id int64, upd store.ScanUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updateCalls++
	if len(s.updateFails) > 0 {
		err := s.updateFails[0]
		s.updateFails = s.updateFails[1:]
		return err
	}

	ev, ok := s.scans[id]
	if !ok {
		return fmt.Errorf("scan %d: %w", id, store.ErrNotFound)
	}
	if upd.Status != nil {
		ev.Status = *upd.Status
	}
	if upd.Processed != nil {
		ev.Processed = *upd.Processed
	}
	if upd.Metadata != nil {
		ev.Metadata = *upd.Metadata
	}
	s.scans[id] = ev
	return nil
}

func (s *Store) UpdateCardSecurity(_ context.Context, uid string, sec store.CardSecurity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[uid]
	if !ok {
		return nil
	}
	secured := sec.Secured
	card.Signature = sec.Signature
	card.Secured = &secured
	card.SignatureValid = sec.SignatureValid
	s.cards[uid] = card
	return nil
}

func (s *Store) HealCardSecurity(_ context.Context, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[uid]
	if !ok || card.Secured != nil {
		return false, nil
	}
	secured := true
	card.Secured = &secured
	card.SignatureValid = true
	s.cards[uid] = card
	return true, nil
}

func (s *Store) EnsureTerminal(_ context.Context, id int64, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.terminals[id]; ok {
		return false, nil
	}
	if s.branches == 0 {
		s.branches = 1
	}
	s.terminals[id] = store.Terminal{ID: id, BranchID: 1, Name: name, ConnectionURL: "local"}
	return true, nil
}

func (s *Store) UpdateHeartbeat(_ context.Context, id int64, meta store.TerminalMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	term, ok := s.terminals[id]
	if !ok {
		return fmt.Errorf("terminal %d: %w", id, store.ErrNotFound)
	}
	at := meta.LastHeartbeat
	term.LastSync = &at
	term.Metadata = meta
	s.terminals[id] = term
	s.heartbeats = append(s.heartbeats, meta)
	return nil
}

func (s *Store) GetTerminal(_ context.Context, id int64) (store.Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	term, ok := s.terminals[id]
	if !ok {
		return store.Terminal{}, fmt.Errorf("terminal %d: %w", id, store.ErrNotFound)
	}
	return term, nil
}

func (s *Store) PendingActions(_ context.Context, terminalID int64) ([]store.TerminalAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.TerminalAction
	for id := int64(1); id <= s.nextActionID; id++ {
		a, ok := s.actions[id]
		if ok && a.TerminalID == terminalID && a.Status == store.ActionPending {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) SubscribeActions(_ context.Context, terminalID int64) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscription{
		owner:      s,
		terminalID: terminalID,
		ch:         make(chan store.TerminalAction, 64),
		done:       make(chan struct{}),
	}
	s.subs[sub] = struct{}{}
	return sub, nil
}

func (s *Store) CompleteAction(_ context.Context, id int64) error {
	return s.finishAction(id, store.ActionCompleted, nil)
}

func (s *Store) FailAction(_ context.Context, id int64, message string) error {
	return s.finishAction(id, store.ActionFailed, &message)
}

func (s *Store) finishAction(id int64, status store.ActionStatus, message *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[id]
	if !ok {
		return fmt.Errorf("action %d: %w", id, store.ErrNotFound)
	}
	now := time.Now().UTC()
	a.Status = status
	a.Message = message
	a.CompletedAt = &now
	s.actions[id] = a
	return nil
}

type subscription struct {
	owner      *Store
	terminalID int64
	ch         chan store.TerminalAction
	done       chan struct{}
	closed     bool
}

func (sub *subscription) Next(ctx context.Context) (store.TerminalAction, error) {
	select {
	case a := <-sub.ch:
		return a, nil
	case <-sub.done:
		return store.TerminalAction{}, ErrSubscriptionClosed
	case <-ctx.Done():
		return store.TerminalAction{}, ctx.Err()
	}
}

func (sub *subscription) Close() error {
	sub.owner.mu.Lock()
	defer sub.owner.mu.Unlock()
	delete(sub.owner.subs, sub)
	sub.closeLocked()
	return nil
}

func (sub *subscription) closeLocked() {
	if !sub.closed {
		sub.closed = true
		close(sub.done)
	}
}

// --- test helpers ---

// AddCard registers a card row with its security flag unset.
func (s *Store) AddCard(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[uid] = Card{UID: uid}
}

func (s *Store) Card(uid string) (Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[uid]
	return c, ok
}

// InsertAction queues a PENDING action and pushes it to live subscribers.
func (s *Store) InsertAction(terminalID int64, typ store.ActionType, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextActionID++
	a := store.TerminalAction{
		ID:         s.nextActionID,
		TerminalID: terminalID,
		ActionType: typ,
		Payload:    raw,
		Status:     store.ActionPending,
		CreatedAt:  time.Now().UTC(),
	}
	s.actions[a.ID] = a
	for sub := range s.subs {
		if sub.terminalID != terminalID {
			continue
		}
		select {
		case sub.ch <- a:
		default:
		}
	}
	return a.ID, nil
}

// Redeliver pushes an existing action to subscribers again, as it looked
// when first published.
func (s *Store) Redeliver(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return
	}
	a.Status = store.ActionPending
	a.Message = nil
	a.CompletedAt = nil
	for sub := range s.subs {
		if sub.terminalID == a.TerminalID {
			select {
			case sub.ch <- a:
			default:
			}
		}
	}
}

func (s *Store) Action(id int64) (store.TerminalAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	return a, ok
}

// DropSubscriptions simulates loss of the push channel.
func (s *Store) DropSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.closeLocked()
		delete(s.subs, sub)
	}
}

func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Scans returns all scan events in creation order.
func (s *Store) Scans() []store.ScanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ScanEvent, 0, len(s.scanOrder))
	for _, id := range s.scanOrder {
		out = append(out, s.scans[id])
	}
	return out
}

func (s *Store) Heartbeats() []store.TerminalMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.TerminalMetadata, len(s.heartbeats))
	copy(out, s.heartbeats)
	return out
}

// FailCreates makes the next CreateScan calls return errs in order.
func (s *Store) FailCreates(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFails = append(s.createFails, errs...)
}

func (s *Store) FailUpdates(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateFails = append(s.updateFails, errs...)
}

func (s *Store) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

func (s *Store) UpdateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCalls
}
