// Package postgres implements store.Store on the dashboard's PostgreSQL
// database. Pushed actions arrive through LISTEN/NOTIFY on the channel
// terminal_actions_<terminal id>.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

const defaultBranchName = "Main Branch"

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

func ActionChannel(terminalID int64) string {
	return fmt.Sprintf("terminal_actions_%d", terminalID)
}

func (s *Store) CreateScan(ctx context.Context, ev store.NewScanEvent) (int64, error) {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO scan_events (terminal_id, uid, status, processed, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING id`,
		ev.TerminalID, ev.UID, string(ev.Status), ev.Processed, string(meta),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert scan event: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateScan(ctx context.Context, id int64, upd store.ScanUpdate) error {
	var (
		status *string
		meta   *string
	)
	if upd.Status != nil {
		v := string(*upd.Status)
		status = &v
	}
	if upd.Metadata != nil {
		raw, err := json.Marshal(upd.Metadata)
		if err != nil {
			return err
		}
		v := string(raw)
		meta = &v
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE scan_events
		SET status = COALESCE($2, status),
		    processed = COALESCE($3, processed),
		    metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($4::jsonb, '{}'::jsonb)
		WHERE id = $1`,
		id, status, upd.Processed, meta,
	)
	if err != nil {
		return fmt.Errorf("update scan event %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scan %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateCardSecurity(ctx context.Context, uid string, sec store.CardSecurity) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cards
		SET signature = $2,
		    metadata = COALESCE(metadata, '{}'::jsonb)
		        || jsonb_build_object('secured', $3::boolean, 'signature_valid', $4::boolean)
		WHERE uid = $1`,
		uid, sec.Signature, sec.Secured, sec.SignatureValid,
	)
	if err != nil {
		return fmt.Errorf("update card %s: %w", uid, err)
	}
	if tag.RowsAffected() == 0 {
		slog.Debug("Card not registered, security not recorded", "uid", uid)
	}
	return nil
}

func (s *Store) HealCardSecurity(ctx context.Context, uid string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cards
		SET metadata = COALESCE(metadata, '{}'::jsonb)
		    || '{"secured": true, "signature_valid": true}'::jsonb
		WHERE uid = $1
		  AND (metadata IS NULL OR metadata->'secured' IS NULL OR metadata->'secured' = 'null'::jsonb)`,
		uid,
	)
	if err != nil {
		return false, fmt.Errorf("heal card %s: %w", uid, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) EnsureTerminal(ctx context.Context, id int64, name string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM terminals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("look up terminal %d: %w", id, err)
	}
	if exists {
		return false, nil
	}

	var branchID int64
	err = tx.QueryRow(ctx, `SELECT id FROM branches ORDER BY id LIMIT 1`).Scan(&branchID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, `INSERT INTO branches (name) VALUES ($1) RETURNING id`, defaultBranchName).Scan(&branchID)
		if err == nil {
			slog.Info("Created default branch", "branch_id", branchID)
		}
	}
	if err != nil {
		return false, fmt.Errorf("resolve branch: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO terminals (id, branch_id, name, connection_url, terminal_secret, metadata)
		VALUES ($1, $2, $3, 'local', $4, '{}'::jsonb)`,
		id, branchID, name, uuid.NewString(),
	)
	if err != nil {
		return false, fmt.Errorf("insert terminal %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) UpdateHeartbeat(ctx context.Context, id int64, meta store.TerminalMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE terminals
		SET last_sync = $2,
		    metadata = COALESCE(metadata, '{}'::jsonb) || $3::jsonb
		WHERE id = $1`,
		id, meta.LastHeartbeat, string(raw),
	)
	if err != nil {
		return fmt.Errorf("update terminal %d heartbeat: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("terminal %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) GetTerminal(ctx context.Context, id int64) (store.Terminal, error) {
	var (
		t        store.Terminal
		branchID *int64
		connURL  *string
		meta     []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, branch_id, name, connection_url, last_sync, metadata
		FROM terminals WHERE id = $1`, id,
	).Scan(&t.ID, &branchID, &t.Name, &connURL, &t.LastSync, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Terminal{}, fmt.Errorf("terminal %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Terminal{}, fmt.Errorf("get terminal %d: %w", id, err)
	}
	if branchID != nil {
		t.BranchID = *branchID
	}
	if connURL != nil {
		t.ConnectionURL = *connURL
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			slog.Warn("Terminal metadata is not in the expected shape", "terminal_id", id, "error", err)
		}
	}
	return t, nil
}

func (s *Store) PendingActions(ctx context.Context, terminalID int64) ([]store.TerminalAction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, terminal_id, action_type, payload, status, message, created_at, completed_at
		FROM terminal_actions
		WHERE terminal_id = $1 AND status = 'PENDING'
		ORDER BY id`, terminalID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending actions: %w", err)
	}
	defer rows.Close()

	var out []store.TerminalAction
	for rows.Next() {
		var (
			a       store.TerminalAction
			typ     string
			status  string
			payload []byte
		)
		if err := rows.Scan(&a.ID, &a.TerminalID, &typ, &payload, &status, &a.Message, &a.CreatedAt, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.ActionType = store.ActionType(typ)
		a.Status = store.ActionStatus(status)
		a.Payload = json.RawMessage(payload)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CompleteAction(ctx context.Context, id int64) error {
	return s.finishAction(ctx, id, store.ActionCompleted, nil)
}

func (s *Store) FailAction(ctx context.Context, id int64, message string) error {
	return s.finishAction(ctx, id, store.ActionFailed, &message)
}

func (s *Store) finishAction(ctx context.Context, id int64, status store.ActionStatus, message *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE terminal_actions
		SET status = $2, message = $3, completed_at = $4
		WHERE id = $1`,
		id, string(status), message, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update action %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("action %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// SubscribeActions dedicates one pooled connection to LISTEN until the
// subscription is closed.
func (s *Store) SubscribeActions(ctx context.Context, terminalID int64) (store.Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	channel := ActionChannel(terminalID)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	slog.Debug("Listening for terminal actions", "channel", channel)
	return &subscription{conn: conn, channel: channel}, nil
}

type subscription struct {
	conn    *pgxpool.Conn
	channel string
}

func (sub *subscription) Next(ctx context.Context) (store.TerminalAction, error) {
	for {
		n, err := sub.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return store.TerminalAction{}, err
		}
		if n.Channel != sub.channel {
			continue
		}
		var a store.TerminalAction
		if err := json.Unmarshal([]byte(n.Payload), &a); err != nil {
			slog.Warn("Discarding malformed action notification", "channel", n.Channel, "error", err)
			continue
		}
		return a, nil
	}
}

func (sub *subscription) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := sub.conn.Exec(ctx, "UNLISTEN *")
	sub.conn.Release()
	return err
}
