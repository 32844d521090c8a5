package store

import (
	"context"
	"encoding/json"
	"time"
)

type ActionType string

const ActionWriteSignature ActionType = "WRITE_SIGNATURE"

type ActionStatus string

const (
	ActionPending   ActionStatus = "PENDING"
	ActionCompleted ActionStatus = "COMPLETED"
	ActionFailed    ActionStatus = "FAILED"
)

// TerminalAction mirrors a terminal_actions row. The JSON form is what the
// insert trigger publishes.
type TerminalAction struct {
	ID          int64           `json:"id"`
	TerminalID  int64           `json:"terminal_id"`
	ActionType  ActionType      `json:"action_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      ActionStatus    `json:"status"`
	Message     *string         `json:"message"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at"`
}

type WriteSignaturePayload struct {
	UID       string `json:"uid"`
	Signature string `json:"signature"`
}

type ActionStore interface {
	PendingActions(ctx context.Context, terminalID int64) ([]TerminalAction, error)
	SubscribeActions(ctx context.Context, terminalID int64) (Subscription, error)
	CompleteAction(ctx context.Context, id int64) error
	FailAction(ctx context.Context, id int64, message string) error
}
