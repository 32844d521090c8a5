// Package store defines the remote records the bridge reads and writes and
// the interfaces its backends implement.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("record not found")

// Store is the full remote surface used by the bridge.
type Store interface {
	ScanStore
	CardStore
	TerminalStore
	ActionStore
	Close()
}

// Subscription delivers terminal actions pushed after it was established.
// Next returns an error once the underlying channel is lost.
type Subscription interface {
	Next(ctx context.Context) (TerminalAction, error)
	Close() error
}
