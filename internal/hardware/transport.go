// Package hardware drives contactless card readers. Two transports share one
// event contract: PCSCTransport talks to readers through the platform PC/SC
// service, HIDTransport polls an ACR122U-class USB device with feature
// reports. Both hand out Readers that speak the same pseudo-APDU layer.
package hardware

import (
	"context"
	"time"
)

type EventKind int

const (
	ReaderAttached EventKind = iota + 1
	ReaderDetached
	CardDetected
	CardRemoved
)

func (k EventKind) String() string {
	switch k {
	case ReaderAttached:
		return "reader_attached"
	case ReaderDetached:
		return "reader_detached"
	case CardDetected:
		return "card_detected"
	case CardRemoved:
		return "card_removed"
	default:
		return "unknown"
	}
}

// Event is a raw notification from a transport. UID is set for
// CardDetected and, when the transport knows it, for CardRemoved.
type Event struct {
	Kind   EventKind
	Reader Reader
	UID    string
	At     time.Time
}

// Reader is one physical reader. Implementations serialise operations, so a
// caller that abandons an operation after a deadline cannot interleave with
// the next one.
type Reader interface {
	Name() string

	// Authenticate loads key into the reader and authenticates the sector
	// containing block. Tags without sector security (Ultralight, NTAG)
	// fail with ErrAuthFailed.
	Authenticate(ctx context.Context, block int, keyType byte, key []byte) error

	Read(ctx context.Context, block int, length int) ([]byte, error)

	// Write splits data into blockSize chunks written to consecutive
	// blocks starting at block. Use 16 for Classic blocks and 4 for
	// Ultralight/NTAG pages.
	Write(ctx context.Context, block int, data []byte, blockSize int) error
}

// Transport produces reader and card events until ctx is cancelled.
type Transport interface {
	Run(ctx context.Context, sink chan<- Event) error
}

func emit(ctx context.Context, sink chan<- Event, ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case sink <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
