package store

import (
	"context"
	"time"
)

type ScanStatus string

const (
	ScanPresent ScanStatus = "PRESENT"
	ScanRemoved ScanStatus = "REMOVED"
)

type ScanMetadata struct {
	Secured        bool `json:"secured"`
	SignatureValid bool `json:"signature_valid"`
}

type NewScanEvent struct {
	TerminalID int64
	UID        string
	Status     ScanStatus
	Processed  bool
	Metadata   ScanMetadata
}

type ScanEvent struct {
	ID         int64
	TerminalID int64
	UID        string
	Status     ScanStatus
	Processed  bool
	Metadata   ScanMetadata
	CreatedAt  time.Time
}

// ScanUpdate changes only the fields that are set.
type ScanUpdate struct {
	Status    *ScanStatus
	Processed *bool
	Metadata  *ScanMetadata
}

// Removed marks an episode as finished.
func Removed() ScanUpdate {
	status, processed := ScanRemoved, true
	return ScanUpdate{Status: &status, Processed: &processed}
}

// Secured records a freshly written signature on an open episode.
func Secured() ScanUpdate {
	return ScanUpdate{Metadata: &ScanMetadata{Secured: true, SignatureValid: true}}
}

type ScanStore interface {
	CreateScan(ctx context.Context, ev NewScanEvent) (int64, error)
	UpdateScan(ctx context.Context, id int64, upd ScanUpdate) error
}
