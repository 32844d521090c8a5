package store

import "context"

type CardSecurity struct {
	Signature      string // uppercase hex
	Secured        bool
	SignatureValid bool
}

type CardStore interface {
	UpdateCardSecurity(ctx context.Context, uid string, sec CardSecurity) error

	// HealCardSecurity sets secured and signature_valid on a card whose
	// security flag has never been set. It reports whether a row changed.
	HealCardSecurity(ctx context.Context, uid string) (bool, error)
}
