package bridge

import (
	"context"
	"fmt"

	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
	"github.com/omarafosh/NFC-Card-Germany/internal/signature"
)

const (
	classicBlockSize = 16
	pageSize         = 4
)

// CardAccess locates the signature on a card.
type CardAccess struct {
	Block int
	Key   []byte
}

func DefaultCardAccess() CardAccess {
	return CardAccess{Block: 4, Key: hardware.DefaultKey}
}

// readSignature tries an authenticated Classic read first and falls back to
// a plain read for tags without sector security.
func (a CardAccess) readSignature(ctx context.Context, r hardware.Reader) ([]byte, error) {
	if err := r.Authenticate(ctx, a.Block, hardware.KeyTypeA, a.Key); err == nil {
		data, err := r.Read(ctx, a.Block, signature.Size)
		if err == nil {
			return data, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Read(ctx, a.Block, signature.Size)
}

// writeSignature writes sig as one Classic block. If the sector could not be
// authenticated and the block write fails, it retries as Ultralight pages.
func (a CardAccess) writeSignature(ctx context.Context, r hardware.Reader, sig []byte) error {
	authErr := r.Authenticate(ctx, a.Block, hardware.KeyTypeA, a.Key)

	err := r.Write(ctx, a.Block, sig, classicBlockSize)
	if err == nil {
		return nil
	}
	if authErr == nil || ctx.Err() != nil {
		return err
	}

	if perr := r.Write(ctx, a.Block, sig, pageSize); perr != nil {
		return fmt.Errorf("page write: %w", perr)
	}
	return nil
}
