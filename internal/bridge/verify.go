package bridge

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
	"github.com/omarafosh/NFC-Card-Germany/internal/signature"
)

type Verifier struct {
	codec  *signature.Codec
	access CardAccess
	budget time.Duration
}

func NewVerifier(codec *signature.Codec, access CardAccess, budget time.Duration) *Verifier {
	return &Verifier{codec: codec, access: access, budget: budget}
}

// Verify reports whether the card carries a valid signature. Any failure,
// including the budget running out, counts as unverified.
func (v *Verifier) Verify(ctx context.Context, r hardware.Reader, uid string) bool {
	raw, err := Bounded(ctx, v.budget, func(ctx context.Context) ([]byte, error) {
		return v.access.readSignature(ctx, r)
	})
	if err != nil {
		slog.Debug("Signature not readable", "uid", uid, "reader", r.Name(), "error", err)
		return false
	}

	if v.codec.Verify(uid, raw) {
		return true
	}
	slog.Debug("Signature mismatch",
		"uid", uid,
		"read", strings.ToUpper(hex.EncodeToString(raw)),
		"expected", v.codec.GenerateHex(uid))
	return false
}
