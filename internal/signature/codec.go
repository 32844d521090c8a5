// Package signature implements the card signature scheme written to the
// signature block of every enrolled card: the ASCII magic "YAME" followed by
// the first 12 bytes of HMAC-SHA256(secret, uppercase(uid)).
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// Size is the length of a signature block in bytes.
	Size = 16

	// MinSecretLength is the shortest shared secret accepted at startup.
	MinSecretLength = 32

	digestBytes = Size - len(Magic)
)

// Magic prefixes every signature.
const Magic = "YAME"

var (
	ErrMissingSecret = errors.New("signature secret is not set")
	ErrWeakSecret    = fmt.Errorf("signature secret must be at least %d characters", MinSecretLength)
	ErrInvalidHex    = errors.New("signature must be 32 hex characters")
)

type Codec struct {
	secret []byte
}

func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &Codec{secret: []byte(secret)}, nil
}

// NormalizeUID trims and uppercases a hex UID.
func NormalizeUID(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}

// Generate returns the signature for uid. The UID is uppercased first, so
// "04a1b2c3" and "04A1B2C3" sign identically.
func (c *Codec) Generate(uid string) [Size]byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(NormalizeUID(uid)))
	sum := mac.Sum(nil)

	var out [Size]byte
	copy(out[:], Magic)
	copy(out[len(Magic):], sum[:digestBytes])
	return out
}

// GenerateHex returns Generate(uid) as 32 uppercase hex characters, the
// representation used in terminal action payloads and card records.
func (c *Codec) GenerateHex(uid string) string {
	sig := c.Generate(uid)
	return strings.ToUpper(hex.EncodeToString(sig[:]))
}

// Verify reports whether candidate carries the valid signature for uid.
// Only the first Size bytes are compared; trailing data is ignored because
// readers may return a longer block.
func (c *Codec) Verify(uid string, candidate []byte) bool {
	if len(candidate) < Size {
		return false
	}
	if string(candidate[:len(Magic)]) != Magic {
		return false
	}
	expected := c.Generate(uid)
	return subtle.ConstantTimeCompare(candidate[:Size], expected[:]) == 1
}

// ParseHex decodes a 32 character hex signature.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != Size*2 {
		return nil, ErrInvalidHex
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}
