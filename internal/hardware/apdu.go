package hardware

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	KeyTypeA byte = 0x60
	KeyTypeB byte = 0x61

	swSuccess     uint16 = 0x9000
	swOperationKO uint16 = 0x6300
)

// DefaultKey is the factory transport key of Mifare Classic sectors.
var DefaultKey = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

var (
	ErrAuthFailed    = errors.New("sector authentication failed")
	ErrNoCard        = errors.New("no card present")
	ErrShortResponse = errors.New("short response from reader")
	ErrInvalidBlock  = errors.New("block number out of range")
)

// StatusError is a non-success status word returned by the reader.
type StatusError struct {
	SW uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reader returned status 0x%04X", e.SW)
}

// FriendlyError renders err for operators and action records.
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) && se.SW == swOperationKO {
		return "Failed: Auth Required or Block Locked (0x6300)"
	}
	if errors.Is(err, ErrNoCard) {
		return "card not present"
	}
	return err.Error()
}

func getUIDCommand() []byte {
	return []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}
}

func loadKeyCommand(key []byte) ([]byte, error) {
	if len(key) != 6 {
		return nil, fmt.Errorf("key must be 6 bytes, got %d", len(key))
	}
	return append([]byte{0xFF, 0x82, 0x00, 0x00, 0x06}, key...), nil
}

func authenticateCommand(block, keyType byte) []byte {
	return []byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, block, keyType, 0x00}
}

func readBinaryCommand(block byte, length byte) []byte {
	return []byte{0xFF, 0xB0, 0x00, block, length}
}

func updateBinaryCommand(block byte, data []byte) []byte {
	cmd := []byte{0xFF, 0xD6, 0x00, block, byte(len(data))}
	return append(cmd, data...)
}

// checkStatus splits the trailing status word off resp.
func checkStatus(resp []byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, ErrShortResponse
	}
	sw := binary.BigEndian.Uint16(resp[len(resp)-2:])
	if sw != swSuccess {
		return nil, &StatusError{SW: sw}
	}
	return resp[:len(resp)-2], nil
}

func blockByte(block int) (byte, error) {
	if block < 0 || block > 0xFF {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBlock, block)
	}
	return byte(block), nil
}

// validUID rejects values that are really status words or truncated reads.
func validUID(uid string) bool {
	if len(uid) < 8 || len(uid) > 20 {
		return false
	}
	return uid != "9000" && uid != "6300"
}

type transmitter interface {
	transmit(ctx context.Context, cmd []byte) ([]byte, error)
}

// apduReader implements Reader on top of any transmitter.
type apduReader struct {
	name string
	tx   transmitter
	mu   sync.Mutex
}

func (r *apduReader) Name() string { return r.name }

func (r *apduReader) exchange(ctx context.Context, cmd []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := r.tx.transmit(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return checkStatus(resp)
}

// UID reads the UID of the card in the field as uppercase hex.
func (r *apduReader) UID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.exchange(ctx, getUIDCommand())
	if err != nil {
		return "", err
	}
	uid := strings.ToUpper(hex.EncodeToString(data))
	if !validUID(uid) {
		return "", fmt.Errorf("%w: uid %q", ErrShortResponse, uid)
	}
	return uid, nil
}

func (r *apduReader) Authenticate(ctx context.Context, block int, keyType byte, key []byte) error {
	b, err := blockByte(block)
	if err != nil {
		return err
	}
	load, err := loadKeyCommand(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.exchange(ctx, load); err != nil {
		return fmt.Errorf("%w: load key: %w", ErrAuthFailed, err)
	}
	if _, err := r.exchange(ctx, authenticateCommand(b, keyType)); err != nil {
		return fmt.Errorf("%w: block %d: %w", ErrAuthFailed, block, err)
	}
	return nil
}

func (r *apduReader) Read(ctx context.Context, block int, length int) ([]byte, error) {
	b, err := blockByte(block)
	if err != nil {
		return nil, err
	}
	if length <= 0 || length > 0xFF {
		return nil, fmt.Errorf("invalid read length %d", length)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.exchange(ctx, readBinaryCommand(b, byte(length)))
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", block, err)
	}
	if len(data) < length {
		return nil, fmt.Errorf("read block %d: %w: got %d of %d bytes", block, ErrShortResponse, len(data), length)
	}
	return data[:length], nil
}

func (r *apduReader) Write(ctx context.Context, block int, data []byte, blockSize int) error {
	if blockSize <= 0 || len(data)%blockSize != 0 {
		return fmt.Errorf("data length %d is not a multiple of block size %d", len(data), blockSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i*blockSize < len(data); i++ {
		b, err := blockByte(block + i)
		if err != nil {
			return err
		}
		chunk := data[i*blockSize : (i+1)*blockSize]
		if _, err := r.exchange(ctx, updateBinaryCommand(b, chunk)); err != nil {
			return fmt.Errorf("write block %d: %w", block+i, err)
		}
	}
	return nil
}
