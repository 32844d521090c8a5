package hardware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTx answers commands from a queue and records what it was sent.
type scriptedTx struct {
	mu        sync.Mutex
	responses [][]byte
	errs      []error
	sent      [][]byte
}

func (s *scriptedTx) transmit(_ context.Context, cmd []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), cmd...))
	i := len(s.sent) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return []byte{0x90, 0x00}, nil
}

func newScripted(responses ...[]byte) (*apduReader, *scriptedTx) {
	tx := &scriptedTx{responses: responses}
	return &apduReader{name: "test", tx: tx}, tx
}

func TestCommandEncoding(t *testing.T) {
	assert.Equal(t, []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}, getUIDCommand())
	assert.Equal(t, []byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, 0x04, 0x60, 0x00}, authenticateCommand(4, KeyTypeA))
	assert.Equal(t, []byte{0xFF, 0xB0, 0x00, 0x04, 0x10}, readBinaryCommand(4, 16))
	assert.Equal(t, []byte{0xFF, 0xD6, 0x00, 0x05, 0x02, 0xAA, 0xBB}, updateBinaryCommand(5, []byte{0xAA, 0xBB}))

	load, err := loadKeyCommand(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x82, 0x00, 0x00, 0x06, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, load)

	_, err = loadKeyCommand([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCheckStatus(t *testing.T) {
	data, err := checkStatus([]byte{0x01, 0x02, 0x90, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, data)

	_, err = checkStatus([]byte{0x63, 0x00})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, uint16(0x6300), se.SW)

	_, err = checkStatus([]byte{0x90})
	assert.ErrorIs(t, err, ErrShortResponse)
}

func TestFriendlyError(t *testing.T) {
	assert.Equal(t, "Failed: Auth Required or Block Locked (0x6300)",
		FriendlyError(errors.Join(errors.New("write block 4"), &StatusError{SW: 0x6300})))
	assert.Equal(t, "card not present", FriendlyError(ErrNoCard))
	assert.Equal(t, "boom", FriendlyError(errors.New("boom")))
	assert.Empty(t, FriendlyError(nil))
}

func TestValidUID(t *testing.T) {
	assert.True(t, validUID("04A1B2C3"))
	assert.True(t, validUID("04A1B2C3D4E5F6"))
	assert.False(t, validUID("9000"))
	assert.False(t, validUID("6300"))
	assert.False(t, validUID("04A1B2"))
	assert.False(t, validUID("0102030405060708090A0B"))
}

func TestReaderUID(t *testing.T) {
	r, _ := newScripted([]byte{0x04, 0xA1, 0xB2, 0xC3, 0x90, 0x00})

	uid, err := r.UID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "04A1B2C3", uid)
}

func TestReaderUIDNoCard(t *testing.T) {
	r, _ := newScripted([]byte{0x63, 0x00})

	_, err := r.UID(context.Background())
	var se *StatusError
	assert.ErrorAs(t, err, &se)
}

func TestReaderAuthenticate(t *testing.T) {
	r, tx := newScripted()

	require.NoError(t, r.Authenticate(context.Background(), 4, KeyTypeA, DefaultKey))
	require.Len(t, tx.sent, 2)
	assert.Equal(t, byte(0x82), tx.sent[0][1])
	assert.Equal(t, authenticateCommand(4, KeyTypeA), tx.sent[1])
}

func TestReaderAuthenticateFailure(t *testing.T) {
	r, _ := newScripted([]byte{0x90, 0x00}, []byte{0x63, 0x00})

	err := r.Authenticate(context.Background(), 4, KeyTypeA, DefaultKey)
	assert.ErrorIs(t, err, ErrAuthFailed)
	var se *StatusError
	assert.ErrorAs(t, err, &se)
}

func TestReaderRead(t *testing.T) {
	payload := []byte("YAME0123456789AB")
	r, tx := newScripted(append(append([]byte(nil), payload...), 0x90, 0x00))

	data, err := r.Read(context.Background(), 4, 16)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, readBinaryCommand(4, 16), tx.sent[0])
}

func TestReaderReadShort(t *testing.T) {
	r, _ := newScripted([]byte{0x01, 0x02, 0x90, 0x00})

	_, err := r.Read(context.Background(), 4, 16)
	assert.ErrorIs(t, err, ErrShortResponse)
}

func TestReaderWriteChunks(t *testing.T) {
	r, tx := newScripted()
	data := []byte("0123456789ABCDEF")

	require.NoError(t, r.Write(context.Background(), 4, data, 4))
	require.Len(t, tx.sent, 4)
	for i, cmd := range tx.sent {
		assert.Equal(t, updateBinaryCommand(byte(4+i), data[i*4:(i+1)*4]), cmd)
	}
}

func TestReaderWriteStopsOnError(t *testing.T) {
	r, tx := newScripted([]byte{0x90, 0x00}, []byte{0x63, 0x00})

	err := r.Write(context.Background(), 4, make([]byte, 16), 4)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, err.Error(), "write block 5")
	assert.Len(t, tx.sent, 2)
}

func TestReaderWriteRejectsRaggedData(t *testing.T) {
	r, tx := newScripted()

	assert.Error(t, r.Write(context.Background(), 4, make([]byte, 10), 4))
	assert.Empty(t, tx.sent)
}

func TestReaderRespectsCancelledContext(t *testing.T) {
	r, tx := newScripted()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Read(ctx, 4, 16)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tx.sent)
}

func TestInvalidBlock(t *testing.T) {
	r, _ := newScripted()

	_, err := r.Read(context.Background(), 300, 16)
	assert.ErrorIs(t, err, ErrInvalidBlock)
}
