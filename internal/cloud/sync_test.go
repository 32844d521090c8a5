package cloud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
	"github.com/omarafosh/NFC-Card-Germany/internal/store/memory"
)

func testSync(st store.Store) *Sync {
	cfg := DefaultConfig(1)
	cfg.ScanPolicy.BaseDelay = time.Millisecond
	cfg.UpdatePolicy.BaseDelay = time.Millisecond
	return NewSync(st, cfg)
}

func TestRecordScanRetries(t *testing.T) {
	st := memory.New()
	transient := errors.New("connection reset")
	st.FailCreates(transient, transient)

	id, err := testSync(st).RecordScan(context.Background(), "04A1B2C3", store.ScanMetadata{Secured: true, SignatureValid: true})
	require.NoError(t, err)
	assert.Equal(t, 3, st.CreateCalls())

	scans := st.Scans()
	require.Len(t, scans, 1)
	assert.Equal(t, id, scans[0].ID)
	assert.Equal(t, int64(1), scans[0].TerminalID)
	assert.Equal(t, store.ScanPresent, scans[0].Status)
	assert.False(t, scans[0].Processed)
	assert.True(t, scans[0].Metadata.Secured)
}

func TestRecordScanExhausted(t *testing.T) {
	st := memory.New()
	transient := errors.New("connection reset")
	st.FailCreates(transient, transient, transient)

	_, err := testSync(st).RecordScan(context.Background(), "04A1B2C3", store.ScanMetadata{})
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Attempts)
	assert.Empty(t, st.Scans())
}

func TestUpdateScanBudget(t *testing.T) {
	st := memory.New()
	s := testSync(st)
	id, err := s.RecordScan(context.Background(), "04A1B2C3", store.ScanMetadata{})
	require.NoError(t, err)

	transient := errors.New("timeout")
	st.FailUpdates(transient, transient)
	err = s.UpdateScan(context.Background(), id, store.Removed())
	assert.Error(t, err)
	assert.Equal(t, 2, st.UpdateCalls())

	require.NoError(t, s.UpdateScan(context.Background(), id, store.Removed()))
	assert.Equal(t, store.ScanRemoved, st.Scans()[0].Status)
}

func TestMarkCardSecured(t *testing.T) {
	st := memory.New()
	st.AddCard("04A1B2C3")

	require.NoError(t, testSync(st).MarkCardSecured(context.Background(), "04A1B2C3", "59414D45AABBCCDDEEFF001122334455"))

	card, ok := st.Card("04A1B2C3")
	require.True(t, ok)
	assert.Equal(t, "59414D45AABBCCDDEEFF001122334455", card.Signature)
	require.NotNil(t, card.Secured)
	assert.True(t, *card.Secured)
	assert.True(t, card.SignatureValid)
}

func TestEnsureTerminalAndHeartbeat(t *testing.T) {
	st := memory.New()
	s := testSync(st)

	created, err := s.EnsureTerminal(context.Background(), "New Scanner")
	require.NoError(t, err)
	assert.True(t, created)

	name := "ACR122U"
	require.NoError(t, s.Heartbeat(context.Background(), store.TerminalMetadata{
		DeviceConnected: true,
		DeviceName:      &name,
		LastHeartbeat:   time.Now().UTC(),
	}))
	hb := st.Heartbeats()
	require.Len(t, hb, 1)
	assert.Equal(t, "ACR122U", *hb[0].DeviceName)
}

func TestActionStatus(t *testing.T) {
	st := memory.New()
	s := testSync(st)
	ctx := context.Background()

	ok, err := st.InsertAction(1, store.ActionWriteSignature, nil)
	require.NoError(t, err)
	bad, err := st.InsertAction(1, store.ActionWriteSignature, nil)
	require.NoError(t, err)

	require.NoError(t, s.CompleteAction(ctx, ok))
	require.NoError(t, s.FailAction(ctx, bad, "card not present"))

	a, _ := st.Action(ok)
	assert.Equal(t, store.ActionCompleted, a.Status)
	b, _ := st.Action(bad)
	assert.Equal(t, store.ActionFailed, b.Status)

	err = s.CompleteAction(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
