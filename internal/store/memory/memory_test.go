package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

func TestScanLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.CreateScan(ctx, store.NewScanEvent{TerminalID: 1, UID: "04A1B2C3", Status: store.ScanPresent})
	require.NoError(t, err)

	require.NoError(t, s.UpdateScan(ctx, id, store.Secured()))
	require.NoError(t, s.UpdateScan(ctx, id, store.Removed()))

	scans := s.Scans()
	require.Len(t, scans, 1)
	assert.Equal(t, store.ScanRemoved, scans[0].Status)
	assert.True(t, scans[0].Processed)
	assert.True(t, scans[0].Metadata.Secured)
}

func TestUpdateUnknownScan(t *testing.T) {
	s := New()

	err := s.UpdateScan(context.Background(), 42, store.Removed())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestScriptedFailures(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.FailCreates(boom, boom)

	_, err := s.CreateScan(context.Background(), store.NewScanEvent{UID: "A"})
	assert.ErrorIs(t, err, boom)
	_, err = s.CreateScan(context.Background(), store.NewScanEvent{UID: "A"})
	assert.ErrorIs(t, err, boom)
	_, err = s.CreateScan(context.Background(), store.NewScanEvent{UID: "A"})
	assert.NoError(t, err)
	assert.Equal(t, 3, s.CreateCalls())
}

func TestHealCardSecurityOnlyWhenUnset(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AddCard("04A1B2C3")

	healed, err := s.HealCardSecurity(ctx, "04A1B2C3")
	require.NoError(t, err)
	assert.True(t, healed)

	healed, err = s.HealCardSecurity(ctx, "04A1B2C3")
	require.NoError(t, err)
	assert.False(t, healed)

	healed, err = s.HealCardSecurity(ctx, "UNKNOWN1")
	require.NoError(t, err)
	assert.False(t, healed)
}

func TestEnsureTerminalAndHeartbeat(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.EnsureTerminal(ctx, 7, "Front Desk")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.EnsureTerminal(ctx, 7, "Front Desk")
	require.NoError(t, err)
	assert.False(t, created)

	now := time.Now().UTC()
	require.NoError(t, s.UpdateHeartbeat(ctx, 7, store.TerminalMetadata{DeviceConnected: true, LastHeartbeat: now}))

	term, err := s.GetTerminal(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Front Desk", term.Name)
	assert.True(t, term.Metadata.DeviceConnected)
	require.NotNil(t, term.LastSync)
	assert.Equal(t, now, *term.LastSync)

	assert.ErrorIs(t, s.UpdateHeartbeat(ctx, 8, store.TerminalMetadata{}), store.ErrNotFound)
}

func TestSubscriptionDeliversInsertsForTerminal(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub, err := s.SubscribeActions(ctx, 1)
	require.NoError(t, err)
	defer sub.Close()

	_, err = s.InsertAction(2, store.ActionWriteSignature, store.WriteSignaturePayload{UID: "X"})
	require.NoError(t, err)
	id, err := s.InsertAction(1, store.ActionWriteSignature, store.WriteSignaturePayload{UID: "04A1B2C3"})
	require.NoError(t, err)

	a, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.Equal(t, store.ActionPending, a.Status)
	assert.JSONEq(t, `{"uid":"04A1B2C3","signature":""}`, string(a.Payload))
}

func TestDroppedSubscription(t *testing.T) {
	s := New()

	sub, err := s.SubscribeActions(context.Background(), 1)
	require.NoError(t, err)
	s.DropSubscriptions()

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	assert.Zero(t, s.Subscribers())
}

func TestFinishAction(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.InsertAction(1, store.ActionWriteSignature, nil)
	require.NoError(t, err)

	pending, err := s.PendingActions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, s.FailAction(ctx, id, "card not present"))
	a, _ := s.Action(id)
	assert.Equal(t, store.ActionFailed, a.Status)
	require.NotNil(t, a.Message)
	assert.Equal(t, "card not present", *a.Message)
	assert.NotNil(t, a.CompletedAt)

	pending, err = s.PendingActions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
