package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

func TestActionNotifications(t *testing.T, st store.Store, pool *pgxpool.Pool) {
	ctx := context.Background()

	sub, err := st.SubscribeActions(ctx, terminalID)
	require.NoError(t, err)
	// Cancelling Next tears down the listening connection, so Close may
	// report an error once the last subtest has run.
	defer func() { _ = sub.Close() }()

	payload := store.WriteSignaturePayload{UID: "04A1B2C3", Signature: "59414D45000102030405060708090A0B"}
	insertAction(t, pool, otherID, store.ActionWriteSignature, payload)
	id := insertAction(t, pool, terminalID, store.ActionWriteSignature, payload)

	nextCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	a, err := sub.Next(nextCtx)
	require.NoError(t, err)

	assert.Equal(t, id, a.ID, "notifications for other terminals are not delivered")
	assert.Equal(t, terminalID, a.TerminalID)
	assert.Equal(t, store.ActionWriteSignature, a.ActionType)
	assert.Equal(t, store.ActionPending, a.Status)
	var got store.WriteSignaturePayload
	require.NoError(t, json.Unmarshal(a.Payload, &got))
	assert.Equal(t, payload, got)

	pending, err := st.PendingActions(ctx, terminalID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	require.NoError(t, st.CompleteAction(ctx, id))
	pending, err = st.PendingActions(ctx, terminalID)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, "COMPLETED", getAction(t, pool, id).Status)

	failed := insertAction(t, pool, terminalID, store.ActionWriteSignature, payload)
	require.NoError(t, st.FailAction(ctx, failed, "card not present"))
	row := getAction(t, pool, failed)
	assert.Equal(t, "FAILED", row.Status)
	require.NotNil(t, row.Message)
	assert.Equal(t, "card not present", *row.Message)

	assert.ErrorIs(t, st.CompleteAction(ctx, failed+1000), store.ErrNotFound)

	t.Run("next honours context", func(t *testing.T) {
		short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		// Drain the notification for the failed action first.
		_, _ = sub.Next(short)
		_, err := sub.Next(short)
		assert.Error(t, err)
	})
}
