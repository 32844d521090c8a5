package tests

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

func TestScanLifecycle(t *testing.T, st store.Store, pool *pgxpool.Pool) {
	ctx := context.Background()
	const uid = "0411223344"

	id, err := st.CreateScan(ctx, store.NewScanEvent{
		TerminalID: terminalID,
		UID:        uid,
		Status:     store.ScanPresent,
		Metadata:   store.ScanMetadata{Secured: false, SignatureValid: false},
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	rows := scansFor(t, pool, uid)
	require.Len(t, rows, 1)
	assert.Equal(t, "PRESENT", rows[0].Status)
	assert.False(t, rows[0].Processed)

	require.NoError(t, st.UpdateScan(ctx, id, store.Secured()))
	rows = scansFor(t, pool, uid)
	assert.Equal(t, "PRESENT", rows[0].Status)
	assert.True(t, rows[0].Metadata.Secured)
	assert.True(t, rows[0].Metadata.SignatureValid)

	require.NoError(t, st.UpdateScan(ctx, id, store.Removed()))
	rows = scansFor(t, pool, uid)
	assert.Equal(t, "REMOVED", rows[0].Status)
	assert.True(t, rows[0].Processed)
	assert.True(t, rows[0].Metadata.Secured)

	err = st.UpdateScan(ctx, id+1000, store.Removed())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCardSecurity(t *testing.T, st store.Store, pool *pgxpool.Pool) {
	ctx := context.Background()
	const uid = "04AABBCCDD"
	insertCard(t, pool, uid)

	healed, err := st.HealCardSecurity(ctx, uid)
	require.NoError(t, err)
	assert.True(t, healed)

	healed, err = st.HealCardSecurity(ctx, uid)
	require.NoError(t, err)
	assert.False(t, healed, "an already secured card is left alone")

	require.NoError(t, st.UpdateCardSecurity(ctx, uid, store.CardSecurity{
		Signature:      "59414D45000102030405060708090A0B",
		Secured:        true,
		SignatureValid: true,
	}))
	card := getCard(t, pool, uid)
	require.NotNil(t, card.Signature)
	assert.Equal(t, "59414D45000102030405060708090A0B", *card.Signature)
	assert.Equal(t, true, card.Metadata["secured"])

	// Unregistered cards are not created by the bridge.
	require.NoError(t, st.UpdateCardSecurity(ctx, "04FFFFFFFF", store.CardSecurity{Secured: true}))
	healed, err = st.HealCardSecurity(ctx, "04FFFFFFFF")
	require.NoError(t, err)
	assert.False(t, healed)
}
