package tests

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

func TestTerminalRegistration(t *testing.T, st store.Store, pool *pgxpool.Pool) {
	ctx := context.Background()

	t.Run("first start creates terminal and default branch", func(t *testing.T) {
		created, err := st.EnsureTerminal(ctx, terminalID, "Front Desk")
		require.NoError(t, err)
		assert.True(t, created)

		var branches int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM branches`).Scan(&branches))
		assert.Equal(t, 1, branches)

		term, err := st.GetTerminal(ctx, terminalID)
		require.NoError(t, err)
		assert.Equal(t, "Front Desk", term.Name)
		assert.Equal(t, "local", term.ConnectionURL)
		assert.NotZero(t, term.BranchID)
	})

	t.Run("second start is a no-op", func(t *testing.T) {
		created, err := st.EnsureTerminal(ctx, terminalID, "Renamed")
		require.NoError(t, err)
		assert.False(t, created)

		created, err = st.EnsureTerminal(ctx, otherID, "Back Office")
		require.NoError(t, err)
		assert.True(t, created)

		var branches int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM branches`).Scan(&branches))
		assert.Equal(t, 1, branches)
	})

	t.Run("heartbeat and shutdown", func(t *testing.T) {
		name := "ACS ACR122U PICC Interface"
		beat := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, st.UpdateHeartbeat(ctx, terminalID, store.TerminalMetadata{
			DeviceConnected: true,
			DeviceName:      &name,
			LastHeartbeat:   beat,
		}))

		term, err := st.GetTerminal(ctx, terminalID)
		require.NoError(t, err)
		assert.True(t, term.Metadata.DeviceConnected)
		require.NotNil(t, term.Metadata.DeviceName)
		assert.Equal(t, name, *term.Metadata.DeviceName)
		require.NotNil(t, term.LastSync)
		assert.WithinDuration(t, beat, *term.LastSync, time.Second)

		require.NoError(t, st.UpdateHeartbeat(ctx, terminalID, store.TerminalMetadata{
			IsShutdown:    true,
			LastHeartbeat: time.Now().UTC(),
		}))
		term, err = st.GetTerminal(ctx, terminalID)
		require.NoError(t, err)
		assert.True(t, term.Metadata.IsShutdown)
		assert.False(t, term.Metadata.DeviceConnected)
		assert.Nil(t, term.Metadata.DeviceName)
	})

	t.Run("unknown terminal", func(t *testing.T) {
		err := st.UpdateHeartbeat(ctx, 999, store.TerminalMetadata{LastHeartbeat: time.Now()})
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = st.GetTerminal(ctx, 999)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
