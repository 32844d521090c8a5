package systemtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	pgstore "github.com/omarafosh/NFC-Card-Germany/internal/store/postgres"
	"github.com/omarafosh/NFC-Card-Germany/systemtest/postgres"
	"github.com/omarafosh/NFC-Card-Germany/systemtest/tests"
)

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}

	ctx := context.Background()
	db, err := postgres.StartPostgres(ctx)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Terminate(ctx))
	}()

	st := pgstore.New(db.Pool)

	t.Run("TerminalRegistration", func(t *testing.T) { tests.TestTerminalRegistration(t, st, db.Pool) })
	t.Run("ScanLifecycle", func(t *testing.T) { tests.TestScanLifecycle(t, st, db.Pool) })
	t.Run("CardSecurity", func(t *testing.T) { tests.TestCardSecurity(t, st, db.Pool) })
	t.Run("ActionNotifications", func(t *testing.T) { tests.TestActionNotifications(t, st, db.Pool) })
	t.Run("BridgeEndToEnd", func(t *testing.T) { tests.TestBridgeEndToEnd(t, st, db.Pool) })
}
