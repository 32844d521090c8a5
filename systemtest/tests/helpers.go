package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

const (
	terminalID = int64(1)
	otherID    = int64(2)

	testSecret = "test-secret-32-characters-long!!"

	waitFor = 10 * time.Second
	tick    = 50 * time.Millisecond
)

func insertCard(t *testing.T, pool *pgxpool.Pool, uid string) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO cards (uid) VALUES ($1) ON CONFLICT (uid) DO NOTHING`, uid)
	require.NoError(t, err)
}

func insertAction(t *testing.T, pool *pgxpool.Pool, terminal int64, typ store.ActionType, payload any) int64 {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var id int64
	err = pool.QueryRow(context.Background(), `
		INSERT INTO terminal_actions (terminal_id, action_type, payload)
		VALUES ($1, $2, $3::jsonb) RETURNING id`,
		terminal, string(typ), string(raw),
	).Scan(&id)
	require.NoError(t, err)
	return id
}

type actionRow struct {
	Status  string
	Message *string
}

func getAction(t *testing.T, pool *pgxpool.Pool, id int64) actionRow {
	t.Helper()
	var row actionRow
	err := pool.QueryRow(context.Background(),
		`SELECT status, message FROM terminal_actions WHERE id = $1`, id,
	).Scan(&row.Status, &row.Message)
	require.NoError(t, err)
	return row
}

type scanRow struct {
	ID        int64
	Status    string
	Processed bool
	Metadata  store.ScanMetadata
}

func scansFor(t *testing.T, pool *pgxpool.Pool, uid string) []scanRow {
	t.Helper()
	rows, err := pool.Query(context.Background(), `
		SELECT id, status, processed, metadata FROM scan_events
		WHERE terminal_id = $1 AND uid = $2 ORDER BY id`, terminalID, uid)
	require.NoError(t, err)
	defer rows.Close()

	var out []scanRow
	for rows.Next() {
		var (
			r    scanRow
			meta []byte
		)
		require.NoError(t, rows.Scan(&r.ID, &r.Status, &r.Processed, &meta))
		require.NoError(t, json.Unmarshal(meta, &r.Metadata))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

type cardRow struct {
	Signature *string
	Metadata  map[string]any
}

func getCard(t *testing.T, pool *pgxpool.Pool, uid string) cardRow {
	t.Helper()
	var (
		row  cardRow
		meta []byte
	)
	err := pool.QueryRow(context.Background(),
		`SELECT signature, metadata FROM cards WHERE uid = $1`, uid,
	).Scan(&row.Signature, &meta)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(meta, &row.Metadata))
	return row
}
