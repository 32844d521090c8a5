package tests

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/omarafosh/NFC-Card-Germany/internal/bridge"
	"github.com/omarafosh/NFC-Card-Germany/internal/cloud"
	"github.com/omarafosh/NFC-Card-Germany/internal/hardware/hardwaretest"
	"github.com/omarafosh/NFC-Card-Germany/internal/notify"
	"github.com/omarafosh/NFC-Card-Germany/internal/signature"
	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

// TestBridgeEndToEnd drives the bridge with a scripted reader against the
// real store: scan, remote write over LISTEN/NOTIFY, removal, re-scan.
func TestBridgeEndToEnd(t *testing.T, st store.Store, pool *pgxpool.Pool) {
	const uid = "04C0FFEE01"
	codec, err := signature.New(testSecret)
	require.NoError(t, err)
	insertCard(t, pool, uid)

	cfg := cloud.DefaultConfig(terminalID)
	cfg.ScanPolicy.BaseDelay = 10 * time.Millisecond
	cfg.UpdatePolicy.BaseDelay = 10 * time.Millisecond
	sync := cloud.NewSync(st, cfg)

	transport := hardwaretest.NewTransport()
	b := bridge.New(bridge.DefaultConfig(), transport, sync, codec, notify.Log{})
	listener := bridge.NewListener(bridge.ListenerConfig{
		TerminalID:      terminalID,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}, st, b, sync, notify.Log{})

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx) })
	defer func() {
		cancel()
		require.NoError(t, g.Wait())
	}()

	reader := hardwaretest.NewReader("ACS ACR122U PICC Interface 0")
	transport.Attach(reader)
	transport.Detect(reader, uid)

	require.Eventually(t, func() bool { return len(scansFor(t, pool, uid)) == 1 }, waitFor, tick)
	first := scansFor(t, pool, uid)[0]
	assert.Equal(t, "PRESENT", first.Status)
	assert.False(t, first.Metadata.Secured)

	id := insertAction(t, pool, terminalID, store.ActionWriteSignature, store.WriteSignaturePayload{
		UID:       uid,
		Signature: codec.GenerateHex(uid),
	})
	require.Eventually(t, func() bool { return getAction(t, pool, id).Status == "COMPLETED" }, waitFor, tick)

	data, err := reader.Read(context.Background(), 4, signature.Size)
	require.NoError(t, err)
	assert.True(t, codec.Verify(uid, data))

	card := getCard(t, pool, uid)
	require.NotNil(t, card.Signature)
	assert.Equal(t, codec.GenerateHex(uid), *card.Signature)
	assert.Equal(t, true, card.Metadata["secured"])

	transport.Remove(reader, uid)
	require.Eventually(t, func() bool { return scansFor(t, pool, uid)[0].Status == "REMOVED" }, waitFor, tick)

	transport.Detect(reader, uid)
	require.Eventually(t, func() bool { return len(scansFor(t, pool, uid)) == 2 }, waitFor, tick)
	second := scansFor(t, pool, uid)[1]
	assert.Equal(t, "PRESENT", second.Status)
	assert.True(t, second.Metadata.Secured, "the freshly written signature verifies on re-scan")
}
