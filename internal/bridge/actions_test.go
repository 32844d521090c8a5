package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
	"github.com/omarafosh/NFC-Card-Germany/internal/hardware/hardwaretest"
	"github.com/omarafosh/NFC-Card-Germany/internal/store"
	"github.com/omarafosh/NFC-Card-Germany/internal/store/memory"
)

type fakeWriter struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeWriter) WriteSignature(_ context.Context, uid string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, uid)
	return f.err
}

func (f *fakeWriter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type listenerHarness struct {
	store  *memory.Store
	writer *fakeWriter
	cancel context.CancelFunc
	done   chan error
}

func startListener(t *testing.T, st *memory.Store, writer SignatureWriter) *listenerHarness {
	t.Helper()
	return startListenerWith(t, st, writer, testCloud(st))
}

func startListenerWith(t *testing.T, st *memory.Store, writer SignatureWriter, actions ActionSync) *listenerHarness {
	t.Helper()
	cfg := ListenerConfig{TerminalID: 1, InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond}
	l := NewListener(cfg, st, writer, actions, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h := &listenerHarness{store: st, cancel: cancel, done: make(chan error, 1)}
	if fw, ok := writer.(*fakeWriter); ok {
		h.writer = fw
	}
	go func() { h.done <- l.Run(ctx) }()
	require.Eventually(t, func() bool { return st.Subscribers() == 1 }, waitFor, tick)
	return h
}

func (h *listenerHarness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func writePayload(t *testing.T, uid string) store.WriteSignaturePayload {
	t.Helper()
	return store.WriteSignaturePayload{UID: uid, Signature: testCodec(t).GenerateHex(uid)}
}

func insertWrite(t *testing.T, st *memory.Store, payload any) int64 {
	t.Helper()
	id, err := st.InsertAction(1, store.ActionWriteSignature, payload)
	require.NoError(t, err)
	return id
}

func waitStatus(t *testing.T, st *memory.Store, id int64, want store.ActionStatus) store.TerminalAction {
	t.Helper()
	require.Eventually(t, func() bool {
		a, ok := st.Action(id)
		return ok && a.Status == want
	}, waitFor, tick)
	a, _ := st.Action(id)
	return a
}

func TestListenerDrainsPendingOnStart(t *testing.T) {
	st := memory.New()
	id := insertWrite(t, st, writePayload(t, cardUID))

	h := startListener(t, st, &fakeWriter{})
	defer h.stop(t)

	a := waitStatus(t, st, id, store.ActionCompleted)
	assert.NotNil(t, a.CompletedAt)
	assert.Equal(t, []string{cardUID}, h.writer.Calls())
}

func TestListenerExecutesPushedAction(t *testing.T) {
	st := memory.New()
	st.AddCard(cardUID)
	h := startListener(t, st, &fakeWriter{})
	defer h.stop(t)

	payload := writePayload(t, cardUID)
	id := insertWrite(t, st, payload)

	waitStatus(t, st, id, store.ActionCompleted)
	require.Eventually(t, func() bool {
		card, _ := st.Card(cardUID)
		return card.Secured != nil && *card.Secured
	}, waitFor, tick)
	card, _ := st.Card(cardUID)
	assert.Equal(t, payload.Signature, card.Signature)
	assert.True(t, card.SignatureValid)
}

func TestListenerRejectsInvalidPayload(t *testing.T) {
	st := memory.New()
	h := startListener(t, st, &fakeWriter{})
	defer h.stop(t)

	id := insertWrite(t, st, store.WriteSignaturePayload{UID: cardUID, Signature: "not-hex"})

	a := waitStatus(t, st, id, store.ActionFailed)
	require.NotNil(t, a.Message)
	assert.Contains(t, *a.Message, "invalid payload: ")
	assert.Empty(t, h.writer.Calls())
}

func TestListenerFailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"card gone", fmt.Errorf("%w: %s", hardware.ErrNoCard, cardUID), "card not present"},
		{"locked block", fmt.Errorf("write block 4: %w", &hardware.StatusError{SW: 0x6300}), "Failed: Auth Required or Block Locked (0x6300)"},
		{"other", fmt.Errorf("reader exploded"), "reader exploded"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := memory.New()
			h := startListener(t, st, &fakeWriter{err: tc.err})
			defer h.stop(t)

			id := insertWrite(t, st, writePayload(t, cardUID))

			a := waitStatus(t, st, id, store.ActionFailed)
			require.NotNil(t, a.Message)
			assert.Equal(t, tc.want, *a.Message)
		})
	}
}

func TestListenerIgnoresDuplicateDelivery(t *testing.T) {
	st := memory.New()
	h := startListener(t, st, &fakeWriter{})
	defer h.stop(t)

	first := insertWrite(t, st, writePayload(t, cardUID))
	waitStatus(t, st, first, store.ActionCompleted)

	st.Redeliver(first)
	second := insertWrite(t, st, writePayload(t, "04D5E6F7"))
	waitStatus(t, st, second, store.ActionCompleted)

	assert.Equal(t, []string{cardUID, "04D5E6F7"}, h.writer.Calls())
}

func TestListenerLeavesUnsupportedActions(t *testing.T) {
	st := memory.New()
	h := startListener(t, st, &fakeWriter{})
	defer h.stop(t)

	other, err := st.InsertAction(1, store.ActionType("REBOOT"), map[string]string{})
	require.NoError(t, err)
	write := insertWrite(t, st, writePayload(t, cardUID))
	waitStatus(t, st, write, store.ActionCompleted)

	a, _ := st.Action(other)
	assert.Equal(t, store.ActionPending, a.Status)
}

func TestListenerResubscribesAfterLoss(t *testing.T) {
	st := memory.New()
	h := startListener(t, st, &fakeWriter{})
	defer h.stop(t)

	st.DropSubscriptions()
	require.Eventually(t, func() bool { return st.Subscribers() == 1 }, waitFor, tick)

	id := insertWrite(t, st, writePayload(t, cardUID))
	waitStatus(t, st, id, store.ActionCompleted)
}

func TestListenerWritesThroughBridge(t *testing.T) {
	b := startBridge(t, DefaultConfig())
	defer b.stop(t)
	r := hardwaretest.NewReader("ACR122U")
	b.transport.Attach(r)
	b.transport.Detect(r, cardUID)
	require.Eventually(t, func() bool { return len(b.store.Scans()) == 1 }, waitFor, tick)

	l := startListener(t, b.store, b.bridge)
	defer l.stop(t)

	id := insertWrite(t, b.store, writePayload(t, cardUID))
	waitStatus(t, b.store, id, store.ActionCompleted)

	data, err := r.Read(context.Background(), 4, 16)
	require.NoError(t, err)
	assert.True(t, b.codec.Verify(cardUID, data))

	missing := insertWrite(t, b.store, writePayload(t, "04D5E6F7"))
	a := waitStatus(t, b.store, missing, store.ActionFailed)
	assert.Equal(t, "card not present", *a.Message)
}

// flakyCompletion fails the first CompleteAction calls as if the store were
// down for longer than the update retry policy.
type flakyCompletion struct {
	ActionSync
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyCompletion) CompleteAction(ctx context.Context, id int64) error {
	f.mu.Lock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("store unreachable")
	}
	f.mu.Unlock()
	return f.ActionSync.CompleteAction(ctx, id)
}

func TestListenerReportsStatusAfterResubscribe(t *testing.T) {
	st := memory.New()
	st.AddCard(cardUID)
	actions := &flakyCompletion{ActionSync: testCloud(st), failures: 1}
	h := startListenerWith(t, st, &fakeWriter{}, actions)
	defer h.stop(t)

	id := insertWrite(t, st, writePayload(t, cardUID))
	// The card record is updated after the status report was attempted.
	require.Eventually(t, func() bool {
		card, _ := st.Card(cardUID)
		return card.Secured != nil && *card.Secured
	}, waitFor, tick)
	a, _ := st.Action(id)
	require.Equal(t, store.ActionPending, a.Status)

	st.DropSubscriptions()

	waitStatus(t, st, id, store.ActionCompleted)
	assert.Equal(t, []string{cardUID}, h.writer.Calls(), "card must not be written twice")
	actions.mu.Lock()
	defer actions.mu.Unlock()
	assert.Equal(t, 2, actions.calls)
}

// gatedWriter holds writes to one card until released.
type gatedWriter struct {
	fakeWriter
	uid     string
	release chan struct{}
}

func (w *gatedWriter) WriteSignature(ctx context.Context, uid string, sig []byte) error {
	if uid == w.uid {
		select {
		case <-w.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return w.fakeWriter.WriteSignature(ctx, uid, sig)
}

func TestListenerSlowWriteDoesNotBlockOthers(t *testing.T) {
	st := memory.New()
	writer := &gatedWriter{uid: cardUID, release: make(chan struct{})}
	h := startListener(t, st, writer)
	defer h.stop(t)

	slow := insertWrite(t, st, writePayload(t, cardUID))
	fast := insertWrite(t, st, writePayload(t, "04D5E6F7"))

	waitStatus(t, st, fast, store.ActionCompleted)
	a, _ := st.Action(slow)
	assert.Equal(t, store.ActionPending, a.Status)

	close(writer.release)
	waitStatus(t, st, slow, store.ActionCompleted)
	assert.Equal(t, []string{"04D5E6F7", cardUID}, writer.Calls())
}
