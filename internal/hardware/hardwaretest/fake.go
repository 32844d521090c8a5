// Package hardwaretest provides in-memory readers and transports for tests.
package hardwaretest

import (
	"context"
	"sync"
	"time"

	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
)

type WriteCall struct {
	Block     int
	Data      []byte
	BlockSize int
}

// Reader is a scriptable hardware.Reader backed by a block map.
type Reader struct {
	name string

	mu        sync.Mutex
	mem       map[int][]byte
	authErr   error
	readErr   error
	writeErr  map[int]error
	readDelay time.Duration
	authCalls int
	writes    []WriteCall
}

func NewReader(name string) *Reader {
	return &Reader{name: name, mem: make(map[int][]byte), writeErr: make(map[int]error)}
}

func (r *Reader) Name() string { return r.name }

func (r *Reader) SetBlock(block int, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mem[block] = append([]byte(nil), data...)
}

// FailAuth makes every Authenticate call return err.
func (r *Reader) FailAuth(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authErr = err
}

func (r *Reader) FailRead(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readErr = err
}

// FailWrite makes writes using blockSize return err.
func (r *Reader) FailWrite(blockSize int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErr[blockSize] = err
}

func (r *Reader) SetReadDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readDelay = d
}

func (r *Reader) Writes() []WriteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WriteCall(nil), r.writes...)
}

func (r *Reader) AuthCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authCalls
}

func (r *Reader) Authenticate(ctx context.Context, block int, keyType byte, key []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.authErr
}

// Read returns the bytes stored at block, concatenating following blocks
// when a page-sized write left less than length bytes there.
func (r *Reader) Read(ctx context.Context, block int, length int) ([]byte, error) {
	r.mu.Lock()
	delay, readErr := r.readDelay, r.readErr
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if readErr != nil {
		return nil, readErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, 0, length)
	for b := block; len(out) < length; b++ {
		chunk, ok := r.mem[b]
		if !ok {
			return nil, hardware.ErrShortResponse
		}
		out = append(out, chunk...)
	}
	return out[:length], nil
}

func (r *Reader) Write(ctx context.Context, block int, data []byte, blockSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.writes = append(r.writes, WriteCall{Block: block, Data: append([]byte(nil), data...), BlockSize: blockSize})
	if err := r.writeErr[blockSize]; err != nil {
		return err
	}
	for i := 0; i*blockSize < len(data); i++ {
		r.mem[block+i] = append([]byte(nil), data[i*blockSize:(i+1)*blockSize]...)
	}
	return nil
}

// Transport lets a test inject events into whatever consumes Run's sink.
type Transport struct {
	ready chan struct{}
	once  sync.Once

	mu   sync.Mutex
	ctx  context.Context
	sink chan<- hardware.Event
}

func NewTransport() *Transport {
	return &Transport{ready: make(chan struct{})}
}

func (t *Transport) Run(ctx context.Context, sink chan<- hardware.Event) error {
	t.mu.Lock()
	t.ctx = ctx
	t.sink = sink
	t.mu.Unlock()
	t.once.Do(func() { close(t.ready) })
	<-ctx.Done()
	return nil
}

// Emit blocks until Run has started and the event is delivered.
func (t *Transport) Emit(ev hardware.Event) {
	<-t.ready
	t.mu.Lock()
	ctx, sink := t.ctx, t.sink
	t.mu.Unlock()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case sink <- ev:
	case <-ctx.Done():
	}
}

func (t *Transport) Attach(r hardware.Reader) {
	t.Emit(hardware.Event{Kind: hardware.ReaderAttached, Reader: r})
}

func (t *Transport) Detach(r hardware.Reader) {
	t.Emit(hardware.Event{Kind: hardware.ReaderDetached, Reader: r})
}

func (t *Transport) Detect(r hardware.Reader, uid string) {
	t.Emit(hardware.Event{Kind: hardware.CardDetected, Reader: r, UID: uid})
}

func (t *Transport) Remove(r hardware.Reader, uid string) {
	t.Emit(hardware.Event{Kind: hardware.CardRemoved, Reader: r, UID: uid})
}
