package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
	"github.com/omarafosh/NFC-Card-Germany/internal/signature"
)

type InjectorConfig struct {
	Access       CardAccess
	WriteTimeout time.Duration
	// Once stops after the first card is injected and verified.
	Once bool
}

type InjectionResult struct {
	UID      string
	Reader   string
	Verified bool
	Err      error
}

// Injector writes the signature to every card presented, without talking to
// the remote store.
type Injector struct {
	cfg      InjectorConfig
	codec    *signature.Codec
	report   func(InjectionResult)
	injected map[hardware.Reader]string
}

func NewInjector(cfg InjectorConfig, codec *signature.Codec, report func(InjectionResult)) *Injector {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if report == nil {
		report = func(InjectionResult) {}
	}
	return &Injector{cfg: cfg, codec: codec, report: report, injected: make(map[hardware.Reader]string)}
}

// Run drives transport until ctx ends, or after the first success when Once
// is set. It returns the number of verified injections.
func (inj *Injector) Run(ctx context.Context, transport hardware.Transport) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan hardware.Event, 8)
	transportDone := make(chan error, 1)
	go func() {
		transportDone <- transport.Run(ctx, events)
	}()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, waitTransport(events, transportDone)
		case err := <-transportDone:
			return count, err
		case ev := <-events:
			switch ev.Kind {
			case hardware.CardDetected:
				if inj.injected[ev.Reader] == ev.UID {
					continue
				}
				res := inj.Inject(ctx, ev.Reader, ev.UID)
				inj.report(res)
				if res.Err != nil {
					continue
				}
				inj.injected[ev.Reader] = ev.UID
				if res.Verified {
					count++
				}
				if inj.cfg.Once && res.Verified {
					cancel()
					return count, waitTransport(events, transportDone)
				}
			case hardware.CardRemoved, hardware.ReaderDetached:
				delete(inj.injected, ev.Reader)
			case hardware.ReaderAttached:
				slog.Info("Reader ready, present a card", "reader", ev.Reader.Name())
			}
		}
	}
}

// Inject writes and then reads back the signature for uid.
func (inj *Injector) Inject(ctx context.Context, r hardware.Reader, uid string) InjectionResult {
	uid = signature.NormalizeUID(uid)
	res := InjectionResult{UID: uid, Reader: r.Name()}
	sig := inj.codec.Generate(uid)

	wctx, cancel := context.WithTimeout(ctx, inj.cfg.WriteTimeout)
	defer cancel()

	if err := inj.cfg.Access.writeSignature(wctx, r, sig[:]); err != nil {
		res.Err = err
		slog.Error("Injection failed", "uid", uid, "error", hardware.FriendlyError(err))
		return res
	}

	data, err := inj.cfg.Access.readSignature(wctx, r)
	if err != nil {
		slog.Warn("Injected signature could not be read back", "uid", uid, "error", err)
		return res
	}
	res.Verified = inj.codec.Verify(uid, data)
	slog.Info("Signature injected", "uid", uid, "verified", res.Verified)
	return res
}

func waitTransport(events <-chan hardware.Event, done <-chan error) error {
	for {
		select {
		case <-events:
		case err := <-done:
			return err
		}
	}
}
