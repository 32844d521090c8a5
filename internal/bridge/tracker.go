package bridge

import (
	"time"

	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
)

// ReaderState is the presence state of one reader. An empty UID means no
// episode is open. EventID is zero until the remote record exists.
type ReaderState struct {
	UID      string
	EventID  int64
	LastScan time.Time
}

type EffectKind int

const (
	EffectOpen EffectKind = iota + 1
	EffectClose
)

type Effect struct {
	Kind    EffectKind
	UID     string
	EventID int64
}

// Tracker turns raw presence events into episode boundaries. Transition is
// pure; the caller owns the state.
type Tracker struct {
	// NewCardWindow suppresses a different UID reported this soon after
	// the current episode opened. Readers emit these during anti-collision.
	NewCardWindow time.Duration
}

func (t Tracker) Transition(s ReaderState, kind hardware.EventKind, uid string, now time.Time) (ReaderState, []Effect) {
	switch kind {
	case hardware.CardDetected:
		if uid == "" {
			return s, nil
		}
		if s.UID == "" {
			return ReaderState{UID: uid, LastScan: now}, []Effect{{Kind: EffectOpen, UID: uid}}
		}
		if s.UID == uid {
			return s, nil
		}
		if now.Sub(s.LastScan) < t.NewCardWindow {
			return s, nil
		}
		return ReaderState{UID: uid, LastScan: now}, []Effect{
			{Kind: EffectClose, UID: s.UID, EventID: s.EventID},
			{Kind: EffectOpen, UID: uid},
		}

	case hardware.CardRemoved:
		if s.UID == "" {
			return s, nil
		}
		if uid != "" && uid != s.UID {
			return s, nil
		}
		return ReaderState{}, []Effect{{Kind: EffectClose, UID: s.UID, EventID: s.EventID}}
	}
	return s, nil
}
