// Package decoder implements the keystroke-to-text accumulator from
// spec §4.2: it owns the single mutable BufferState and turns a
// stream of key events into flush payloads, without knowing anything
// about dedup or how a payload eventually reaches a wire.
package decoder

import (
	"time"

	"github.com/Akihiko-Fuji/key2ser/internal/config"
	"github.com/Akihiko-Fuji/key2ser/internal/keymap"
)

// Action is the evdev-level key action. Repeat is folded into Down by
// Handle (spec §9 Open Question (i): auto-repeat accumulates).
type Action int

const (
	Up Action = iota
	Down
	Repeat
)

// KeyEvent is one decoded evdev key action.
type KeyEvent struct {
	Keycode uint16
	Action  Action
}

// State is the single mutable buffer the event loop owns (spec §3
// Buffer State). Zero value is ready to use.
type State struct {
	Text          string
	shiftKeys     map[uint16]struct{}
	Kana          bool
	LastInputSet  bool
	LastInputTime time.Time

	// LastSent* are owned by the send policy, not the decoder, but
	// live here because spec's Buffer State groups them with the rest
	// of the single mutable event-loop-owned record.
	LastSentSet     bool
	LastSentPayload string
	LastSentTime    time.Time
}

// ShiftActive reports whether any shift-like key is currently held.
// shiftActive ⇔ shiftKeys ≠ ∅ (spec §8 invariant 1) holds by
// construction: this is the only way to read shift state.
func (s *State) ShiftActive() bool {
	return len(s.shiftKeys) > 0
}

func (s *State) addShift(code uint16) {
	if s.shiftKeys == nil {
		s.shiftKeys = make(map[uint16]struct{}, 2)
	}
	s.shiftKeys[code] = struct{}{}
}

func (s *State) removeShift(code uint16) {
	delete(s.shiftKeys, code)
}

// reset clears the buffer the way every flush must (spec §8 invariant
// 2): text and last-input time both go back to unset.
func (s *State) reset() {
	s.Text = ""
	s.LastInputSet = false
	s.LastInputTime = time.Time{}
}

// Flush produces the payload a forced flush emits (idle timeout, or an
// external caller closing the buffer): text plus lineEnd, or nothing
// when the buffer is empty. It resets the buffer either way. It does
// not apply send-on-enter, so it never emits a bare terminator: that
// only happens on the terminator-key path inside Handle.
func (s *State) Flush(lineEnd string) (payload string, emit bool) {
	if s.Text == "" {
		s.reset()
		return "", false
	}
	payload = s.Text + lineEnd
	s.reset()
	return payload, true
}

// Decoder turns key events into flush payloads for one send mode. It
// is stateless itself; all mutation happens on the State passed to
// Handle.
type Decoder struct {
	Keymap         keymap.Keymap
	SendMode       config.SendMode
	TerminatorKeys map[uint16]struct{}
	SendOnEnter    bool
	LineEnd        string

	// OnUnknownKey, if set, is called for a down/repeat event whose
	// keycode the keymap does not recognise (spec §4.2: "Unknown keys
	// are logged and ignored").
	OnUnknownKey func(keycode uint16)
}

// NewTerminatorSet builds the evdev keycode set Handle checks against
// from a list of already-resolved keycodes. Name resolution lives in
// inputsource, which already owns the evdev keycode table; Decoder
// only consumes the resulting set.
func NewTerminatorSet(codes []uint16) map[uint16]struct{} {
	set := make(map[uint16]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// Handle processes one key event against state and returns a payload
// to send, if any. now is used only for idle_timeout's
// last-input-time bookkeeping; Handle never sleeps or blocks.
func (d *Decoder) Handle(state *State, ev KeyEvent, now time.Time) (payload string, emit bool) {
	if ev.Action == Up {
		state.removeShift(ev.Keycode)
		return "", false
	}

	// Down and Repeat share the accumulation path.
	if ev.Keycode == keymap.KeyLeftShift || ev.Keycode == keymap.KeyRightShift {
		state.addShift(ev.Keycode)
		return "", false
	}
	if ev.Keycode == keymap.KeyKana {
		state.Kana = !state.Kana
		return "", false
	}
	if _, isTerminator := d.TerminatorKeys[ev.Keycode]; isTerminator && d.SendMode == config.SendOnEnter {
		if state.Text != "" || d.SendOnEnter {
			payload = state.Text + d.LineEnd
			emit = true
		}
		state.reset()
		return payload, emit
	}
	if ev.Keycode == keymap.KeyBackspace {
		if d.SendMode != config.SendPerChar && state.Text != "" {
			state.Text = state.Text[:len(state.Text)-len(lastRune(state.Text))]
		}
		if d.SendMode == config.SendIdleTimeout {
			// Keep invariant 2 (text=="" ⇒ last-input unset) even
			// though the spec's backspace rule is phrased as an
			// unconditional refresh: a backspace that empties the
			// buffer must also disarm the idle timer, or a flush
			// would fire on an empty buffer.
			if state.Text == "" {
				state.LastInputTime = time.Time{}
				state.LastInputSet = false
			} else {
				state.LastInputTime = now
				state.LastInputSet = true
			}
		}
		return "", false
	}

	mapped, ok := d.Keymap.Lookup(ev.Keycode, state.ShiftActive(), state.Kana)
	if !ok || mapped == "" {
		if !ok && d.OnUnknownKey != nil {
			d.OnUnknownKey(ev.Keycode)
		}
		return "", false
	}

	switch d.SendMode {
	case config.SendPerChar:
		return mapped, true
	case config.SendOnEnter:
		state.Text += mapped
		return "", false
	case config.SendIdleTimeout:
		state.Text += mapped
		state.LastInputTime = now
		state.LastInputSet = true
		return "", false
	default:
		return "", false
	}
}

// lastRune returns the final rune of s as a string, so backspace
// erases one rune rather than one byte of a multi-byte UTF-8 sequence.
func lastRune(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		// Fast path: ASCII, the overwhelming common case for scanner
		// input.
		if s[i] < 0x80 || s[i]&0xC0 != 0x80 {
			return s[i:]
		}
	}
	return s
}
