package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Akihiko-Fuji/key2ser/internal/config"
	"github.com/Akihiko-Fuji/key2ser/internal/keymap"
)

func newPerCharDecoder() *Decoder {
	return &Decoder{
		Keymap:   keymap.Default(),
		SendMode: config.SendPerChar,
		LineEnd:  "\r\n",
	}
}

func newOnEnterDecoder(sendOnEnter bool) *Decoder {
	return &Decoder{
		Keymap:         keymap.Default(),
		SendMode:       config.SendOnEnter,
		TerminatorKeys: NewTerminatorSet([]uint16{keymap.KeyEnter, keymap.KeyKPEnter}),
		SendOnEnter:    sendOnEnter,
		LineEnd:        "\r\n",
	}
}

// S1: per_char feeds KEY_A with an empty buffer, exactly one write of
// "a", buffer remains "".
func TestPerCharSingleKey(t *testing.T) {
	d := newPerCharDecoder()
	state := &State{}
	payload, emit := d.Handle(state, KeyEvent{Keycode: 30, Action: Down}, time.Now())
	require.True(t, emit)
	assert.Equal(t, "a", payload)
	assert.Equal(t, "", state.Text)
}

// S2: on_enter with send_on_enter, KEY_A, KEY_B, KEY_ENTER produces
// one emit of "ab\r\n" and the buffer resets.
func TestOnEnterAccumulatesAndFlushesOnTerminator(t *testing.T) {
	d := newOnEnterDecoder(true)
	state := &State{}
	now := time.Now()

	_, emit := d.Handle(state, KeyEvent{Keycode: 30, Action: Down}, now) // a
	assert.False(t, emit)
	_, emit = d.Handle(state, KeyEvent{Keycode: 48, Action: Down}, now) // b
	assert.False(t, emit)

	payload, emit := d.Handle(state, KeyEvent{Keycode: keymap.KeyEnter, Action: Down}, now)
	require.True(t, emit)
	assert.Equal(t, "ab\r\n", payload)
	assert.Equal(t, "", state.Text)
}

func TestOnEnterEmptyBufferEmitsBareTerminatorOnlyWhenConfigured(t *testing.T) {
	state := &State{}
	now := time.Now()

	withSendOnEnter := newOnEnterDecoder(true)
	payload, emit := withSendOnEnter.Handle(state, KeyEvent{Keycode: keymap.KeyEnter, Action: Down}, now)
	require.True(t, emit)
	assert.Equal(t, "\r\n", payload)

	withoutSendOnEnter := newOnEnterDecoder(false)
	_, emit = withoutSendOnEnter.Handle(state, KeyEvent{Keycode: keymap.KeyEnter, Action: Down}, now)
	assert.False(t, emit)
}

func TestShiftTogglesUppercase(t *testing.T) {
	d := newPerCharDecoder()
	state := &State{}
	now := time.Now()

	_, _ = d.Handle(state, KeyEvent{Keycode: keymap.KeyLeftShift, Action: Down}, now)
	assert.True(t, state.ShiftActive())

	payload, emit := d.Handle(state, KeyEvent{Keycode: 30, Action: Down}, now)
	require.True(t, emit)
	assert.Equal(t, "A", payload)

	_, _ = d.Handle(state, KeyEvent{Keycode: keymap.KeyLeftShift, Action: Up}, now)
	assert.False(t, state.ShiftActive())
}

func TestBackspaceShrinksBufferByRune(t *testing.T) {
	d := newOnEnterDecoder(false)
	state := &State{Text: "ab"}
	d.Handle(state, KeyEvent{Keycode: keymap.KeyBackspace, Action: Down}, time.Now())
	assert.Equal(t, "a", state.Text)
}

func TestBackspacePerCharIsNoOp(t *testing.T) {
	d := newPerCharDecoder()
	state := &State{Text: "ab"}
	payload, emit := d.Handle(state, KeyEvent{Keycode: keymap.KeyBackspace, Action: Down}, time.Now())
	assert.False(t, emit)
	assert.Equal(t, "", payload)
	assert.Equal(t, "ab", state.Text)
}

func TestUnknownKeyInvokesCallback(t *testing.T) {
	d := newPerCharDecoder()
	var got uint16
	d.OnUnknownKey = func(code uint16) { got = code }
	state := &State{}
	_, emit := d.Handle(state, KeyEvent{Keycode: 9999, Action: Down}, time.Now())
	assert.False(t, emit)
	assert.Equal(t, uint16(9999), got)
}

// Invariant 1: shift_active ⇔ shift_keys ≠ ∅ after every event.
func TestInvariantShiftActiveMatchesShiftKeys(t *testing.T) {
	d := newPerCharDecoder()
	rapid.Check(t, func(t *rapid.T) {
		state := &State{}
		codes := []uint16{keymap.KeyLeftShift, keymap.KeyRightShift, 30, 31, keymap.KeyBackspace}
		actions := []Action{Up, Down, Repeat}
		n := rapid.IntRange(0, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			code := codes[rapid.IntRange(0, len(codes)-1).Draw(t, "code")]
			action := actions[rapid.IntRange(0, len(actions)-1).Draw(t, "action")]
			d.Handle(state, KeyEvent{Keycode: code, Action: action}, time.Now())
		}
		if state.ShiftActive() {
			assert.NotEmpty(t, state.shiftKeys)
		} else {
			assert.Empty(t, state.shiftKeys)
		}
	})
}

// Invariant 2: after any flush, text=="" and last_input_time unset.
func TestInvariantFlushClearsBuffer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(0, 10, -1).Draw(t, "text")
		state := &State{Text: text, LastInputSet: text != "", LastInputTime: time.Now()}
		state.Flush("\r\n")
		assert.Equal(t, "", state.Text)
		assert.False(t, state.LastInputSet)
		assert.True(t, state.LastInputTime.IsZero())
	})
}

// idle_timeout backspace-to-empty also disarms the idle timer, so
// invariant 2 can never be violated by a later forced flush.
func TestIdleTimeoutBackspaceToEmptyDisarmsTimer(t *testing.T) {
	d := &Decoder{Keymap: keymap.Default(), SendMode: config.SendIdleTimeout}
	state := &State{Text: "a", LastInputSet: true, LastInputTime: time.Now()}
	d.Handle(state, KeyEvent{Keycode: keymap.KeyBackspace, Action: Down}, time.Now())
	assert.Equal(t, "", state.Text)
	assert.False(t, state.LastInputSet)
}
