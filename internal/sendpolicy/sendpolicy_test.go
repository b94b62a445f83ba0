package sendpolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Akihiko-Fuji/key2ser/internal/config"
	"github.com/Akihiko-Fuji/key2ser/internal/decoder"
)

type fakeWriter struct {
	writes [][]byte
	err    error
}

func (f *fakeWriter) Write(p []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	cp := append([]byte(nil), p...)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

type fakeLogger struct{ warnings int }

func (f *fakeLogger) Warn(msg interface{}, keyvals ...interface{}) { f.warnings++ }

func newPolicy(t *testing.T, w Writer, dedup time.Duration, mode config.SendMode) *Policy {
	cfg := &config.Config{
		Output: config.Output{
			Encoding:       "utf-8",
			EncodingErrors: config.ErrorsStrict,
			DedupWindow:    dedup,
			SendMode:       mode,
		},
	}
	p, err := New(cfg, w, &fakeLogger{})
	require.NoError(t, err)
	return p
}

// S2 continuation: identical payload within dedup_window produces zero
// additional writes.
func TestDedupSuppressesWithinWindow(t *testing.T) {
	w := &fakeWriter{}
	p := newPolicy(t, w, 200*time.Millisecond, config.SendOnEnter)
	state := &decoder.State{}
	now := time.Now()

	require.NoError(t, p.Dispatch(state, "ab\r\n", now))
	require.NoError(t, p.Dispatch(state, "ab\r\n", now.Add(100*time.Millisecond)))

	assert.Len(t, w.writes, 1)
}

func TestDedupAllowsAfterWindowElapses(t *testing.T) {
	w := &fakeWriter{}
	p := newPolicy(t, w, 200*time.Millisecond, config.SendOnEnter)
	state := &decoder.State{}
	now := time.Now()

	require.NoError(t, p.Dispatch(state, "ab\r\n", now))
	require.NoError(t, p.Dispatch(state, "ab\r\n", now.Add(300*time.Millisecond)))

	assert.Len(t, w.writes, 2)
}

func TestDedupNeverAppliesToPerChar(t *testing.T) {
	w := &fakeWriter{}
	p := newPolicy(t, w, 200*time.Millisecond, config.SendPerChar)
	state := &decoder.State{}
	now := time.Now()

	require.NoError(t, p.Dispatch(state, "a", now))
	require.NoError(t, p.Dispatch(state, "a", now))

	assert.Len(t, w.writes, 2)
}

// Invariant 3, as a property: for two successive identical-payload
// dispatches, the second produces bytes iff the gap exceeds the dedup
// window (for send modes other than per_char).
func TestInvariantDedupWindow(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		windowMs := rapid.IntRange(1, 500).Draw(t, "windowMs")
		gapMs := rapid.IntRange(0, 1000).Draw(t, "gapMs")
		payload := rapid.StringN(1, 8, -1).Draw(t, "payload")

		w := &fakeWriter{}
		window := time.Duration(windowMs) * time.Millisecond
		p := newPolicy(t, w, window, config.SendOnEnter)
		state := &decoder.State{}
		now := time.Now()

		require.NoError(t, p.Dispatch(state, payload, now))
		require.NoError(t, p.Dispatch(state, payload, now.Add(time.Duration(gapMs)*time.Millisecond)))

		if gapMs <= windowMs {
			assert.Len(t, w.writes, 1)
		} else {
			assert.Len(t, w.writes, 2)
		}
	})
}

func TestEncodingFailureUnderStrictDropsPayloadAndWarns(t *testing.T) {
	w := &fakeWriter{}
	cfg := &config.Config{
		Output: config.Output{
			Encoding:       "iso-8859-7", // Greek; cannot represent Latin é
			EncodingErrors: config.ErrorsStrict,
		},
	}
	log := &fakeLogger{}
	p, err := New(cfg, w, log)
	require.NoError(t, err)

	state := &decoder.State{}
	err = p.Dispatch(state, "café", time.Now())

	require.NoError(t, err)
	assert.Empty(t, w.writes)
	assert.Equal(t, 1, log.warnings)
	assert.False(t, state.LastSentSet)
}

func TestSuccessfulWriteUpdatesLastSent(t *testing.T) {
	w := &fakeWriter{}
	p := newPolicy(t, w, 0, config.SendOnEnter)
	state := &decoder.State{}
	now := time.Now()

	require.NoError(t, p.Dispatch(state, "hello", now))

	assert.True(t, state.LastSentSet)
	assert.Equal(t, "hello", state.LastSentPayload)
	assert.Equal(t, now, state.LastSentTime)
}

func TestUnknownEncodingIsConfigError(t *testing.T) {
	cfg := &config.Config{Output: config.Output{Encoding: "not-a-real-encoding"}}
	_, err := New(cfg, &fakeWriter{}, &fakeLogger{})
	require.Error(t, err)
}
