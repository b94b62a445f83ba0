package supervisor

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Akihiko-Fuji/key2ser/internal/bridgeerr"
	"github.com/Akihiko-Fuji/key2ser/internal/decoder"
)

type fakeLogger struct{ warns int }

func (f *fakeLogger) Debug(msg interface{}, keyvals ...interface{}) {}
func (f *fakeLogger) Info(msg interface{}, keyvals ...interface{})  {}
func (f *fakeLogger) Warn(msg interface{}, keyvals ...interface{})  { f.warns++ }
func (f *fakeLogger) Error(msg interface{}, keyvals ...interface{}) {}

// S6: first attempt raises SerialConnection, second succeeds but then
// raises a non-eligible error. Observe exactly one sleep.
func TestReconnectLoopSleepsOnceThenReturnsNonEligibleError(t *testing.T) {
	nonEligible := errors.New("boom")
	attempts := 0
	attempt := func() error {
		attempts++
		if attempts == 1 {
			return bridgeerr.New(bridgeerr.KindSerialConnection, "open failed")
		}
		return nonEligible
	}

	sleeps := 0
	var lastSleep time.Duration
	sleep := func(d time.Duration) {
		sleeps++
		lastSleep = d
	}

	log := &fakeLogger{}
	err := reconnectLoop(attempt, 1500*time.Millisecond, sleep, log)

	assert.Equal(t, nonEligible, err)
	assert.Equal(t, 1, sleeps)
	assert.Equal(t, 1500*time.Millisecond, lastSleep)
	assert.Equal(t, 2, attempts)
}

func TestReconnectLoopReturnsCleanlyOnSuccess(t *testing.T) {
	err := reconnectLoop(func() error { return nil }, time.Second, func(time.Duration) {}, &fakeLogger{})
	require.NoError(t, err)
}

func TestReconnectLoopRethrowsWhenIntervalZero(t *testing.T) {
	serialErr := bridgeerr.New(bridgeerr.KindSerialConnection, "down")
	sleeps := 0
	err := reconnectLoop(func() error { return serialErr }, 0, func(time.Duration) { sleeps++ }, &fakeLogger{})
	assert.Equal(t, serialErr, err)
	assert.Equal(t, 0, sleeps)
}

func TestReconnectLoopNeverCatchesConfigError(t *testing.T) {
	configErr := bridgeerr.New(bridgeerr.KindConfig, "bad config")
	sleeps := 0
	err := reconnectLoop(func() error { return configErr }, time.Second, func(time.Duration) { sleeps++ }, &fakeLogger{})
	assert.Equal(t, configErr, err)
	assert.Equal(t, 0, sleeps)
}

// Invariant 5: for reconnect_interval > 0, k reconnect-eligible
// failures produce exactly k sleeps before success or a non-eligible
// failure.
func TestInvariantReconnectSleepsMatchEligibleFailures(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(0, 10).Draw(t, "k")
		terminatesWithError := rapid.Bool().Draw(t, "terminatesWithError")

		kinds := []bridgeerr.Kind{bridgeerr.KindDeviceNotFound, bridgeerr.KindDeviceAccess, bridgeerr.KindSerialConnection}
		attempts := 0
		terminal := errors.New("fatal")
		attempt := func() error {
			attempts++
			if attempts <= k {
				kind := kinds[rapid.IntRange(0, len(kinds)-1).Draw(t, "kind")]
				return bridgeerr.New(kind, "transient")
			}
			if terminatesWithError {
				return terminal
			}
			return nil
		}

		sleeps := 0
		err := reconnectLoop(attempt, 10*time.Millisecond, func(time.Duration) { sleeps++ }, &fakeLogger{})

		assert.Equal(t, k, sleeps)
		if terminatesWithError {
			assert.Equal(t, terminal, err)
		} else {
			assert.NoError(t, err)
		}
	})
}

type timeoutError struct{ timedOut bool }

func (e timeoutError) Error() string { return "timeout error" }
func (e timeoutError) Timeout() bool { return e.timedOut }

func TestIsTimeoutRecognisesTimeoutInterface(t *testing.T) {
	assert.True(t, isTimeout(timeoutError{timedOut: true}))
	assert.False(t, isTimeout(timeoutError{timedOut: false}))
}

func TestIsTimeoutRecognisesETIMEDOUT(t *testing.T) {
	assert.True(t, isTimeout(syscall.ETIMEDOUT))
	assert.True(t, isTimeout(fmt.Errorf("poll: %w", syscall.ETIMEDOUT)))
}

func TestIsTimeoutRejectsOtherErrors(t *testing.T) {
	assert.False(t, isTimeout(errors.New("some other failure")))
	assert.False(t, isTimeout(syscall.EACCES))
}

func TestIdleWaitNoDeadlineWhenBufferEmpty(t *testing.T) {
	state := &decoder.State{}
	_, hasDeadline := idleWait(state, time.Now(), time.Second)
	assert.False(t, hasDeadline)
}

func TestIdleWaitComputesRemaining(t *testing.T) {
	now := time.Now()
	state := &decoder.State{Text: "a", LastInputSet: true, LastInputTime: now.Add(-300 * time.Millisecond)}
	wait, hasDeadline := idleWait(state, now, 500*time.Millisecond)
	assert.True(t, hasDeadline)
	assert.InDelta(t, 200*time.Millisecond, wait, float64(5*time.Millisecond))
}

func TestIdleWaitFloorsAtZero(t *testing.T) {
	now := time.Now()
	state := &decoder.State{Text: "a", LastInputSet: true, LastInputTime: now.Add(-time.Second)}
	wait, hasDeadline := idleWait(state, now, 500*time.Millisecond)
	assert.True(t, hasDeadline)
	assert.Equal(t, time.Duration(0), wait)
}
