// Package supervisor implements spec §4.6: it composes inputsource,
// decoder, sendpolicy, and serial into the top-level reconnect loop.
// It is the only package that knows about all four of them together.
package supervisor

import (
	"errors"
	"syscall"
	"time"

	"github.com/daedaluz/fdev/poll"

	"github.com/Akihiko-Fuji/key2ser/internal/bridgeerr"
	"github.com/Akihiko-Fuji/key2ser/internal/config"
	"github.com/Akihiko-Fuji/key2ser/internal/decoder"
	"github.com/Akihiko-Fuji/key2ser/internal/inputsource"
	"github.com/Akihiko-Fuji/key2ser/internal/keymap"
	"github.com/Akihiko-Fuji/key2ser/internal/sendpolicy"
	"github.com/Akihiko-Fuji/key2ser/internal/serial"
)

// Logger is the minimal structured-logging contract this package
// needs, satisfied by *log.Logger from github.com/charmbracelet/log.
type Logger interface {
	Debug(msg interface{}, keyvals ...interface{})
	Info(msg interface{}, keyvals ...interface{})
	Warn(msg interface{}, keyvals ...interface{})
	Error(msg interface{}, keyvals ...interface{})
}

// Supervisor owns the reconnect loop described in spec §4.6.
type Supervisor struct {
	Config *config.Config
	Keymap keymap.Keymap
	Log    Logger

	// Now is the clock Run uses, overridable by tests. Defaults to
	// time.Now in Run if left nil.
	Now func() time.Time
}

// Run executes the supervisor loop until a non-reconnect-eligible
// error occurs, config.Input.ReconnectInterval is 0 and a
// reconnect-eligible error occurs, or runOnce returns nil. Both inner
// loops return only on an error, so runOnce never returns nil in
// practice; there is no context or signal handling here or in
// cmd/key2ser, and SIGINT terminates the process without Run
// returning.
func (sv *Supervisor) Run() error {
	now := sv.Now
	if now == nil {
		now = time.Now
	}

	return reconnectLoop(
		func() error { return sv.runOnce(now) },
		sv.Config.Input.ReconnectInterval,
		time.Sleep,
		sv.Log,
	)
}

// reconnectLoop implements spec §4.6's reconnect policy in isolation
// from device/serial I/O: call attempt; on a reconnect-eligible error
// with a positive interval, log, sleep, and retry; otherwise return.
// Invariant 5 (k eligible failures produce exactly k sleeps) and S6
// are both tested directly against this function.
func reconnectLoop(attempt func() error, reconnectInterval time.Duration, sleep func(time.Duration), log Logger) error {
	for {
		err := attempt()
		if err == nil {
			return nil
		}
		if !bridgeerr.Reconnectable(err) {
			return err
		}
		if reconnectInterval == 0 {
			return err
		}
		log.Warn("reconnecting after error", "err", err, "interval", reconnectInterval)
		sleep(reconnectInterval)
	}
}

// runOnce is one iteration of the spec's pseudocode loop body: open
// device, optionally grab, run the configured loop, always close.
func (sv *Supervisor) runOnce(now func() time.Time) error {
	device, err := inputsource.Open(&sv.Config.Input, sv.Log)
	if err != nil {
		return err
	}
	defer device.Close()

	if sv.Config.Input.Grab {
		if err := device.Grab(); err != nil {
			return err
		}
	}

	sink, err := serial.OpenSink(sv.Config)
	if err != nil {
		return err
	}
	defer sink.Close()

	if vs, ok := sink.(*serial.VirtualSink); ok {
		sv.Log.Info("virtual serial port ready", "peer", vs.PeerPath())
	}

	policy, err := sendpolicy.New(sv.Config, sink, sv.Log)
	if err != nil {
		return err
	}

	dec := &decoder.Decoder{
		Keymap:         sv.Keymap,
		SendMode:       sv.Config.Output.SendMode,
		TerminatorKeys: inputsource.ResolveKeycodes(sv.Config.Output.TerminatorKeys),
		SendOnEnter:    sv.Config.Output.SendOnEnter,
		LineEnd:        sv.Config.LineEnd(),
		OnUnknownKey: func(code uint16) {
			sv.Log.Debug("unknown keycode", "code", code)
		},
	}

	state := &decoder.State{}

	if sv.Config.Output.SendMode == config.SendIdleTimeout {
		return runIdleTimeoutLoop(device, dec, policy, state, now, sv.Config.Output.IdleTimeout)
	}
	return runDefaultLoop(device, dec, policy, state, now)
}

// runDefaultLoop implements spec §4.6's default loop for send modes
// on_enter and per_char: blocking reads, dispatch every event.
func runDefaultLoop(device *inputsource.Source, dec *decoder.Decoder, policy *sendpolicy.Policy, state *decoder.State, now func() time.Time) error {
	for {
		events, err := device.Next()
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := dispatchOne(dec, policy, state, ev, now()); err != nil {
				return err
			}
		}
	}
}

// runIdleTimeoutLoop implements spec §4.6's idle-timeout loop: a
// deadline computed from last-input-time, a single-fd readiness poll
// against that deadline, and the three outcomes the spec names.
func runIdleTimeoutLoop(device *inputsource.Source, dec *decoder.Decoder, policy *sendpolicy.Policy, state *decoder.State, now func() time.Time, idleTimeout time.Duration) error {
	for {
		wait, hasDeadline := idleWait(state, now(), idleTimeout)

		if hasDeadline && wait <= 0 {
			if err := flush(dec, policy, state, now()); err != nil {
				return err
			}
			continue
		}

		pollTimeout := time.Duration(-1)
		if hasDeadline {
			pollTimeout = wait
		}
		err := poll.WaitInput(device.Fd(), pollTimeout)
		switch {
		case err == nil:
			events, readErr := device.Next()
			if readErr != nil {
				return readErr
			}
			for _, ev := range events {
				if err := dispatchOne(dec, policy, state, ev, now()); err != nil {
					return err
				}
			}
		case isTimeout(err):
			if err := flush(dec, policy, state, now()); err != nil {
				return err
			}
		default:
			return bridgeerr.Wrap(bridgeerr.KindDeviceAccess, "readiness poll failed", err)
		}
	}
}

// idleWait computes the spec's per-iteration deadline: if text is
// non-empty and last-input-time is set, max(0, idle_timeout -
// (now-last_input_time)); otherwise no deadline (wait indefinitely).
func idleWait(state *decoder.State, now time.Time, idleTimeout time.Duration) (wait time.Duration, hasDeadline bool) {
	if state.Text == "" || !state.LastInputSet {
		return 0, false
	}
	remaining := idleTimeout - now.Sub(state.LastInputTime)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// isTimeout reports whether err is the "deadline elapsed, nothing
// ready" outcome of poll.WaitInput rather than a genuine I/O failure.
// poll(2) itself doesn't produce an errno on timeout (it returns zero
// ready descriptors), so a wrapper that turns that into an error value
// has to synthesize one; the teacher's own call site
// (Daedaluz-goserial/port_linux.go's readTimeout) just propagates
// whatever WaitInput returns without distinguishing timeout from any
// other failure, so it gives no evidence of the concrete shape. This
// checks both plausible conventions: a net.Error-style Timeout() bool,
// and the syscall.ETIMEDOUT errno a ppoll(2) wrapper would plausibly
// return instead.
func isTimeout(err error) bool {
	if errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

func dispatchOne(dec *decoder.Decoder, policy *sendpolicy.Policy, state *decoder.State, ev decoder.KeyEvent, now time.Time) error {
	payload, emit := dec.Handle(state, ev, now)
	if !emit {
		return nil
	}
	return policy.Dispatch(state, payload, now)
}

func flush(dec *decoder.Decoder, policy *sendpolicy.Policy, state *decoder.State, now time.Time) error {
	payload, emit := state.Flush(dec.LineEnd)
	if !emit {
		return nil
	}
	return policy.Dispatch(state, payload, now)
}
