package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validRaw() *RawConfig {
	return &RawConfig{
		Input: RawInput{
			Mode:       "evdev",
			DevicePath: "/dev/input/event0",
		},
		Serial: RawSerial{
			Port:     "/dev/ttyUSB0",
			Baudrate: 9600,
			ByteSize: 8,
			Parity:   ParityNone,
			StopBits: 1,
		},
		Output: RawOutput{
			Encoding:       "utf-8",
			EncodingErrors: ErrorsStrict,
			SendMode:       SendOnEnter,
		},
	}
}

// A whole-seconds YAML value must land on the matching whole-second
// time.Duration, not be reinterpreted as nanoseconds.
func TestValidateConvertsWholeSecondsToDuration(t *testing.T) {
	raw := validRaw()
	raw.Input.ReconnectInterval = 5

	cfg, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Input.ReconnectInterval)
}

// Fractional seconds (spec scenarios S2/S3/S6: 0.5, 0.2, 1.5) must
// decode and convert cleanly rather than failing to parse.
func TestValidateConvertsFractionalSecondsToDuration(t *testing.T) {
	raw := validRaw()
	raw.Input.ReconnectInterval = 1.5
	raw.Output.IdleTimeout = 0.5
	raw.Output.DedupWindow = 0.2

	cfg, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Input.ReconnectInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Output.IdleTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Output.DedupWindow)
}

func TestValidateConvertsReadAndWriteTimeout(t *testing.T) {
	raw := validRaw()
	raw.Serial.ReadTimeout = 2
	wt := 0.25
	raw.Serial.WriteTimeout = &wt

	cfg, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Serial.ReadTimeout)
	require.NotNil(t, cfg.Serial.WriteTimeout)
	assert.Equal(t, 250*time.Millisecond, *cfg.Serial.WriteTimeout)
}

func TestValidateLeavesWriteTimeoutNilWhenUnset(t *testing.T) {
	raw := validRaw()
	cfg, err := Validate(raw)
	require.NoError(t, err)
	assert.Nil(t, cfg.Serial.WriteTimeout)
}

func TestValidateRejectsNegativeSecondsAfterConversion(t *testing.T) {
	raw := validRaw()
	raw.Input.ReconnectInterval = -1
	_, err := Validate(raw)
	require.Error(t, err)
}

func TestValidateRejectsNilConfig(t *testing.T) {
	_, err := Validate(nil)
	require.Error(t, err)
}

// Invariant: for any non-negative seconds value, Validate's converted
// Duration round-trips back to the same number of seconds.
func TestInvariantSecondsToDurationRoundTrips(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seconds := rapid.Float64Range(0, 3600).Draw(t, "seconds")
		raw := validRaw()
		raw.Output.IdleTimeout = seconds

		cfg, err := Validate(raw)
		require.NoError(t, err)
		assert.InDelta(t, seconds, cfg.Output.IdleTimeout.Seconds(), 1e-6)
	})
}
