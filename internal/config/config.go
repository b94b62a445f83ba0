// Package config holds the validated, immutable configuration record
// the rest of the pipeline is built around. Parsing the on-disk YAML
// document is an ambient concern (see cmd/key2ser); this package only
// knows how to turn a raw decoded document into the typed Config the
// core consumes, or reject it with a bridgeerr.KindConfig error.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Akihiko-Fuji/key2ser/internal/bridgeerr"
)

// SendMode selects one of the three dispatch state machines in §4.6.
type SendMode string

const (
	SendOnEnter     SendMode = "on_enter"
	SendPerChar     SendMode = "per_char"
	SendIdleTimeout SendMode = "idle_timeout"
)

// EncodingErrors selects the behaviour of the text encoder when a
// character cannot be represented in the target encoding.
type EncodingErrors string

const (
	ErrorsStrict            EncodingErrors = "strict"
	ErrorsReplace           EncodingErrors = "replace"
	ErrorsIgnore            EncodingErrors = "ignore"
	ErrorsBackslashReplace  EncodingErrors = "backslashreplace"
	ErrorsXMLCharRefReplace EncodingErrors = "xmlcharrefreplace"
	ErrorsNameReplace       EncodingErrors = "namereplace"
)

// Parity is the UART parity setting.
type Parity byte

const (
	ParityNone  Parity = 'N'
	ParityEven  Parity = 'E'
	ParityOdd   Parity = 'O'
	ParityMark  Parity = 'M'
	ParitySpace Parity = 'S'
)

// LineEndMode distinguishes a literal line terminator string from one
// that uses C-style backslash escapes (e.g. "\r\n" typed in a YAML
// file as the two-character sequence backslash-r-backslash-n).
type LineEndMode string

const (
	LineEndLiteral LineEndMode = "literal"
	LineEndEscape  LineEndMode = "escape"
)

// AutoPort is the sentinel Serial.Port value requesting a synthesized
// PTY pair instead of a real device.
const AutoPort = "auto"

// RawConfig is the shape decoded directly off the YAML document.
// gopkg.in/yaml.v3 has no special handling for time.Duration (it's
// just an int64 of nanoseconds to the decoder), and spec §3 writes
// every duration-shaped setting in seconds, including fractional ones
// (idle_timeout: 0.5). Decoding straight into time.Duration fields
// either silently misinterprets whole seconds as nanoseconds or fails
// outright on a fractional value, so every duration here is a plain
// float64 of seconds and Validate converts it.
type RawConfig struct {
	Input  RawInput  `yaml:"input"`
	Serial RawSerial `yaml:"serial"`
	Output RawOutput `yaml:"output"`
}

// RawInput is RawConfig's input section; see RawConfig.
type RawInput struct {
	Mode              string   `yaml:"mode"`
	DevicePath        string   `yaml:"device_path,omitempty"`
	VendorID          *uint16  `yaml:"vendor_id,omitempty"`
	ProductID         *uint16  `yaml:"product_id,omitempty"`
	NameHint          string   `yaml:"name_hint,omitempty"`
	PreferredKeys     []string `yaml:"prefer_event_has_keys,omitempty"`
	Grab              bool     `yaml:"grab"`
	ReconnectInterval float64  `yaml:"reconnect_interval"`
}

// RawSerial is RawConfig's serial section; see RawConfig.
type RawSerial struct {
	Port                string   `yaml:"port"`
	Baudrate            int      `yaml:"baudrate"`
	ReadTimeout         float64  `yaml:"read_timeout"`
	WriteTimeout        *float64 `yaml:"write_timeout,omitempty"`
	ByteSize            int      `yaml:"bytesize"`
	Parity              Parity   `yaml:"parity"`
	StopBits            float64  `yaml:"stopbits"`
	FlowXonXoff         bool     `yaml:"xonxoff"`
	FlowRtsCts          bool     `yaml:"rtscts"`
	FlowDsrDtr          bool     `yaml:"dsrdtr"`
	Exclusive           *bool    `yaml:"exclusive,omitempty"`
	DTR                 *bool    `yaml:"dtr,omitempty"`
	RTS                 *bool    `yaml:"rts,omitempty"`
	EmulateModemSignals bool     `yaml:"emulate_modem_signals"`
	EmulateTiming       bool     `yaml:"emulate_timing"`
	PTYSymlinkPath      string   `yaml:"pty_symlink,omitempty"`
	PTYSymlinkMode      *uint32  `yaml:"pty_symlink_mode,omitempty"`
	PTYSymlinkGroup     string   `yaml:"pty_symlink_group,omitempty"`
}

// RawOutput is RawConfig's output section; see RawConfig.
type RawOutput struct {
	Encoding       string         `yaml:"encoding"`
	EncodingErrors EncodingErrors `yaml:"encoding_errors"`
	LineEnd        string         `yaml:"line_end"`
	LineEndMode    LineEndMode    `yaml:"line_end_mode"`
	TerminatorKeys []string       `yaml:"terminator_keys,omitempty"`
	SendOnEnter    bool           `yaml:"send_on_enter"`
	SendMode       SendMode       `yaml:"send_mode"`
	IdleTimeout    float64        `yaml:"idle_timeout"`
	DedupWindow    float64        `yaml:"dedup_window"`
}

// secondsToDuration converts a YAML seconds value (spec §3's unit for
// every duration-shaped setting) into a time.Duration.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// Input configures device discovery and selection (spec §3 Input).
type Input struct {
	Mode              string        `yaml:"mode"`
	DevicePath        string        `yaml:"device_path,omitempty"`
	VendorID          *uint16       `yaml:"vendor_id,omitempty"`
	ProductID         *uint16       `yaml:"product_id,omitempty"`
	NameHint          string        `yaml:"name_hint,omitempty"`
	PreferredKeys     []string      `yaml:"prefer_event_has_keys,omitempty"`
	Grab              bool          `yaml:"grab"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// Serial configures the output transport (spec §3 Serial).
type Serial struct {
	Port                 string         `yaml:"port"`
	Baudrate             int            `yaml:"baudrate"`
	ReadTimeout          time.Duration  `yaml:"read_timeout"`
	WriteTimeout         *time.Duration `yaml:"write_timeout,omitempty"`
	ByteSize             int            `yaml:"bytesize"`
	Parity               Parity         `yaml:"parity"`
	StopBits             float64        `yaml:"stopbits"`
	FlowXonXoff          bool           `yaml:"xonxoff"`
	FlowRtsCts           bool           `yaml:"rtscts"`
	FlowDsrDtr           bool           `yaml:"dsrdtr"`
	Exclusive            *bool          `yaml:"exclusive,omitempty"`
	DTR                  *bool          `yaml:"dtr,omitempty"`
	RTS                  *bool          `yaml:"rts,omitempty"`
	EmulateModemSignals  bool           `yaml:"emulate_modem_signals"`
	EmulateTiming        bool           `yaml:"emulate_timing"`
	PTYSymlinkPath       string         `yaml:"pty_symlink,omitempty"`
	PTYSymlinkMode       *uint32        `yaml:"pty_symlink_mode,omitempty"`
	PTYSymlinkGroup      string         `yaml:"pty_symlink_group,omitempty"`
}

// Output configures text encoding and send triggering (spec §3 Output).
type Output struct {
	Encoding        string         `yaml:"encoding"`
	EncodingErrors  EncodingErrors `yaml:"encoding_errors"`
	LineEnd         string         `yaml:"line_end"`
	LineEndMode     LineEndMode    `yaml:"line_end_mode"`
	TerminatorKeys  []string       `yaml:"terminator_keys,omitempty"`
	SendOnEnter     bool           `yaml:"send_on_enter"`
	SendMode        SendMode       `yaml:"send_mode"`
	IdleTimeout     time.Duration  `yaml:"idle_timeout"`
	DedupWindow     time.Duration  `yaml:"dedup_window"`
}

// Config is the immutable, validated record the pipeline is built on.
type Config struct {
	Input  Input
	Serial Serial
	Output Output

	// resolvedLineEnd is LineEnd after escape interpretation, computed
	// once by Validate so the decoder never re-parses it.
	resolvedLineEnd string
}

// LineEnd returns the line terminator after escape-sequence
// interpretation (a no-op when LineEndMode is literal).
func (c *Config) LineEnd() string {
	return c.resolvedLineEnd
}

// DefaultTerminatorKeys is used when Output.TerminatorKeys is empty.
var DefaultTerminatorKeys = []string{"KEY_ENTER", "KEY_KPENTER"}

// Validate checks every invariant from spec §3, converts every
// seconds-denominated field to its typed time.Duration, and returns a
// *bridgeerr.Error of KindConfig describing the first violation found,
// or a ready-to-use Config.
func Validate(raw *RawConfig) (*Config, error) {
	if raw == nil {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "configuration is missing")
	}

	var writeTimeout *time.Duration
	if raw.Serial.WriteTimeout != nil {
		d := secondsToDuration(*raw.Serial.WriteTimeout)
		writeTimeout = &d
	}

	cfg := Config{
		Input: Input{
			Mode:              raw.Input.Mode,
			DevicePath:        raw.Input.DevicePath,
			VendorID:          raw.Input.VendorID,
			ProductID:         raw.Input.ProductID,
			NameHint:          raw.Input.NameHint,
			PreferredKeys:     raw.Input.PreferredKeys,
			Grab:              raw.Input.Grab,
			ReconnectInterval: secondsToDuration(raw.Input.ReconnectInterval),
		},
		Serial: Serial{
			Port:                raw.Serial.Port,
			Baudrate:            raw.Serial.Baudrate,
			ReadTimeout:         secondsToDuration(raw.Serial.ReadTimeout),
			WriteTimeout:        writeTimeout,
			ByteSize:            raw.Serial.ByteSize,
			Parity:              raw.Serial.Parity,
			StopBits:            raw.Serial.StopBits,
			FlowXonXoff:         raw.Serial.FlowXonXoff,
			FlowRtsCts:          raw.Serial.FlowRtsCts,
			FlowDsrDtr:          raw.Serial.FlowDsrDtr,
			Exclusive:           raw.Serial.Exclusive,
			DTR:                 raw.Serial.DTR,
			RTS:                 raw.Serial.RTS,
			EmulateModemSignals: raw.Serial.EmulateModemSignals,
			EmulateTiming:       raw.Serial.EmulateTiming,
			PTYSymlinkPath:      raw.Serial.PTYSymlinkPath,
			PTYSymlinkMode:      raw.Serial.PTYSymlinkMode,
			PTYSymlinkGroup:     raw.Serial.PTYSymlinkGroup,
		},
		Output: Output{
			Encoding:       raw.Output.Encoding,
			EncodingErrors: raw.Output.EncodingErrors,
			LineEnd:        raw.Output.LineEnd,
			LineEndMode:    raw.Output.LineEndMode,
			TerminatorKeys: raw.Output.TerminatorKeys,
			SendOnEnter:    raw.Output.SendOnEnter,
			SendMode:       raw.Output.SendMode,
			IdleTimeout:    secondsToDuration(raw.Output.IdleTimeout),
			DedupWindow:    secondsToDuration(raw.Output.DedupWindow),
		},
	}

	if cfg.Input.Mode != "evdev" {
		return nil, bridgeerr.New(bridgeerr.KindConfig, fmt.Sprintf("input.mode must be \"evdev\", got %q", cfg.Input.Mode))
	}
	if (cfg.Input.VendorID == nil) != (cfg.Input.ProductID == nil) {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "input.vendor_id and input.product_id must both be set or both be absent")
	}
	if cfg.Input.DevicePath == "" && cfg.Input.VendorID == nil {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "input must specify device_path or vendor_id/product_id")
	}
	if cfg.Input.ReconnectInterval < 0 {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "input.reconnect_interval must be >= 0")
	}

	if cfg.Serial.Port == "" {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "serial.port is required (use \"auto\" for a synthesized pair)")
	}
	if cfg.Serial.Baudrate < 1 {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "serial.baudrate must be >= 1")
	}
	switch cfg.Serial.ByteSize {
	case 5, 6, 7, 8:
	default:
		return nil, bridgeerr.New(bridgeerr.KindConfig, fmt.Sprintf("serial.bytesize must be one of 5,6,7,8, got %d", cfg.Serial.ByteSize))
	}
	switch cfg.Serial.Parity {
	case ParityNone, ParityEven, ParityOdd, ParityMark, ParitySpace:
	default:
		return nil, bridgeerr.New(bridgeerr.KindConfig, fmt.Sprintf("serial.parity must be one of N,E,O,M,S, got %q", cfg.Serial.Parity))
	}
	switch cfg.Serial.StopBits {
	case 1, 1.5, 2:
	default:
		return nil, bridgeerr.New(bridgeerr.KindConfig, fmt.Sprintf("serial.stopbits must be one of 1, 1.5, 2, got %v", cfg.Serial.StopBits))
	}
	if cfg.Serial.WriteTimeout != nil && *cfg.Serial.WriteTimeout < 0 {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "serial.write_timeout must be >= 0")
	}

	switch cfg.Output.EncodingErrors {
	case ErrorsStrict, ErrorsReplace, ErrorsIgnore, ErrorsBackslashReplace, ErrorsXMLCharRefReplace, ErrorsNameReplace:
	default:
		return nil, bridgeerr.New(bridgeerr.KindConfig, fmt.Sprintf("output.encoding_errors has an unrecognised value %q", cfg.Output.EncodingErrors))
	}
	switch cfg.Output.SendMode {
	case SendOnEnter, SendPerChar, SendIdleTimeout:
	default:
		return nil, bridgeerr.New(bridgeerr.KindConfig, fmt.Sprintf("output.send_mode must be one of on_enter, per_char, idle_timeout, got %q", cfg.Output.SendMode))
	}
	if cfg.Output.IdleTimeout < 0 {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "output.idle_timeout must be >= 0")
	}
	if cfg.Output.DedupWindow < 0 {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "output.dedup_window must be >= 0")
	}
	if len(cfg.Output.TerminatorKeys) == 0 {
		cfg.Output.TerminatorKeys = append([]string(nil), DefaultTerminatorKeys...)
	}

	resolved, err := resolveLineEnd(cfg.Output.LineEnd, cfg.Output.LineEndMode)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindConfig, err.Error())
	}
	cfg.resolvedLineEnd = resolved

	return &cfg, nil
}

func resolveLineEnd(raw string, mode LineEndMode) (string, error) {
	switch mode {
	case "", LineEndLiteral:
		return raw, nil
	case LineEndEscape:
		return unescape(raw)
	default:
		return "", fmt.Errorf("output.line_end_mode must be \"literal\" or \"escape\", got %q", mode)
	}
}

// unescape interprets the small set of C-style escapes a line
// terminator realistically needs; it is not a general Go string
// literal parser.
func unescape(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("output.line_end ends with a trailing backslash")
		}
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '0':
			b.WriteByte(0)
		case '\\':
			b.WriteByte('\\')
		default:
			return "", fmt.Errorf("output.line_end has an unsupported escape \\%c", s[i])
		}
	}
	return b.String(), nil
}
