// Package sendpolicy implements spec §4.3: it decides whether a
// decoded payload should actually be written (dedup), encodes it to
// bytes, and dispatches the write. It never decides *when* to flush
// (that is the decoder and the event loop); it only decides, given a
// candidate payload, whether bytes leave the process.
package sendpolicy

import (
	"fmt"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/Akihiko-Fuji/key2ser/internal/bridgeerr"
	"github.com/Akihiko-Fuji/key2ser/internal/config"
	"github.com/Akihiko-Fuji/key2ser/internal/decoder"
)

// Writer is the minimal sink contract the policy writes encoded bytes
// to. internal/serial's Sink satisfies this.
type Writer interface {
	Write(p []byte) (int, error)
}

// Logger is the minimal structured-logging contract this package
// needs, satisfied by *log.Logger from github.com/charmbracelet/log.
type Logger interface {
	Warn(msg interface{}, keyvals ...interface{})
}

// Policy applies dedup and encoding, then writes through to Sink.
type Policy struct {
	SendMode    config.SendMode
	DedupWindow time.Duration
	Errors      config.EncodingErrors
	Sink        Writer
	Log         Logger

	enc encoding.Encoding
}

// New resolves the configured encoding label via
// golang.org/x/text/encoding/htmlindex (the same resolver used for
// HTML5/IANA charset names) and builds a ready-to-use Policy.
// An unrecognised label is a fatal ConfigError (spec §4.3).
func New(cfg *config.Config, sink Writer, logger Logger) (*Policy, error) {
	enc, err := htmlindex.Get(cfg.Output.Encoding)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindConfig, fmt.Sprintf("unknown output.encoding %q", cfg.Output.Encoding), err)
	}
	return &Policy{
		SendMode:    cfg.Output.SendMode,
		DedupWindow: cfg.Output.DedupWindow,
		Errors:      cfg.Output.EncodingErrors,
		Sink:        sink,
		Log:         logger,
		enc:         enc,
	}, nil
}

// Dispatch applies dedup, encodes payload, and writes it through Sink
// if it survives both. state.LastSent* is updated only after a
// successful write, matching spec invariant 3 and the Buffer State
// rule that last-sent fields change only on a successful write.
func (p *Policy) Dispatch(state *decoder.State, payload string, now time.Time) error {
	if p.SendMode != config.SendPerChar && p.DedupWindow > 0 && state.LastSentSet &&
		payload == state.LastSentPayload && now.Sub(state.LastSentTime) <= p.DedupWindow {
		return nil
	}

	encoded, err := p.encode(payload)
	if err != nil {
		if p.Log != nil {
			p.Log.Warn("dropping payload: encoding failed", "err", err, "payload", payload)
		}
		return nil
	}

	if _, err := p.Sink.Write(encoded); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindSerialConnection, "serial write failed", err)
	}

	state.LastSentPayload = payload
	state.LastSentTime = now
	state.LastSentSet = true
	return nil
}

// encode turns payload into bytes under the configured error policy.
// The whole-string fast path covers the overwhelming common case
// (payload entirely representable in the target encoding); the
// per-rune path only runs once that fails.
func (p *Policy) encode(payload string) ([]byte, error) {
	enc := p.enc.NewEncoder()
	if out, err := enc.Bytes([]byte(payload)); err == nil {
		return out, nil
	}

	var out []byte
	for _, r := range payload {
		enc := p.enc.NewEncoder()
		chunk, err := enc.Bytes([]byte(string(r)))
		if err == nil {
			out = append(out, chunk...)
			continue
		}
		switch p.Errors {
		case config.ErrorsStrict:
			return nil, bridgeerr.Wrap(bridgeerr.KindPayloadEncode, fmt.Sprintf("cannot encode rune %q", r), err)
		case config.ErrorsIgnore:
			continue
		case config.ErrorsReplace:
			out = append(out, p.mustEncodeASCII("?")...)
		case config.ErrorsBackslashReplace:
			out = append(out, p.mustEncodeASCII(backslashEscape(r))...)
		case config.ErrorsXMLCharRefReplace:
			out = append(out, p.mustEncodeASCII(fmt.Sprintf("&#%d;", r))...)
		case config.ErrorsNameReplace:
			out = append(out, p.mustEncodeASCII(fmt.Sprintf("\\N{U+%04X}", r))...)
		default:
			return nil, bridgeerr.Wrap(bridgeerr.KindPayloadEncode, fmt.Sprintf("cannot encode rune %q", r), err)
		}
	}
	return out, nil
}

// mustEncodeASCII encodes a pure-ASCII substitution string, which
// every supported target charset can represent; falling back to the
// raw bytes covers the degenerate case of a target encoding that
// somehow cannot.
func (p *Policy) mustEncodeASCII(s string) []byte {
	if b, err := p.enc.NewEncoder().Bytes([]byte(s)); err == nil {
		return b
	}
	return []byte(s)
}

func backslashEscape(r rune) string {
	if r > 0xFFFF {
		return fmt.Sprintf("\\U%08X", r)
	}
	return fmt.Sprintf("\\u%04X", r)
}
