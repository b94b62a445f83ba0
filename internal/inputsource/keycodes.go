package inputsource

import evdev "github.com/gvalkov/golang-evdev"

// keyNameToCode resolves a config-file key name (the Linux
// <linux/input-event-codes.h> spelling, e.g. "KEY_ENTER") to its
// evdev keycode. Decoder and scoring both need this: terminator_keys
// and prefer_event_has_keys are configured as names, not raw codes,
// so this package owns the one table translating between the two
// (see decoder.NewTerminatorSet).
var keyNameToCode = map[string]uint16{
	"KEY_ENTER":     evdev.KEY_ENTER,
	"KEY_KPENTER":   evdev.KEY_KPENTER,
	"KEY_TAB":       evdev.KEY_TAB,
	"KEY_ESC":       evdev.KEY_ESC,
	"KEY_SPACE":     evdev.KEY_SPACE,
	"KEY_BACKSPACE": evdev.KEY_BACKSPACE,
	"KEY_LEFTSHIFT": evdev.KEY_LEFTSHIFT,
	"KEY_RIGHTSHIFT": evdev.KEY_RIGHTSHIFT,
	"KEY_KATAKANAHIRAGANA": evdev.KEY_KATAKANAHIRAGANA,
}

// ResolveKeycodes translates a list of key names into the evdev
// keycode set the decoder and scoring logic consume. Names missing
// from keyNameToCode are dropped silently; no layer logs or rejects
// them.
func ResolveKeycodes(names []string) map[uint16]struct{} {
	out := make(map[uint16]struct{}, len(names))
	for _, n := range names {
		if code, ok := keyNameToCode[n]; ok {
			out[code] = struct{}{}
		}
	}
	return out
}
