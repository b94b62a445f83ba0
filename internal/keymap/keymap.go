// Package keymap defines the pure lookup contract spec §4.1 requires
// and ships one concrete table over Linux evdev KEY_* codes.
//
// The table's exact contents are a swappable collaborator, not part
// of this repo's core guarantees — a deployment with a different
// keyboard layout or region can supply its own Keymap without
// touching the decoder.
package keymap

// Keymap maps a keycode, under a shift and kana state, to the text it
// produces. Lookup must return ok=false for an unrecognised keycode;
// an empty string with ok=true and ok=false are treated identically
// by the decoder (spec §4.1), so implementations are free to use
// either for "no character".
type Keymap interface {
	Lookup(keycode uint16, shift, kana bool) (text string, ok bool)
}

type entry struct {
	plain string
	shift string
	kana  string
}

// Table is a static map-backed Keymap, keyed on evdev KEY_* codes.
type Table struct {
	entries map[uint16]entry
}

// Lookup implements Keymap.
func (t *Table) Lookup(keycode uint16, shift, kana bool) (string, bool) {
	e, ok := t.entries[keycode]
	if !ok {
		return "", false
	}
	if kana && e.kana != "" {
		return e.kana, true
	}
	if shift {
		return e.shift, true
	}
	return e.plain, true
}

// Default returns the built-in US-layout table covering the
// alphanumeric block, space, and the punctuation row. It has no kana
// alternatives of its own; New lets a caller layer those in.
func Default() *Table {
	return &Table{entries: defaultEntries()}
}

// New builds a Table from explicit entries, keyed by evdev keycode.
// Each value is (plain, shift, kana) where an empty kana means "defer
// to the shift/plain mapping".
func New(entries map[uint16][3]string) *Table {
	t := &Table{entries: make(map[uint16]entry, len(entries))}
	for code, v := range entries {
		t.entries[code] = entry{plain: v[0], shift: v[1], kana: v[2]}
	}
	return t
}

// Linux evdev keycodes from <linux/input-event-codes.h> that the
// default table and the decoder both need to name directly.
const (
	KeyLeftShift  uint16 = 42
	KeyRightShift uint16 = 54
	KeyBackspace  uint16 = 14
	KeyEnter      uint16 = 28
	KeyKPEnter    uint16 = 96
	// KeyKana is the katakana/hiragana toggle found on JIS keyboards.
	KeyKana uint16 = 93
)

func defaultEntries() map[uint16]entry {
	m := map[uint16]entry{
		2:  {"1", "!", ""},
		3:  {"2", "@", ""},
		4:  {"3", "#", ""},
		5:  {"4", "$", ""},
		6:  {"5", "%", ""},
		7:  {"6", "^", ""},
		8:  {"7", "&", ""},
		9:  {"8", "*", ""},
		10: {"9", "(", ""},
		11: {"0", ")", ""},
		12: {"-", "_", ""},
		13: {"=", "+", ""},
		57: {" ", " ", ""},
		16: {"q", "Q", ""},
		17: {"w", "W", ""},
		18: {"e", "E", ""},
		19: {"r", "R", ""},
		20: {"t", "T", ""},
		21: {"y", "Y", ""},
		22: {"u", "U", ""},
		23: {"i", "I", ""},
		24: {"o", "O", ""},
		25: {"p", "P", ""},
		30: {"a", "A", ""},
		31: {"s", "S", ""},
		32: {"d", "D", ""},
		33: {"f", "F", ""},
		34: {"g", "G", ""},
		35: {"h", "H", ""},
		36: {"j", "J", ""},
		37: {"k", "K", ""},
		38: {"l", "L", ""},
		44: {"z", "Z", ""},
		45: {"x", "X", ""},
		46: {"c", "C", ""},
		47: {"v", "V", ""},
		48: {"b", "B", ""},
		49: {"n", "N", ""},
		50: {"m", "M", ""},
		26: {"[", "{", ""},
		27: {"]", "}", ""},
		39: {";", ":", ""},
		40: {"'", "\"", ""},
		41: {"`", "~", ""},
		43: {"\\", "|", ""},
		51: {",", "<", ""},
		52: {".", ">", ""},
		53: {"/", "?", ""},
	}
	return m
}
