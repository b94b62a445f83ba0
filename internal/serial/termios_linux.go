package serial

import (
	"fmt"
	"strings"
)

// Termios mirrors struct termios from <asm-generic/termbits.h>.
type Termios struct {
	Iflag IFlag
	Oflag OFlag
	Cflag CFlag
	Lflag LFlag
	Line  Discipline
	Cc    [19]byte
}

// Termios2 mirrors struct termios2, the BOTHER-capable variant that
// carries an explicit input/output speed instead of packing it into
// the low bits of Cflag. SetCustomSpeed is how this package always
// sets baud rate, so every baud in config.Serial.Baudrate is
// representable without a lookup table.
type Termios2 struct {
	Iflag  IFlag
	Oflag  OFlag
	Cflag  CFlag
	Lflag  LFlag
	Line   Discipline
	Cc     [19]byte
	ISpeed uint32
	OSpeed uint32
}

type IFlag uint32

const (
	IGNBRK IFlag = 0000001
	BRKINT IFlag = 0000002
	IGNPAR IFlag = 0000004
	PARMRK IFlag = 0000010
	INPCK  IFlag = 0000020
	ISTRIP IFlag = 0000040
	INLCR  IFlag = 0000100
	IGNCR  IFlag = 0000200
	ICRNL  IFlag = 0000400
	IXON   IFlag = 0002000
	IXANY  IFlag = 0004000
	IXOFF  IFlag = 0010000
)

type OFlag uint32

const (
	OPOST OFlag = 0000001
	ONLCR OFlag = 0000004
)

type CFlag uint32

const (
	CBAUD  CFlag = 0010017
	B0     CFlag = 0000000
	B50    CFlag = 0000001
	B110   CFlag = 0000003
	B300   CFlag = 0000007
	B600   CFlag = 0000010
	B1200  CFlag = 0000011
	B2400  CFlag = 0000013
	B4800  CFlag = 0000014
	B9600  CFlag = 0000015
	B19200 CFlag = 0000016
	B38400 CFlag = 0000017

	// CSIZE / CS5-CS8: byte size, spec Serial.ByteSize.
	CSIZE CFlag = 0000060
	CS5   CFlag = 0000000
	CS6   CFlag = 0000020
	CS7   CFlag = 0000040
	CS8   CFlag = 0000060

	// CSTOPB: two stop bits. Linux termios has no native 1.5-stop-bit
	// setting; spec.Serial.StopBits==1.5 maps to CSTOPB set, same as
	// 2 (documented limitation, see DESIGN.md).
	CSTOPB CFlag = 0000100

	CREAD  CFlag = 0000200
	PARENB CFlag = 0000400
	PARODD CFlag = 0001000
	HUPCL  CFlag = 0002000
	CLOCAL CFlag = 0004000

	// BOTHER/CBAUDEX: select the explicit ISpeed/OSpeed fields of
	// Termios2 instead of a CBAUD-encoded rate.
	CBAUDEX CFlag = 0010000
	BOTHER  CFlag = 0010000

	// CMSPAR: "stick" parity, used to realize config Parity Mark/Space
	// (PARODD set ⇒ mark, clear ⇒ space).
	CMSPAR CFlag = 010000000000

	// CRTSCTS: hardware RTS/CTS flow control, spec Serial.FlowRtsCts.
	CRTSCTS CFlag = 020000000000
)

type LFlag uint32

const (
	ISIG   LFlag = 0000001
	ICANON LFlag = 0000002
	ECHO   LFlag = 0000010
	ECHONL LFlag = 0000100
	IEXTEN LFlag = 0100000
)

type Action int

const (
	// TCSANOW: change occurs immediately. The only Action this package
	// uses; TCSADRAIN/TCSAFLUSH exist in the kernel ABI but nothing
	// here needs to wait for in-flight output or discard queued input
	// before applying a termios change.
	TCSANOW Action = iota
	TCSADRAIN
	TCSAFLUSH
)

type Discipline byte

// N_TTY is the only line discipline this package ever sets (the
// zero value of Termios.Line); Linux supports others (SLIP, PPP,
// HDLC, ...) that have no bearing on a USB-HID-to-serial bridge.
const N_TTY Discipline = 0

// ModemLine is a TIOCM_* modem control line bitmask.
type ModemLine int

const (
	TIOCM_LE  ModemLine = 0x001
	TIOCM_DTR ModemLine = 0x002
	TIOCM_RTS ModemLine = 0x004
	TIOCM_CTS ModemLine = 0x020
	TIOCM_CAR ModemLine = 0x040
	TIOCM_RNG ModemLine = 0x080
	TIOCM_DSR ModemLine = 0x100
)

func (m ModemLine) String() string {
	flags := make([]string, 0, len(modemLineStrings))
	for i := 1; i <= int(TIOCM_DSR); i <<= 1 {
		if int(m)&i == 0 {
			continue
		}
		if flag, ok := modemLineStrings[ModemLine(i)]; ok {
			flags = append(flags, flag)
		} else {
			flags = append(flags, fmt.Sprintf("Unknown(%x)", i))
		}
	}
	return fmt.Sprintf("[%s]", strings.Join(flags, "|"))
}

var modemLineStrings = map[ModemLine]string{
	TIOCM_LE:  "LE",
	TIOCM_DTR: "DTR",
	TIOCM_RTS: "RTS",
	TIOCM_CTS: "CTS",
	TIOCM_CAR: "CAR",
	TIOCM_RNG: "RNG",
	TIOCM_DSR: "DSR",
}

// MakeRaw puts attrs into the same raw mode cfmakeraw(3) does: no
// input/output translation, no canonical line editing, no signal
// generation, 8-bit characters. The write-pacing layer (pacing.go)
// depends on OPOST/ICANON being off so every byte it writes reaches
// the wire unmodified.
func (attrs *Termios) MakeRaw() {
	attrs.Iflag &^= IGNBRK | BRKINT | PARMRK | ISTRIP | INLCR | IGNCR | ICRNL | IXON
	attrs.Oflag &^= OPOST
	attrs.Lflag &^= ECHO | ECHONL | ICANON | ISIG | IEXTEN
	attrs.Cflag &^= CSIZE | PARENB
	attrs.Cflag |= CS8
}

func (attrs *Termios2) MakeRaw() {
	attrs.Iflag &^= IGNBRK | BRKINT | PARMRK | ISTRIP | INLCR | IGNCR | ICRNL | IXON
	attrs.Oflag &^= OPOST
	attrs.Lflag &^= ECHO | ECHONL | ICANON | ISIG | IEXTEN
	attrs.Cflag &^= CSIZE | PARENB
	attrs.Cflag |= CS8
}

func (attrs *Termios2) SetCustomSpeed(speed uint32) {
	attrs.Cflag &^= CBAUD
	attrs.Cflag |= BOTHER
	attrs.ISpeed = speed
	attrs.OSpeed = speed
}
