package serial

import (
	ioctl "github.com/daedaluz/goioctl"
	"unsafe"
)

// ioctl request numbers this package issues. Trimmed from the fuller
// termios/tty ioctl surface (no RS-485, legacy serial_struct, break
// control, or process-group ioctls: nothing in this repo's serial
// sink needs them) down to termios get/set, drain, modem lines,
// exclusive open, and PTY allocation/winsize.
var (
	tcgets  = uintptr(0x5401)
	tcsets  = uintptr(0x5402)
	tcsetsw = uintptr(0x5403)
	tcsetsf = uintptr(0x5404)

	tcgets2  = ioctl.IOR('T', 0x2A, unsafe.Sizeof(Termios2{}))
	tcsets2  = ioctl.IOW('T', 0x2B, unsafe.Sizeof(Termios2{}))
	tcsetsw2 = ioctl.IOW('T', 0x2C, unsafe.Sizeof(Termios2{}))
	tcsetsf2 = ioctl.IOW('T', 0x2D, unsafe.Sizeof(Termios2{}))

	// tcsbrk with a nonzero argument behaves like tcdrain(3): wait for
	// pending output to finish transmitting. This package never sends
	// an actual break, so the zero-argument break-signal behaviour is
	// unused.
	tcsbrk = uintptr(0x5409)

	tiocmget = uintptr(0x5415)
	tiocmbis = uintptr(0x5416)
	tiocmbic = uintptr(0x5417)
	tiocmset = uintptr(0x5418)

	tiocgptn   = ioctl.IOR('T', 0x30, unsafe.Sizeof(uint32(0)))
	tiocsptlck = ioctl.IOW('T', 0x31, unsafe.Sizeof(int32(0)))

	tiocswinsz = uintptr(0x5414)
	tiocgwinsz = uintptr(0x5413)

	tiocexcl = uintptr(0x540C)
)
