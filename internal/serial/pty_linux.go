package serial

import (
	"fmt"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
)

// Winsize mirrors struct winsize from <asm-generic/termbits.h>. A PTY
// pair has no physical terminal geometry; this package itself never
// sets it (every OpenPTY call here passes a nil Winsize), but exposes
// it for callers that want to mimic a specific terminal.
type Winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

// SetLockPT locks or unlocks the slave side of a /dev/ptmx master.
// The master must be unlocked before its slave can be opened.
func (p *Port) SetLockPT(lock bool) error {
	var arg int32
	if lock {
		arg = 1
	}
	return ioctl.Ioctl(uintptr(p.f), tiocsptlck, uintptr(unsafe.Pointer(&arg)))
}

// PTSName returns the /dev/pts/N path of this master's slave.
func (p *Port) PTSName() (string, error) {
	var n uint32
	if err := ioctl.Ioctl(uintptr(p.f), tiocgptn, uintptr(unsafe.Pointer(&n))); err != nil {
		return "", err
	}
	return fmt.Sprintf("/dev/pts/%d", n), nil
}

func (p *Port) SetWinSize(w *Winsize) error {
	return ioctl.Ioctl(uintptr(p.f), tiocswinsz, uintptr(unsafe.Pointer(w)))
}

func (p *Port) GetWinSize() (*Winsize, error) {
	w := &Winsize{}
	if err := ioctl.Ioctl(uintptr(p.f), tiocgwinsz, uintptr(unsafe.Pointer(w))); err != nil {
		return nil, err
	}
	return w, nil
}

// OpenPTY allocates a fresh /dev/ptmx master/slave pair and returns
// both ends opened, along with the slave's /dev/pts/N path (the sink
// needs the path both to open a second independent fd on the same
// slave for write-pacing and to symlink Serial.PTYSymlinkPath to it).
//
// If termp is non-nil the slave is configured with it; if winp is
// non-nil the slave's window size is set too.
func OpenPTY(termp *Termios, winp *Winsize) (master *Port, slave *Port, slavePath string, err error) {
	master, err = Open("/dev/ptmx", nil)
	if err != nil {
		return nil, nil, "", err
	}
	if err = master.SetLockPT(false); err != nil {
		master.Close()
		return nil, nil, "", err
	}
	slavePath, err = master.PTSName()
	if err != nil {
		master.Close()
		return nil, nil, "", err
	}
	slave, err = Open(slavePath, nil)
	if err != nil {
		master.Close()
		return nil, nil, "", err
	}
	if termp != nil {
		if err = slave.SetAttr(TCSANOW, termp); err != nil {
			slave.Close()
			master.Close()
			return nil, nil, "", err
		}
	}
	if winp != nil {
		if err = slave.SetWinSize(winp); err != nil {
			slave.Close()
			master.Close()
			return nil, nil, "", err
		}
	}
	return master, slave, slavePath, nil
}
