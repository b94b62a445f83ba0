package serial

import (
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/daedaluz/fdev/poll"
	ioctl "github.com/daedaluz/goioctl"
)

// Options configures how Open behaves.
type Options struct {
	ReadTimeout time.Duration
	OpenMode    int
}

// NewOptions returns the default options this package always opens
// with: O_RDWR|O_NOCTTY and a ReadTimeout of -1, i.e. blocking reads
// (any negative ReadTimeout means block forever), matching the
// teacher's Options.ReadTimeout convention.
func NewOptions() *Options {
	return &Options{ReadTimeout: -1, OpenMode: syscall.O_RDWR | syscall.O_NOCTTY}
}

func (o *Options) SetReadTimeout(timeout time.Duration) *Options {
	o.ReadTimeout = timeout
	return o
}

// Port is a raw fd-backed serial or PTY endpoint. It knows nothing
// about byte-pacing, bridging, or bridgeerr classification; those
// live in pacing.go, bridge.go, and sink.go respectively.
type Port struct {
	options *Options
	closed  atomic.Bool
	f       int
}

// Open opens name (a tty device node or /dev/ptmx) with opts, or the
// defaults from NewOptions if opts is nil.
func Open(name string, opts *Options) (*Port, error) {
	if opts == nil {
		opts = NewOptions()
	}
	fd, err := syscall.Open(name, opts.OpenMode, 0)
	if err != nil {
		return nil, err
	}
	return &Port{options: opts, f: fd}, nil
}

func (p *Port) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return syscall.Write(p.f, data)
}

func (p *Port) readTimeout(data []byte, timeout time.Duration) (int, error) {
	if err := poll.WaitInput(p.f, timeout); err != nil {
		return 0, err
	}
	return syscall.Read(p.f, data)
}

func (p *Port) Read(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if p.options.ReadTimeout > -1 {
		return p.readTimeout(data, p.options.ReadTimeout)
	}
	return syscall.Read(p.f, data)
}

func (p *Port) ReadTimeout(data []byte, timeout time.Duration) (int, error) {
	return p.readTimeout(data, timeout)
}

func (p *Port) SetReadTimeout(timeout time.Duration) {
	p.options.ReadTimeout = timeout
}

// Fd exposes the raw descriptor so bridge.go can poll several Ports
// at once with golang.org/x/sys/unix.Poll.
func (p *Port) Fd() int {
	if p.closed.Load() {
		return -1
	}
	return p.f
}

func (p *Port) Close() error {
	if !p.closed.Swap(true) {
		fd := p.f
		p.f = -1
		return syscall.Close(fd)
	}
	return ErrClosed
}

func (p *Port) GetAttr() (*Termios, error) {
	attrs := &Termios{}
	if err := ioctl.Ioctl(uintptr(p.f), tcgets, uintptr(unsafe.Pointer(attrs))); err != nil {
		return nil, err
	}
	return attrs, nil
}

func (p *Port) SetAttr(when Action, attrs *Termios) error {
	return ioctl.Ioctl(uintptr(p.f), tcsets+uintptr(when), uintptr(unsafe.Pointer(attrs)))
}

func (p *Port) GetAttr2() (*Termios2, error) {
	attrs := &Termios2{}
	if err := ioctl.Ioctl(uintptr(p.f), tcgets2, uintptr(unsafe.Pointer(attrs))); err != nil {
		return nil, err
	}
	return attrs, nil
}

func (p *Port) SetAttr2(when Action, attrs *Termios2) error {
	return ioctl.Ioctl(uintptr(p.f), tcsets2+uintptr(when), uintptr(unsafe.Pointer(attrs)))
}

// MakeRaw puts the port into raw mode via GetAttr2/SetAttr2 (the
// Termios2 path, so a caller that already holds a custom baud rate
// from SetCustomSpeed doesn't lose it to a narrower GetAttr/SetAttr
// round trip).
func (p *Port) MakeRaw() error {
	attrs, err := p.GetAttr2()
	if err != nil {
		return err
	}
	attrs.MakeRaw()
	return p.SetAttr2(TCSANOW, attrs)
}

// Drain waits until all output written to the port has been
// transmitted, used after the last paced byte of a flush (spec
// §4.5: "flush after the last byte").
func (p *Port) Drain() error {
	return ioctl.Ioctl(uintptr(p.f), tcsbrk, 1)
}

// SetExclusive requests TIOCEXCL: further opens of this device node
// by another process fail until Close. Some environments (containers,
// certain USB-serial drivers) don't honor it. OpenReal calls it only
// when Serial.Exclusive is set to true, and a failure there closes the
// port and is returned as bridgeerr.KindSerialConnection.
func (p *Port) SetExclusive() error {
	return ioctl.Ioctl(uintptr(p.f), tiocexcl, 0)
}

// SetModemLines sets the status of the indicated modem bits.
func (p *Port) SetModemLines(line ModemLine) error {
	return ioctl.Ioctl(uintptr(p.f), tiocmset, uintptr(unsafe.Pointer(&line)))
}

// GetModemLines reads the current modem line status.
func (p *Port) GetModemLines() (ModemLine, error) {
	var line ModemLine
	err := ioctl.Ioctl(uintptr(p.f), tiocmget, uintptr(unsafe.Pointer(&line)))
	return line, err
}

// EnableModemLines sets only the indicated bits, leaving the rest of
// the modem line state untouched.
func (p *Port) EnableModemLines(line ModemLine) error {
	return ioctl.Ioctl(uintptr(p.f), tiocmbis, uintptr(unsafe.Pointer(&line)))
}

// DisableModemLines clears only the indicated bits.
func (p *Port) DisableModemLines(line ModemLine) error {
	return ioctl.Ioctl(uintptr(p.f), tiocmbic, uintptr(unsafe.Pointer(&line)))
}

func (attrs *Termios2) SetSpeed(speed CFlag) {
	attrs.Cflag &^= CBAUD
	attrs.Cflag |= speed
}
