package serial

import (
	"time"

	"golang.org/x/sys/unix"
)

// Bridge forwards bytes between two master PTY fds, byte-transparent
// and full duplex: spec §4.5's bridge worker. The two fds it owns
// exclusively are the only cross-goroutine shared state in this repo
// (spec §5: "the bridge merely copies bytes between two file
// descriptors it exclusively owns").
type Bridge struct {
	a, b *Port
	stop chan struct{}
	done chan struct{}
}

// NewBridge builds a Bridge over two already-open master Ports. Start
// must be called to begin forwarding.
func NewBridge(a, b *Port) *Bridge {
	return &Bridge{a: a, b: b, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start launches the forwarding loop in its own goroutine.
func (br *Bridge) Start() {
	go br.run()
}

func (br *Bridge) run() {
	defer close(br.done)
	buf := make([]byte, 1024)
	for {
		select {
		case <-br.stop:
			return
		default:
		}

		fds := []unix.PollFd{
			{Fd: int32(br.a.Fd()), Events: unix.POLLIN},
			{Fd: int32(br.b.Fd()), Events: unix.POLLIN},
		}
		if fds[0].Fd < 0 || fds[1].Fd < 0 {
			return
		}

		n, err := unix.Poll(fds, 500)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			br.copyOnce(br.a, br.b, buf)
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			br.copyOnce(br.b, br.a, buf)
		}
	}
}

// copyOnce reads up to len(buf) bytes from from and writes them
// verbatim to to. A zero-length read is ignored rather than treated
// as EOF: PTY masters don't signal EOF this way.
func (br *Bridge) copyOnce(from, to *Port, buf []byte) {
	n, err := from.Read(buf)
	if err != nil || n == 0 {
		return
	}
	to.Write(buf[:n])
}

// Stop signals the worker to exit, closes both masters so a blocked
// poll returns immediately, and waits up to 1s for the worker to
// finish — an overrun leaks the goroutine, which is safe once both
// fds it was polling are closed (spec §5).
func (br *Bridge) Stop() {
	close(br.stop)
	br.a.Close()
	br.b.Close()
	select {
	case <-br.done:
	case <-time.After(time.Second):
	}
}
