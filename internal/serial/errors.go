package serial

import "syscall"

// Error is a (message, cause) pair describing a low-level serial/PTY
// failure, returned by Port methods below bridgeerr's level. sink.go
// wraps these into bridgeerr.KindSerialConnection before they cross
// into the rest of the pipeline.
type Error struct {
	msg string
	err error
}

func (e Error) Error() string {
	if e.msg != "" {
		if e.err != nil {
			return e.msg + ": " + e.err.Error()
		}
		return e.msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e Error) Unwrap() error {
	return e.err
}

// ErrClosed is returned by any Port operation attempted after Close.
var ErrClosed = Error{"port already closed", syscall.EBADF}
