package serial

import (
	"fmt"
	"time"

	"github.com/Akihiko-Fuji/key2ser/internal/config"
)

// PacedWriter writes bytes one at a time with UART frame-time pacing
// when Enabled, emulating the wall-clock timing a real baud-rate
// serial link imposes (spec §4.5). With Enabled false, or a
// non-positive FrameTime, Write falls back to a single bulk write.
type PacedWriter struct {
	Port      *Port
	Enabled   bool
	FrameTime time.Duration
}

// NewPacedWriter computes frame-time = (1 start-bit + data-bits +
// parity-bit(0 or 1) + stop-bits) / baudrate. stopbits is used as-is
// (1, 1.5, or 2) since frame-time is a continuous quantity, unlike the
// termios CSTOPB bit which can only represent one or two.
func NewPacedWriter(port *Port, enabled bool, baudrate, bytesize int, parity config.Parity, stopbits float64) *PacedWriter {
	parityBits := 0.0
	if parity != config.ParityNone {
		parityBits = 1
	}
	bits := 1 + float64(bytesize) + parityBits + stopbits
	var frameTime time.Duration
	if baudrate > 0 {
		frameTime = time.Duration(bits / float64(baudrate) * float64(time.Second))
	}
	return &PacedWriter{Port: port, Enabled: enabled, FrameTime: frameTime}
}

// Write sends p through Port, pacing each byte to FrameTime when
// enabled, and draining the port after the last byte (spec: "flush
// after the last byte").
func (w *PacedWriter) Write(p []byte) (int, error) {
	if !w.Enabled || w.FrameTime <= 0 {
		return w.Port.Write(p)
	}

	deadline := time.Now()
	n := 0
	for _, b := range p {
		if err := writeByteWithRetry(w.Port, b); err != nil {
			return n, err
		}
		n++

		deadline = deadline.Add(w.FrameTime)
		if wait := time.Until(deadline); wait > 0 {
			time.Sleep(wait)
		} else {
			// Already behind schedule: don't try to catch up, just
			// resume pacing from now.
			deadline = time.Now()
		}
	}
	if err := w.Port.Drain(); err != nil {
		return n, err
	}
	return n, nil
}

// writeByteWithRetry writes a single byte, retrying up to two more
// times if the write reports zero bytes written; any other short
// write (impossible for a 1-byte buffer, but defensive) is an error.
func writeByteWithRetry(port *Port, b byte) error {
	buf := [1]byte{b}
	for attempt := 0; attempt < 3; attempt++ {
		n, err := port.Write(buf[:])
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
	}
	return fmt.Errorf("short write: wrote 0 bytes after 3 attempts")
}
