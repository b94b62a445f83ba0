package serial

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/Akihiko-Fuji/key2ser/internal/bridgeerr"
	"github.com/Akihiko-Fuji/key2ser/internal/config"
)

// Sink is the write-only transport the send policy writes encoded
// payload bytes to (spec §4.5's Serial Sink Handle).
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
}

// OpenSink dispatches to OpenReal or OpenVirtual based on
// cfg.Serial.Port, returning a bridgeerr-wrapped Sink either way.
func OpenSink(cfg *config.Config) (Sink, error) {
	if cfg.Serial.Port == config.AutoPort {
		return OpenVirtual(cfg)
	}
	return OpenReal(cfg)
}

// RealSink is a real UART character device.
type RealSink struct {
	port   *Port
	writer *PacedWriter
}

// OpenReal opens, configures, and (optionally) exclusive-locks a real
// serial device per spec §4.5 "Real port".
func OpenReal(cfg *config.Config) (*RealSink, error) {
	port, err := Open(cfg.Serial.Port, NewOptions())
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, fmt.Sprintf("open %s", cfg.Serial.Port), err)
	}

	if cfg.Serial.Exclusive != nil && *cfg.Serial.Exclusive {
		if err := port.SetExclusive(); err != nil {
			port.Close()
			return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "exclusive open requested but unsupported in this environment", err)
		}
	}

	if err := configurePort(port, &cfg.Serial); err != nil {
		port.Close()
		return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "configure termios", err)
	}

	if err := applyModemOverrides(port, &cfg.Serial); err != nil {
		port.Close()
		return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "assert DTR/RTS", err)
	}

	writer := NewPacedWriter(port, cfg.Serial.EmulateTiming, cfg.Serial.Baudrate, cfg.Serial.ByteSize, cfg.Serial.Parity, cfg.Serial.StopBits)
	return &RealSink{port: port, writer: writer}, nil
}

func (s *RealSink) Write(p []byte) (int, error) {
	n, err := s.writer.Write(p)
	if err != nil {
		return n, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "serial write", err)
	}
	return n, nil
}

func (s *RealSink) Close() error {
	return s.port.Close()
}

// VirtualSink is a synthesized serial endpoint: two PTY pairs, a
// bridge worker copying bytes between their masters, and an app-side
// Port the Sink itself writes to (spec §4.5 "Virtual port").
type VirtualSink struct {
	appMaster, peerMaster *Port
	writerPort            *Port
	writer                *PacedWriter
	bridge                *Bridge

	peerPath       string
	symlinkPath    string
	createdSymlink bool
}

// PeerPath is the peer-side slave path an external consumer attaches
// to; exposed so the CLI entrypoint can log it.
func (s *VirtualSink) PeerPath() string { return s.peerPath }

// OpenVirtual implements spec §4.5 "Virtual port": two ptmx pairs,
// raw-mode slaves, optional chmod/chgrp/symlink, and a running bridge.
func OpenVirtual(cfg *config.Config) (*VirtualSink, error) {
	raw := &Termios{}
	raw.MakeRaw()

	appMaster, appSlave, appPath, err := OpenPTY(raw, nil)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "allocate app-side PTY pair", err)
	}
	appSlave.Close()

	peerMaster, peerSlave, peerPath, err := OpenPTY(raw, nil)
	if err != nil {
		appMaster.Close()
		return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "allocate peer-side PTY pair", err)
	}
	peerSlave.Close()

	sink := &VirtualSink{appMaster: appMaster, peerMaster: peerMaster, peerPath: peerPath}

	if err := chmodChgrp(appPath, cfg.Serial.PTYSymlinkMode, cfg.Serial.PTYSymlinkGroup); err != nil {
		sink.closePorts()
		return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "chmod/chgrp app-side slave", err)
	}
	if err := chmodChgrp(peerPath, cfg.Serial.PTYSymlinkMode, cfg.Serial.PTYSymlinkGroup); err != nil {
		sink.closePorts()
		return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "chmod/chgrp peer-side slave", err)
	}

	if cfg.Serial.PTYSymlinkPath != "" {
		if err := createSymlink(cfg.Serial.PTYSymlinkPath, peerPath); err != nil {
			sink.closePorts()
			return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "create PTY symlink", err)
		}
		sink.symlinkPath = cfg.Serial.PTYSymlinkPath
		sink.createdSymlink = true
	}

	writerPort, err := Open(appPath, NewOptions())
	if err != nil {
		sink.teardown()
		return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "open app-side slave as writer", err)
	}
	if err := configurePort(writerPort, &cfg.Serial); err != nil {
		writerPort.Close()
		sink.teardown()
		return nil, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "configure app-side writer termios", err)
	}
	sink.writerPort = writerPort
	sink.writer = NewPacedWriter(writerPort, cfg.Serial.EmulateTiming, cfg.Serial.Baudrate, cfg.Serial.ByteSize, cfg.Serial.Parity, cfg.Serial.StopBits)

	sink.bridge = NewBridge(appMaster, peerMaster)
	sink.bridge.Start()

	return sink, nil
}

func (s *VirtualSink) Write(p []byte) (int, error) {
	n, err := s.writer.Write(p)
	if err != nil {
		return n, bridgeerr.Wrap(bridgeerr.KindSerialConnection, "serial write", err)
	}
	return n, nil
}

// Close stops the bridge (closing both masters), closes the
// independent writer fd, and removes the symlink if this instance
// created it.
func (s *VirtualSink) Close() error {
	if s.bridge != nil {
		s.bridge.Stop()
	}
	var err error
	if s.writerPort != nil {
		err = s.writerPort.Close()
	}
	if s.createdSymlink {
		os.Remove(s.symlinkPath)
	}
	return err
}

// closePorts tears down the two master fds without touching the
// writer/bridge/symlink, used when a setup step fails before they
// exist.
func (s *VirtualSink) closePorts() {
	s.appMaster.Close()
	s.peerMaster.Close()
}

// teardown is closePorts plus symlink cleanup, used when a later
// setup step fails after the symlink may already have been created.
func (s *VirtualSink) teardown() {
	s.closePorts()
	if s.createdSymlink {
		os.Remove(s.symlinkPath)
	}
}

// configurePort applies every termios-level Serial setting (baud,
// bytesize, parity, stopbits, flow control) to an already-open port,
// via the Termios2/BOTHER path so any baud is representable without a
// lookup table.
func configurePort(port *Port, cfg *config.Serial) error {
	attrs, err := port.GetAttr2()
	if err != nil {
		return err
	}
	attrs.MakeRaw()
	attrs.SetCustomSpeed(uint32(cfg.Baudrate))

	attrs.Cflag &^= CSIZE
	switch cfg.ByteSize {
	case 5:
		attrs.Cflag |= CS5
	case 6:
		attrs.Cflag |= CS6
	case 7:
		attrs.Cflag |= CS7
	default:
		attrs.Cflag |= CS8
	}

	switch cfg.Parity {
	case config.ParityEven:
		attrs.Cflag |= PARENB
		attrs.Cflag &^= PARODD | CMSPAR
	case config.ParityOdd:
		attrs.Cflag |= PARENB | PARODD
		attrs.Cflag &^= CMSPAR
	case config.ParityMark:
		attrs.Cflag |= PARENB | PARODD | CMSPAR
	case config.ParitySpace:
		attrs.Cflag |= PARENB | CMSPAR
		attrs.Cflag &^= PARODD
	default: // ParityNone
		attrs.Cflag &^= PARENB | PARODD | CMSPAR
	}

	// Linux termios has no 1.5-stop-bit setting; CSTOPB is a single
	// bit meaning "two stop bits" and 1.5 is approximated as 2 (the
	// frame-time pacing in PacedWriter uses the exact 1.5 value, so
	// only the wire-level framing bit is approximated, not the pacing).
	if cfg.StopBits > 1 {
		attrs.Cflag |= CSTOPB
	} else {
		attrs.Cflag &^= CSTOPB
	}

	if cfg.FlowXonXoff {
		attrs.Iflag |= IXON | IXOFF
	} else {
		attrs.Iflag &^= IXON | IXOFF
	}
	if cfg.FlowRtsCts {
		attrs.Cflag |= CRTSCTS
	} else {
		attrs.Cflag &^= CRTSCTS
	}
	// FlowDsrDtr has no Linux termios equivalent (DSR/DTR software
	// flow control isn't a kernel tty feature); it's accepted in
	// config and silently not realized at the termios layer.

	return port.SetAttr2(TCSANOW, attrs)
}

// applyModemOverrides asserts DTR/RTS per spec §4.5: explicit
// overrides win; emulate_modem_signals with both overrides unset
// means assert both.
func applyModemOverrides(port *Port, cfg *config.Serial) error {
	dtr, rts := cfg.DTR, cfg.RTS
	if cfg.EmulateModemSignals && dtr == nil && rts == nil {
		t, r := true, true
		dtr, rts = &t, &r
	}
	if dtr == nil && rts == nil {
		return nil
	}

	var set, clear ModemLine
	if dtr != nil {
		if *dtr {
			set |= TIOCM_DTR
		} else {
			clear |= TIOCM_DTR
		}
	}
	if rts != nil {
		if *rts {
			set |= TIOCM_RTS
		} else {
			clear |= TIOCM_RTS
		}
	}
	if set != 0 {
		if err := port.EnableModemLines(set); err != nil {
			return err
		}
	}
	if clear != 0 {
		if err := port.DisableModemLines(clear); err != nil {
			return err
		}
	}
	return nil
}

func chmodChgrp(path string, mode *uint32, group string) error {
	if mode != nil {
		if err := os.Chmod(path, os.FileMode(*mode)); err != nil {
			return err
		}
	}
	if group == "" {
		return nil
	}
	gid, err := resolveGID(group)
	if err != nil {
		return err
	}
	return syscall.Chown(path, -1, gid)
}

func resolveGID(group string) (int, error) {
	if g, err := user.LookupGroup(group); err == nil {
		return strconv.Atoi(g.Gid)
	}
	return strconv.Atoi(group)
}

// createSymlink places a symlink at path pointing to target. An
// existing plain file at path is left untouched and reported as an
// error (spec §4.5); an existing symlink is replaced.
func createSymlink(path, target string) error {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("%s exists and is not a symlink", path)
		}
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return os.Symlink(target, path)
}
