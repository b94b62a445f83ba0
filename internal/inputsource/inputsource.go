// Package inputsource implements spec §4.4: discovering, scoring,
// selecting, and reading from a Linux evdev input device. It owns the
// only evdev.InputDevice in the process and the only place that
// translates evdev key names to keycodes.
package inputsource

import (
	"fmt"
	"os"
	"strings"

	evdev "github.com/gvalkov/golang-evdev"

	"github.com/Akihiko-Fuji/key2ser/internal/bridgeerr"
	"github.com/Akihiko-Fuji/key2ser/internal/config"
	"github.com/Akihiko-Fuji/key2ser/internal/decoder"
)

// Logger is the minimal structured-logging contract this package
// needs, satisfied by *log.Logger from github.com/charmbracelet/log.
type Logger interface {
	Debug(msg interface{}, keyvals ...interface{})
}

// Source wraps one grabbed-or-not evdev input device.
type Source struct {
	dev    *evdev.InputDevice
	path   string
	grabbed bool
}

// Open implements spec §4.4's "Open rules": explicit path takes
// priority, then vendor/product-id scan.
func Open(cfg *config.Input, logger Logger) (*Source, error) {
	if cfg.DevicePath != "" {
		return openByPath(cfg.DevicePath)
	}
	if cfg.VendorID != nil && cfg.ProductID != nil {
		return openByVidPid(cfg, logger)
	}
	return nil, bridgeerr.New(bridgeerr.KindConfig, "must specify device_path or vendor_id/product_id")
}

func openByPath(path string) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsPermission(err) {
			return nil, bridgeerr.Wrap(bridgeerr.KindDeviceAccess, fmt.Sprintf("permission denied: %s", path), err)
		}
		return nil, bridgeerr.Wrap(bridgeerr.KindDeviceNotFound, path, err)
	}
	dev, err := evdev.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, bridgeerr.Wrap(bridgeerr.KindDeviceAccess, fmt.Sprintf("permission denied: %s", path), err)
		}
		return nil, bridgeerr.Wrap(bridgeerr.KindDeviceAccess, fmt.Sprintf("open %s", path), err)
	}
	return &Source{dev: dev, path: path}, nil
}

type candidate struct {
	dev  *evdev.InputDevice
	path string
}

func openByVidPid(cfg *config.Input, logger Logger) (*Source, error) {
	paths, err := candidatePaths()
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindDeviceAccess, "enumerate input devices via udev", err)
	}

	var candidates []candidate
	sawAccessErr := false
	for _, p := range paths {
		dev, err := evdev.Open(p)
		if err != nil {
			sawAccessErr = true
			continue
		}
		if dev.ID.Vendor != *cfg.VendorID || dev.ID.Product != *cfg.ProductID {
			dev.File.Close()
			continue
		}
		candidates = append(candidates, candidate{dev: dev, path: p})
	}

	if len(candidates) == 0 {
		if sawAccessErr {
			return nil, bridgeerr.New(bridgeerr.KindDeviceAccess, "candidate devices matched but failed to open")
		}
		return nil, bridgeerr.New(bridgeerr.KindDeviceNotFound, fmt.Sprintf("no device with vendor=0x%04x product=0x%04x", *cfg.VendorID, *cfg.ProductID))
	}
	if len(candidates) == 1 {
		return &Source{dev: candidates[0].dev, path: candidates[0].path}, nil
	}
	return selectCandidate(candidates, cfg, logger)
}

// selectCandidate scores every candidate and picks a sole strict
// winner, per spec §4.4's selection rule, closing every other
// candidate either way.
func selectCandidate(candidates []candidate, cfg *config.Input, logger Logger) (*Source, error) {
	preferred := ResolveKeycodes(cfg.PreferredKeys)

	best, second, bestIdx := -1, -1, -1
	for i, c := range candidates {
		s := scoreDevice(c.dev, preferred, cfg.NameHint)
		if logger != nil {
			logger.Debug("input device candidate", "path", c.path, "name", c.dev.Name, "score", s)
		}
		if s > best {
			second = best
			best = s
			bestIdx = i
		} else if s > second {
			second = s
		}
	}

	closeOthers := func(keep int) {
		for i, c := range candidates {
			if i != keep {
				c.dev.File.Close()
			}
		}
	}

	if best > 0 && best > second {
		closeOthers(bestIdx)
		return &Source{dev: candidates[bestIdx].dev, path: candidates[bestIdx].path}, nil
	}
	closeOthers(-1)
	return nil, bridgeerr.New(bridgeerr.KindDeviceNotFound, "multiple matches; specify device")
}

// scoreDevice implements spec §4.4's scoring: +2 for any EV_KEY
// capability overlap with the preferred set, +1 for a case-insensitive
// name-hint substring match against name or physical-location.
func scoreDevice(dev *evdev.InputDevice, preferred map[uint16]struct{}, nameHint string) int {
	score := 0
	for capType, codes := range dev.Capabilities {
		if capType.Name != "EV_KEY" {
			continue
		}
		for _, code := range codes {
			if _, want := preferred[uint16(code.Code)]; want {
				score += 2
				break
			}
		}
	}
	if nameHint != "" {
		hint := strings.ToLower(nameHint)
		haystack := strings.ToLower(dev.Name + " " + dev.Phys)
		if strings.Contains(haystack, hint) {
			score++
		}
	}
	return score
}

// Grab exclusively grabs the device (EVIOCGRAB), per spec §4.4.
func (s *Source) Grab() error {
	if err := s.dev.Grab(); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindDeviceAccess, "grab input device", err)
	}
	s.grabbed = true
	return nil
}

// Fd exposes the raw descriptor for the idle-timeout loop's
// single-fd readiness poll (daedaluz/fdev/poll.WaitInput).
func (s *Source) Fd() int {
	return int(s.dev.File.Fd())
}

// Next blocks for one batch of kernel-flushed input events and
// returns the key-action events among them (spec §4.6's "read a
// batch, dispatch each event"); EV_SYN and other non-key events are
// dropped here so callers never see them.
func (s *Source) Next() ([]decoder.KeyEvent, error) {
	raws, err := s.dev.Read()
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindDeviceAccess, "read input events", err)
	}
	var out []decoder.KeyEvent
	for _, raw := range raws {
		if raw.Type != evdev.EV_KEY {
			continue
		}
		out = append(out, decoder.KeyEvent{Keycode: raw.Code, Action: actionFromValue(raw.Value)})
	}
	return out, nil
}

func actionFromValue(v int32) decoder.Action {
	switch v {
	case 0:
		return decoder.Up
	case 2:
		return decoder.Repeat
	default:
		return decoder.Down
	}
}

// Close releases the grab (if held) and closes the underlying device.
func (s *Source) Close() error {
	if s.grabbed {
		s.dev.Release()
	}
	return s.dev.File.Close()
}
