package inputsource

import (
	"fmt"

	"github.com/jochenvg/go-udev"
)

// candidatePaths lists /dev/input/eventN device nodes via udev's
// Enumerate API (the "input" subsystem), the vid/pid scan's source of
// truth in place of a bare filepath.Glob — go-udev is the teacher
// pack's own choice for device discovery (spec §4.4's "udev
// Enumerate, not Monitor: this is a one-shot scan, not a hotplug
// watch").
func candidatePaths() ([]string, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchSubsystem("input"); err != nil {
		return nil, fmt.Errorf("match subsystem input: %w", err)
	}
	if err := e.AddMatchProperty("DEVNAME", "*"); err != nil {
		return nil, fmt.Errorf("match property devname: %w", err)
	}

	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	var paths []string
	for _, d := range devices {
		name := d.Devnode()
		if name == "" {
			continue
		}
		paths = append(paths, name)
	}
	return paths, nil
}
