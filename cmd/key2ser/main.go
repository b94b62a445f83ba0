// Command key2ser bridges a grabbed Linux evdev input device (a
// barcode scanner configured as a USB-HID keyboard) into a serial
// byte stream, either a real UART or a synthesized PTY pair.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/Akihiko-Fuji/key2ser/internal/bridgeerr"
	"github.com/Akihiko-Fuji/key2ser/internal/config"
	"github.com/Akihiko-Fuji/key2ser/internal/keymap"
	"github.com/Akihiko-Fuji/key2ser/internal/supervisor"
)

// Exit codes, spec §7's "typed error kinds, CLI's concern to number".
const (
	exitOK              = 0
	exitConfigError     = 2
	exitDeviceNotFound  = 3
	exitDeviceAccess    = 4
	exitSerialConnection = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = pflag.StringP("config", "c", "/etc/key2ser.yaml", "Path to the YAML configuration file.")
		logLevel   = pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error.")
		devicePath = pflag.StringP("device", "d", "", "Override input.device_path from the configuration file.")
	)
	pflag.Parse()

	logger := log.New(os.Stderr)
	if lvl, err := log.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	}

	cfg, err := loadConfig(*configPath, *devicePath)
	if err != nil {
		logger.Error("configuration error", "err", err)
		return exitConfigError
	}

	sv := &supervisor.Supervisor{
		Config: cfg,
		Keymap: keymap.Default(),
		Log:    logger,
	}

	if err := sv.Run(); err != nil {
		logger.Error("exiting", "err", err)
		return exitCode(err)
	}
	return exitOK
}

func loadConfig(path, deviceOverride string) (*config.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindConfig, fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	var raw config.RawConfig
	if err := yaml.NewDecoder(f).Decode(&raw); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindConfig, fmt.Sprintf("parse %s", path), err)
	}

	if deviceOverride != "" {
		raw.Input.DevicePath = deviceOverride
	}

	return config.Validate(&raw)
}

func exitCode(err error) int {
	switch {
	case bridgeerr.Is(err, bridgeerr.KindConfig):
		return exitConfigError
	case bridgeerr.Is(err, bridgeerr.KindDeviceNotFound):
		return exitDeviceNotFound
	case bridgeerr.Is(err, bridgeerr.KindDeviceAccess):
		return exitDeviceAccess
	case bridgeerr.Is(err, bridgeerr.KindSerialConnection):
		return exitSerialConnection
	default:
		return exitConfigError
	}
}
