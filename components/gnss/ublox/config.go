package ublox

import (
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"

	"github.com/milkmansson/ublox-gnss-driver/serial"
	"github.com/milkmansson/ublox-gnss-driver/transport"
	"github.com/milkmansson/ublox-gnss-driver/ubx"
)

const (
	serialStr = "serial"
	i2cStr    = "i2c"
)

var errConnectionTypeValidation = fmt.Errorf("only %q and %q are supported connection types", serialStr, i2cStr)

// Options control the driver's startup behavior.
type Options struct {
	// AutoRun runs the full startup sequence (version detection, debug output, NMEA suppression
	// and subscription) in New. Without it the caller drives Run, DetectDeviceVersion and
	// Configure.
	AutoRun bool
	// ForceProtocolVersion skips detection and configures for this version, e.g. "14.00".
	ForceProtocolVersion string
	// HardwareReset resets the receiver with ResetMode before the receiver loop starts.
	HardwareReset bool
	ResetMode     ubx.ResetMode
	// Clock times command replies. Nil uses the wall clock.
	Clock clock.Clock
}

// DefaultOptions runs the full startup sequence without a reset.
func DefaultOptions() Options {
	return Options{AutoRun: true}
}

// Config is the JSON description of a receiver and how to reach it.
type Config struct {
	ConnectionType string `json:"connection_type"`
	SerialPath     string `json:"serial_path,omitempty"`
	SerialBaudRate int    `json:"serial_baud_rate,omitempty"`
	I2CBus         string `json:"i2c_bus,omitempty"`
	I2CAddr        int    `json:"i2c_addr,omitempty"`

	DisableAutoRun       bool   `json:"disable_auto_run,omitempty"`
	ForceProtocolVersion string `json:"force_protocol_version,omitempty"`
	HardwareReset        bool   `json:"hw_reset,omitempty"`
	ResetMode            string `json:"reset_mode,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	switch strings.ToLower(cfg.ConnectionType) {
	case serialStr:
		if cfg.SerialPath == "" {
			return goutils.NewConfigValidationFieldRequiredError(path, "serial_path")
		}
	case i2cStr:
		if cfg.I2CBus == "" {
			return goutils.NewConfigValidationFieldRequiredError(path, "i2c_bus")
		}
	case "":
		return goutils.NewConfigValidationFieldRequiredError(path, "connection_type")
	default:
		return goutils.NewConfigValidationError(path, errConnectionTypeValidation)
	}

	if cfg.ForceProtocolVersion != "" {
		if _, err := parseVersion(cfg.ForceProtocolVersion); err != nil {
			return goutils.NewConfigValidationError(path, err)
		}
	}
	if _, err := ubx.ParseResetMode(cfg.ResetMode); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// Options derives driver options from the config.
func (cfg *Config) Options() (Options, error) {
	mode, err := ubx.ParseResetMode(cfg.ResetMode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		AutoRun:              !cfg.DisableAutoRun,
		ForceProtocolVersion: cfg.ForceProtocolVersion,
		HardwareReset:        cfg.HardwareReset,
		ResetMode:            mode,
	}, nil
}

// SerialOptions returns the port settings for a serial connection.
func (cfg *Config) SerialOptions() serial.Options {
	baudRate := cfg.SerialBaudRate
	if baudRate == 0 {
		baudRate = serial.DefaultBaudRate
	}
	return serial.Options{BaudRate: baudRate}
}

// I2CAddress returns the configured DDC address or the u-blox default.
func (cfg *Config) I2CAddress() uint16 {
	if cfg.I2CAddr == 0 {
		return transport.DefaultI2CAddr
	}
	return uint16(cfg.I2CAddr)
}
