package ublox

import (
	"encoding/json"
	"testing"

	"go.viam.com/test"
	goutils "go.viam.com/utils"

	"github.com/milkmansson/ublox-gnss-driver/serial"
	"github.com/milkmansson/ublox-gnss-driver/transport"
	"github.com/milkmansson/ublox-gnss-driver/ubx"
)

func TestValidateConfig(t *testing.T) {
	path := "path"
	for _, tc := range []struct {
		name     string
		cfg      Config
		expected error
	}{
		{
			name:     "missing connection type",
			cfg:      Config{},
			expected: goutils.NewConfigValidationFieldRequiredError(path, "connection_type"),
		},
		{
			name:     "unsupported connection type",
			cfg:      Config{ConnectionType: "spi"},
			expected: goutils.NewConfigValidationError(path, errConnectionTypeValidation),
		},
		{
			name:     "serial without path",
			cfg:      Config{ConnectionType: "serial"},
			expected: goutils.NewConfigValidationFieldRequiredError(path, "serial_path"),
		},
		{
			name:     "i2c without bus",
			cfg:      Config{ConnectionType: "I2C"},
			expected: goutils.NewConfigValidationFieldRequiredError(path, "i2c_bus"),
		},
		{
			name: "valid serial",
			cfg:  Config{ConnectionType: "serial", SerialPath: "/dev/ttyACM0", ForceProtocolVersion: "14.00", ResetMode: "cold"},
		},
		{
			name: "valid i2c",
			cfg:  Config{ConnectionType: "i2c", I2CBus: "1"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate(path)
			if tc.expected == nil {
				test.That(t, err, test.ShouldBeNil)
				return
			}
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldEqual, tc.expected.Error())
		})
	}

	cfg := Config{ConnectionType: "serial", SerialPath: "/dev/ttyACM0", ForceProtocolVersion: "fifteen"}
	err := cfg.Validate(path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "fifteen")

	cfg = Config{ConnectionType: "serial", SerialPath: "/dev/ttyACM0", ResetMode: "lukewarm"}
	err = cfg.Validate(path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "lukewarm")
}

func TestConfigFromJSON(t *testing.T) {
	raw := `{
		"connection_type": "serial",
		"serial_path": "/dev/ttyACM0",
		"force_protocol_version": "14.00",
		"hw_reset": true,
		"reset_mode": "warm",
		"disable_auto_run": true
	}`
	var cfg Config
	test.That(t, json.Unmarshal([]byte(raw), &cfg), test.ShouldBeNil)
	test.That(t, cfg.Validate("ublox"), test.ShouldBeNil)

	opts, err := cfg.Options()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.AutoRun, test.ShouldBeFalse)
	test.That(t, opts.ForceProtocolVersion, test.ShouldEqual, "14.00")
	test.That(t, opts.HardwareReset, test.ShouldBeTrue)
	test.That(t, opts.ResetMode, test.ShouldEqual, ubx.ResetWarmStart)

	test.That(t, cfg.SerialOptions().BaudRate, test.ShouldEqual, serial.DefaultBaudRate)
	cfg.SerialBaudRate = 115200
	test.That(t, cfg.SerialOptions().BaudRate, test.ShouldEqual, 115200)

	test.That(t, cfg.I2CAddress(), test.ShouldEqual, transport.DefaultI2CAddr)
	cfg.I2CAddr = 0x43
	test.That(t, cfg.I2CAddress(), test.ShouldEqual, 0x43)

	test.That(t, DefaultOptions().AutoRun, test.ShouldBeTrue)
}
