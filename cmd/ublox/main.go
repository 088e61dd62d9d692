// Package main contains a command to read a u-blox GNSS receiver over serial or I2C.
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/milkmansson/ublox-gnss-driver/components/gnss/ublox"
	"github.com/milkmansson/ublox-gnss-driver/logging"
	"github.com/milkmansson/ublox-gnss-driver/serial"
	"github.com/milkmansson/ublox-gnss-driver/transport"
)

const defaultInterval = time.Second

var logger = logging.NewLogger("ublox")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command. A config file takes precedence over the connection flags.
type Arguments struct {
	ConfigFile           string `flag:"config,usage=path to a JSON receiver config"`
	SerialPath           string `flag:"serial,usage=serial device path"`
	BaudRate             int    `flag:"baud,usage=serial baud rate"`
	I2CBus               string `flag:"i2c,usage=I2C bus name"`
	I2CAddr              int    `flag:"i2c_addr,usage=I2C device address"`
	ForceProtocolVersion string `flag:"protocol,usage=skip detection and assume this protocol version"`
	Reset                string `flag:"reset,usage=hardware reset before starting: hot warm or cold"`
	IntervalMs           int    `flag:"interval,usage=milliseconds between readings"`
	Debug                bool   `flag:"debug,usage=enable debug logging"`
	LogLevel             string `flag:"log_level,usage=debug info warn or error"`
	Trace                bool   `flag:"trace,usage=log each startup command at any log level"`
	LogFile              string `flag:"log_file,usage=also write logs to this file"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.LogLevel != "" {
		level, err := logging.LevelFromString(argsParsed.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}
	if argsParsed.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	if argsParsed.LogFile != "" {
		fileAppender := logging.NewFileAppender(argsParsed.LogFile)
		logger.AddAppender(fileAppender)
		defer func() {
			err = multierr.Combine(err, fileAppender.Close())
		}()
	}
	defer func() {
		err = multierr.Combine(err, logger.Sync())
	}()

	cfg, err := loadConfig(argsParsed)
	if err != nil {
		return err
	}
	if err := cfg.Validate("ublox"); err != nil {
		return err
	}

	interval := defaultInterval
	if argsParsed.IntervalMs > 0 {
		interval = time.Duration(argsParsed.IntervalMs) * time.Millisecond
	}
	return runReceiver(ctx, cfg, interval, argsParsed.Trace, logger)
}

func loadConfig(args Arguments) (*ublox.Config, error) {
	if args.ConfigFile != "" {
		//nolint:gosec
		raw, err := os.ReadFile(args.ConfigFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config")
		}
		var cfg ublox.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %q", args.ConfigFile)
		}
		return &cfg, nil
	}

	cfg := &ublox.Config{
		SerialPath:           args.SerialPath,
		SerialBaudRate:       args.BaudRate,
		I2CBus:               args.I2CBus,
		I2CAddr:              args.I2CAddr,
		ForceProtocolVersion: args.ForceProtocolVersion,
		HardwareReset:        args.Reset != "",
		ResetMode:            args.Reset,
	}
	switch {
	case args.SerialPath != "":
		cfg.ConnectionType = "serial"
	case args.I2CBus != "":
		cfg.ConnectionType = "i2c"
	}
	return cfg, nil
}

func openLink(cfg *ublox.Config) (io.ReadWriteCloser, error) {
	if strings.EqualFold(cfg.ConnectionType, "i2c") {
		return transport.OpenI2C(cfg.I2CBus, cfg.I2CAddress())
	}
	return serial.Open(cfg.SerialPath, cfg.SerialOptions())
}

func runReceiver(ctx context.Context, cfg *ublox.Config, interval time.Duration, trace bool, logger logging.Logger) (err error) {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	link, err := openLink(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, link.Close())
	}()

	startCtx := ctx
	if trace {
		startCtx = logging.EnableDebugMode(ctx, "startup")
	}
	driver, err := ublox.New(startCtx, transport.NewStreamAdapter(link, logger.Sublogger("transport")), logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, driver.Close())
	}()
	if !opts.AutoRun {
		if err := driver.Run(); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var once bool
	for {
		err := func() error {
			defer utils.ContextMainIterFunc(ctx)()
			if !once {
				once = true
				defer utils.ContextMainReadyFunc(ctx)()
			}
			if !utils.SelectContextOrWaitChan(ctx, ticker.C) {
				return ctx.Err()
			}
			if loopErr := driver.Err(); loopErr != nil {
				return loopErr
			}

			if loc, ok := driver.Location(); ok {
				logger.Infow("location",
					"lat", loc.Latitude, "lng", loc.Longitude, "alt", loc.Altitude,
					"hacc", loc.HorizontalAccuracy, "time", loc.Time)
			} else {
				logger.Info("waiting for fix")
			}
			readings, err := driver.Readings(ctx)
			if err != nil {
				logger.Errorw("failed to get readings", "error", err)
			} else {
				logger.Infow("readings", "data", readings)
			}
			return nil
		}()
		if err != nil {
			return err
		}
	}
}
