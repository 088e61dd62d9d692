// Package serial opens serial devices, such as a u-blox receiver's UART or USB CDC port.
package serial

import (
	"io"
	"time"

	"github.com/pkg/errors"
	ser "go.bug.st/serial"
)

// DefaultBaudRate is the factory UART rate of u-blox receivers.
const DefaultBaudRate = 9600

// DefaultReadTimeout bounds how long a read waits for data before returning nothing.
const DefaultReadTimeout = 100 * time.Millisecond

// Options to be passed to Open(), closely mirrors ser.Mode.
type Options struct {
	BaudRate    int
	DataBits    int
	StopBits    StopBits
	Parity      Parity
	ReadTimeout time.Duration
}

// Parity describes a serial port parity setting.
type Parity int

const (
	// NoParity disable parity control (default).
	NoParity Parity = iota
	// OddParity enable odd-parity check.
	OddParity
	// EvenParity enable even-parity check.
	EvenParity
)

// StopBits describe a serial port stop bits setting.
type StopBits int

const (
	// OneStopBit sets 1 stop bit (default).
	OneStopBit StopBits = iota
	// OnePointFiveStopBits sets 1.5 stop bits.
	OnePointFiveStopBits
	// TwoStopBits sets 2 stop bits.
	TwoStopBits
)

// Port is an open serial device. A read that times out returns 0 bytes and a nil error.
type Port interface {
	io.ReadWriteCloser
	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
}

func (o Options) withDefaults() Options {
	if o.BaudRate == 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// Open attempts to open a serial device on the given path. It's a variable
// in case you need to override it during tests.
var Open = func(devicePath string, options Options) (Port, error) {
	options = options.withDefaults()
	mode := &ser.Mode{
		BaudRate: options.BaudRate,
		Parity:   ser.Parity(options.Parity),
		DataBits: options.DataBits,
		StopBits: ser.StopBits(options.StopBits),
	}

	device, err := ser.Open(devicePath, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial device %q", devicePath)
	}
	if err := device.SetReadTimeout(options.ReadTimeout); err != nil {
		return nil, errors.Wrap(err, "failed to set read timeout")
	}

	return device, nil
}
