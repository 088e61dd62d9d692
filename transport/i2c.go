package transport

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultI2CAddr is the factory DDC address of u-blox receivers.
const DefaultI2CAddr = 0x42

// DDC registers.
const (
	ddcRegBytesAvailable = 0xFD
	ddcRegDataStream     = 0xFF
)

// ddcPollInterval is how long a read waits when the receiver has nothing buffered, standing in
// for a serial read timeout.
const ddcPollInterval = 50 * time.Millisecond

// ddcMaxRead bounds a single stream read. Some I2C adapters reject long transfers.
const ddcMaxRead = 255

// DDC is the u-blox "display data channel" I2C interface presented as a byte stream. Reads return
// (0, nil) after a short wait when the receiver has no data, matching a serial read timeout.
type DDC struct {
	mu     sync.Mutex
	dev    conn.Conn
	closer io.Closer
}

// NewDDC wraps an already open device connection.
func NewDDC(dev conn.Conn, closer io.Closer) *DDC {
	return &DDC{dev: dev, closer: closer}
}

// OpenI2C initializes the host drivers and opens the receiver at addr on the named bus, e.g. "1"
// for /dev/i2c-1.
func OpenI2C(busName string, addr uint16) (*DDC, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph host")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open i2c bus %q", busName)
	}
	return NewDDC(&i2c.Dev{Addr: addr, Bus: bus}, bus), nil
}

// Available returns how many bytes the receiver has queued.
func (d *DDC) Available() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available()
}

func (d *DDC) available() (int, error) {
	var count [2]byte
	if err := d.dev.Tx([]byte{ddcRegBytesAvailable}, count[:]); err != nil {
		return 0, errors.Wrap(err, "failed to read ddc byte count")
	}
	return int(binary.BigEndian.Uint16(count[:])), nil
}

// Read reads whatever the receiver has queued, up to len(p).
func (d *DDC) Read(p []byte) (int, error) {
	n, err := d.readLocked(p)
	if err == nil && n == 0 {
		time.Sleep(ddcPollInterval)
	}
	return n, err
}

func (d *DDC) readLocked(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.available()
	if err != nil || n == 0 {
		return 0, err
	}
	n = min(n, len(p), ddcMaxRead)
	if err := d.dev.Tx([]byte{ddcRegDataStream}, p[:n]); err != nil {
		return 0, errors.Wrap(err, "failed to read ddc stream")
	}
	return n, nil
}

// Write sends p to the receiver.
func (d *DDC) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dev.Tx(p, nil); err != nil {
		return 0, errors.Wrap(err, "failed to write ddc")
	}
	return len(p), nil
}

// Close releases the bus.
func (d *DDC) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
